package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/technosupport/ts-alarms/internal/logger"
)

const (
	DefaultPollInterval = 60 * time.Second
	settleDelay         = 100 * time.Millisecond
)

// Watcher reloads the config file when it changes and hands every valid
// result to OnChange. Invalid edits are logged and the previous config stays.
type Watcher struct {
	Path         string
	OnChange     func(ctx context.Context, cfg *Config)
	PollInterval time.Duration

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

func NewWatcher(path string, onChange func(ctx context.Context, cfg *Config)) *Watcher {
	w := &Watcher{Path: path, OnChange: onChange, PollInterval: DefaultPollInterval}
	w.changed() // record the state of the file that was loaded at startup
	return w
}

// Start watches with fsnotify and also polls, so a missed or unsupported
// notification still gets picked up. It returns when ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		logger.WarnKV(ctx, "config watcher: fsnotify unavailable, polling only", "err", err)
		usePolling = true
	} else if err := watcher.Add(filepath.Dir(w.Path)); err != nil {
		// Watch the directory: editors and config management replace the file.
		logger.WarnKV(ctx, "config watcher: cannot watch directory, polling only", "path", w.Path, "err", err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go w.watch(ctx, watcher)
	}

	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ReloadIfChanged(ctx)
		}
	}
}

func (w *Watcher) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	name := filepath.Clean(w.Path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				// Let the writer finish.
				time.Sleep(settleDelay)
				w.ReloadIfChanged(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WarnKV(ctx, "config watcher error", "err", err)
		}
	}
}

// changed compares the file's mtime and size with the last seen values.
func (w *Watcher) changed() bool {
	fi, err := os.Stat(w.Path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if fi.ModTime().Equal(w.modTime) && fi.Size() == w.size {
		return false
	}
	w.modTime = fi.ModTime()
	w.size = fi.Size()
	return true
}

// ReloadIfChanged loads the file only when its mtime or size moved, so the
// poll loop does not re-apply an unchanged config.
func (w *Watcher) ReloadIfChanged(ctx context.Context) bool {
	if !w.changed() {
		return false
	}
	cfg, err := Load(w.Path)
	if err != nil {
		logger.ErrorKV(ctx, "config reload rejected", "path", w.Path, "err", err)
		return false
	}
	logger.InfoKV(ctx, "config reloaded", "path", w.Path, "cameras", len(cfg.Cameras))
	if w.OnChange != nil {
		w.OnChange(ctx, cfg)
	}
	return true
}
