package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/logger"
)

const (
	spoolFile             = "journal_spool.log"
	DefaultMaxSpoolBytes  = 256 * 1024 * 1024
	DefaultReplayInterval = 30 * time.Second
)

// ErrSpoolFull means the spool directory reached its size limit.
var ErrSpoolFull = errors.New("journal spool full")

// Spool is a JSONL file of envelopes awaiting insertion.
type Spool struct {
	dir      string
	maxBytes int64

	mu       sync.Mutex
	replayMu sync.Mutex
}

func NewSpool(dir string, maxBytes int64) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("journal spool directory is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSpoolBytes
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Spool{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Spool) path() string { return filepath.Join(s.dir, spoolFile) }

// Append writes one envelope to the spool file.
func (s *Spool) Append(env alarms.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size() >= s.maxBytes {
		return ErrSpoolFull
	}

	line, err := json.Marshal(FailoverEntry{
		EventID:   env.EventID.String(),
		CameraID:  env.CameraID,
		Payload:   env,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *Spool) size() int64 {
	var size int64
	_ = filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

// Pending reports whether spooled entries wait for replay.
func (s *Spool) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(s.path())
	return err == nil && info.Size() > 0
}

// Replay moves the spool aside and feeds every entry to write. Entries that
// fail again are expected to be re-spooled by write itself.
func (s *Spool) Replay(ctx context.Context, write func(context.Context, alarms.Envelope) error) (int, error) {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()

	s.mu.Lock()
	info, err := os.Stat(s.path())
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		s.mu.Unlock()
		return 0, nil
	}
	replayFile := filepath.Join(s.dir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	err = os.Rename(s.path(), replayFile)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("rotate spool for replay: %w", err)
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	succeeded := 0
	for scanner.Scan() {
		var fe FailoverEntry
		if err := json.Unmarshal(scanner.Bytes(), &fe); err != nil {
			continue
		}
		if err := write(ctx, fe.Payload); err == nil {
			succeeded++
		}
	}
	scanErr := scanner.Err()
	f.Close()
	if err := os.Remove(replayFile); err != nil {
		return succeeded, err
	}
	return succeeded, scanErr
}

// StartReplayer replays the spool into the database every interval.
func (s *Service) StartReplayer(ctx context.Context, interval time.Duration) {
	if s.Spool == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Spool.Replay(ctx, s.WriteEntry)
				if err != nil {
					logger.ErrorKV(ctx, "journal replay failed", "err", err)
				}
				if n > 0 {
					logger.InfoKV(ctx, "journal replay flushed", "entries", n)
				}
			}
		}
	}()
}
