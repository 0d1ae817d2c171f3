package hikvision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/metrics"
)

const (
	// SourceName labels this adapter in link events, logs and metrics.
	SourceName = "alarm_stream"

	alertStreamPath = "/ISAPI/Event/notification/alertStream"
	defaultBoundary = "boundary"
)

// Variant captures the device-specific stream behaviour.
type Variant struct {
	Name              string
	InactivityTimeout time.Duration
	// Channels marks multi-channel devices (NVR/DVR) whose identities carry
	// a channel number; frames without a channel id are dropped.
	Channels bool
}

var variants = map[string]Variant{
	"camera":    {Name: "camera", InactivityTimeout: 15 * time.Second},
	"long_poll": {Name: "long_poll", InactivityTimeout: 120 * time.Second},
	"nvr":       {Name: "nvr", InactivityTimeout: 120 * time.Second, Channels: true},
}

// LookupVariant returns the named variant; an empty name selects "camera".
func LookupVariant(name string) (Variant, error) {
	if name == "" {
		name = "camera"
	}
	v, ok := variants[strings.ToLower(name)]
	if !ok {
		return Variant{}, fmt.Errorf("hikvision: unknown stream variant %q", name)
	}
	return v, nil
}

// Adapter reads the ISAPI multipart alert stream of one device.
type Adapter struct {
	target    adapters.Target
	cred      adapters.Credential
	variant   Variant
	transport http.RoundTripper
	client    *http.Client
	clock     adapters.Clock
	announced bool
}

func NewAdapter(target adapters.Target, cred adapters.Credential, opts adapters.Options) (*Adapter, error) {
	v, err := LookupVariant(opts.Variant)
	if err != nil {
		return nil, err
	}
	if opts.InactivityTimeout > 0 {
		v.InactivityTimeout = opts.InactivityTimeout
	}

	a := &Adapter{
		target:    target,
		cred:      cred,
		variant:   v,
		transport: opts.HTTPTransport,
		clock:     adapters.ClockOrDefault(opts.Clock),
	}
	a.client = a.newClient()
	return a, nil
}

func init() {
	adapters.Register("hikvision", func(target adapters.Target, cred adapters.Credential, opts adapters.Options) (adapters.EventSource, error) {
		return NewAdapter(target, cred, opts)
	})
}

func (a *Adapter) Kind() string {
	return SourceName
}

// Variant returns the effective variant, including timeout overrides.
func (a *Adapter) Variant() Variant {
	return a.variant
}

func (a *Adapter) newClient() *http.Client {
	if a.transport != nil {
		return &http.Client{Transport: a.transport}
	}
	// No overall Timeout: the stream is unbounded. Liveness is enforced by
	// the per-line inactivity race in Run.
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   adapters.DefaultTimeout * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 2 * adapters.DefaultTimeout * time.Second,
			MaxIdleConnsPerHost:   1,
		},
	}
}

// Reset drops the HTTP client and any pooled connection from a failed run.
func (a *Adapter) Reset() {
	a.client.CloseIdleConnections()
	a.client = a.newClient()
}

func (a *Adapter) streamURL() string {
	scheme := a.target.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := a.target.Port
	if port == 0 {
		port = 80
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(a.target.Host, fmt.Sprint(port)), alertStreamPath)
}

func (a *Adapter) emitLink(ctx context.Context, sink adapters.Sink, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	metrics.LinkUp.WithLabelValues(a.target.CameraID, SourceName).Set(v)
	if err := sink.ProcessNewAlarm(ctx, adapters.LinkEvent(SourceName, up, a.clock.Now())); err != nil {
		logger.DebugKV(ctx, "link event not delivered", "up", up, "err", err)
	}
}

// Run opens the alert stream and forwards complete frames to sink until the
// server closes the stream (nil), the inactivity timeout fires
// (ErrStreamTimeout) or ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, sink adapters.Sink) error {
	if !a.announced {
		a.emitLink(ctx, sink, false)
		a.announced = true
	}
	defer a.emitLink(ctx, sink, false)

	url := a.streamURL()
	resp, err := a.doRequest(ctx, http.MethodGet, url)
	if err != nil {
		return fmt.Errorf("hikvision: open alert stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hikvision: alert stream status %d", resp.StatusCode)
	}

	boundaryLine := "--" + boundaryFromHeader(resp.Header.Get("Content-Type"))
	logger.InfoKV(ctx, "alert stream connected", "url", adapters.SanitizeURL(url),
		"variant", a.variant.Name, "timeout", a.variant.InactivityTimeout)
	a.emitLink(ctx, sink, true)

	done := make(chan struct{})
	defer close(done)
	lines := make(chan lineResult)
	go readLines(bufio.NewReader(resp.Body), lines, done)

	timer := time.NewTimer(a.variant.InactivityTimeout)
	defer timer.Stop()

	var fr frame
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			metrics.StreamTimeoutsTotal.WithLabelValues(a.target.CameraID).Inc()
			return fmt.Errorf("%w after %s", adapters.ErrStreamTimeout, a.variant.InactivityTimeout)
		case res, ok := <-lines:
			if !ok || errors.Is(res.err, io.EOF) {
				logger.InfoKV(ctx, "alert stream closed by device")
				return nil
			}
			if res.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("hikvision: read alert stream: %w", res.err)
			}
			timer.Reset(a.variant.InactivityTimeout)

			if !fr.feed(res.line, boundaryLine) {
				continue
			}
			ev, complete := fr.build(a.variant, a.clock.Now())
			if !complete && fr.seen {
				metrics.FramesDroppedTotal.WithLabelValues(a.target.CameraID, SourceName).Inc()
			}
			fr.reset()
			if !complete {
				continue
			}
			if err := sink.ProcessNewAlarm(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// doRequest attaches basic credentials unless a custom transport handles auth.
func (a *Adapter) doRequest(ctx context.Context, method, urlStr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}
	if a.transport == nil && a.cred.Username != "" {
		req.SetBasicAuth(a.cred.Username, a.cred.Password)
	}
	return a.client.Do(req)
}

func boundaryFromHeader(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultBoundary
	}
	if b := strings.TrimSpace(params["boundary"]); b != "" {
		return strings.TrimPrefix(b, "--")
	}
	return defaultBoundary
}

type lineResult struct {
	line string
	err  error
}

// readLines feeds lines to out until a read error, which is sent last.
func readLines(r *bufio.Reader, out chan<- lineResult, done <-chan struct{}) {
	defer close(out)
	for {
		line, err := readLine(r)
		if err != nil {
			select {
			case out <- lineResult{err: err}:
			case <-done:
			}
			return
		}
		select {
		case out <- lineResult{line: line}:
		case <-done:
			return
		}
	}
}

// readLine returns the next line without its terminator. Lines longer than
// MaxLineLength come back empty so binary parts cannot exhaust memory.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	skipping := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		if !skipping {
			if len(buf)+len(chunk) > adapters.MaxLineLength {
				buf = nil
				skipping = true
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			if skipping {
				return "", nil
			}
			return string(buf), nil
		}
	}
}
