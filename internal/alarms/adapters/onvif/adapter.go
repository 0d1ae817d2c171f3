package onvif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/metrics"
)

const (
	// SourceName labels this adapter in link events, logs and metrics.
	SourceName = "pull_point"

	deviceServicePath = "/onvif/device_service"

	DefaultTerminationTime = 60 * time.Second
	// MinTerminationTime keeps the renew period (half the lifetime) at 1s or more.
	MinTerminationTime = 2 * time.Second
	// PullWait is the server-side long-poll of one PullMessages call.
	PullWait = 5 * time.Second

	callTimeout        = 2 * adapters.DefaultTimeout * time.Second
	unsubscribeTimeout = 2 * time.Second
)

// session is the negotiated state reused across runs until invalidated.
type session struct {
	soap      *SOAPClient
	eventsURL string
}

// Adapter consumes ONVIF pull-point notifications for one camera.
type Adapter struct {
	target      adapters.Target
	cred        adapters.Credential
	termination time.Duration
	limit       int
	transport   http.RoundTripper
	clock       adapters.Clock

	httpClient *http.Client
	session    *session
}

func NewAdapter(target adapters.Target, cred adapters.Credential, opts adapters.Options) (*Adapter, error) {
	termination := opts.TerminationTime
	if termination <= 0 {
		termination = DefaultTerminationTime
	}
	if termination < MinTerminationTime {
		return nil, fmt.Errorf("onvif: termination time %s too short", termination)
	}

	a := &Adapter{
		target:      target,
		cred:        cred,
		termination: termination,
		limit:       adapters.ConstrainLimits(opts.MessageLimit, adapters.MaxPullMessages),
		transport:   opts.HTTPTransport,
		clock:       adapters.ClockOrDefault(opts.Clock),
	}
	a.httpClient = a.newHTTPClient()
	return a, nil
}

func init() {
	adapters.Register("onvif", func(target adapters.Target, cred adapters.Credential, opts adapters.Options) (adapters.EventSource, error) {
		return NewAdapter(target, cred, opts)
	})
}

func (a *Adapter) Kind() string {
	return SourceName
}

func (a *Adapter) newHTTPClient() *http.Client {
	if a.transport != nil {
		return &http.Client{Transport: a.transport}
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   adapters.DefaultTimeout * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost: 2,
		},
	}
}

// Reset drops the negotiated client so the next Run negotiates again.
func (a *Adapter) Reset() {
	a.session = nil
	a.httpClient.CloseIdleConnections()
	a.httpClient = a.newHTTPClient()
}

func (a *Adapter) deviceURL() string {
	scheme := a.target.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := a.target.Port
	if port == 0 {
		port = 80
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(a.target.Host, strconv.Itoa(port)), deviceServicePath)
}

// negotiate measures the device clock offset, then locates the events
// service and checks pull-point support.
func (a *Adapter) negotiate(ctx context.Context) (*session, error) {
	soap := NewSOAPClient(a.cred.Username, a.cred.Password, a.httpClient)
	device := a.deviceURL()

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	deviceTime, err := soap.GetSystemDateAndTime(callCtx, device)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get system date and time: %w", err)
	}
	offset := deviceTime.Sub(time.Now().UTC())
	soap.SetClockOffset(offset)

	callCtx, cancel = context.WithTimeout(ctx, callTimeout)
	caps, err := soap.GetEventCapabilities(callCtx, device)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get capabilities: %w", err)
	}
	if caps.XAddr == "" || !caps.WSPullPointSupport {
		return nil, adapters.ErrPullPointUnsupported
	}

	logger.InfoKV(ctx, "onvif negotiated", "device", adapters.SanitizeURL(device),
		"events", adapters.SanitizeURL(caps.XAddr), "clock_offset", offset.Round(time.Second),
		"user", adapters.HashCredential(a.cred.Username, a.cred.Password))
	return &session{soap: soap, eventsURL: caps.XAddr}, nil
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

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ctx.Err()))
}

// Run subscribes and pulls notifications until ctx is cancelled or a call
// fails. Any failure other than cancellation invalidates the negotiated
// client; cancellation unsubscribes before returning.
func (a *Adapter) Run(ctx context.Context, sink adapters.Sink) (err error) {
	defer func() {
		if err != nil && !isCancellation(ctx, err) {
			a.session = nil
		}
	}()

	if a.session == nil {
		s, err := a.negotiate(ctx)
		if err != nil {
			return fmt.Errorf("onvif: negotiate: %w", err)
		}
		a.session = s
	}
	soap := a.session.soap

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	sub, err := soap.CreatePullPointSubscription(callCtx, a.session.eventsURL, a.termination)
	cancel()
	if err != nil {
		return fmt.Errorf("onvif: create pull point subscription: %w", err)
	}

	a.emitLink(ctx, sink, true)
	defer a.emitLink(ctx, sink, false)
	logger.InfoKV(ctx, "pull point subscribed", "subscription", adapters.SanitizeURL(sub.Address),
		"termination", a.termination)

	err = a.pullLoop(ctx, soap, sub, sink)
	if isCancellation(ctx, err) {
		// ctx is done; detach so the device can release the subscription.
		uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
		if uerr := soap.Unsubscribe(uctx, sub.Address); uerr != nil {
			logger.WarnKV(ctx, "unsubscribe failed", "err", uerr)
		}
		ucancel()
	}
	return err
}

func (a *Adapter) pullLoop(ctx context.Context, soap *SOAPClient, sub Subscription, sink adapters.Sink) error {
	renewEvery := a.termination / 2
	var sinceRenew adapters.Stopwatch
	sinceRenew.Restart(a.clock.Now())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if sinceRenew.Elapsed(a.clock.Now()) >= renewEvery {
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			err := soap.Renew(callCtx, sub.Address, a.termination)
			cancel()
			if err != nil {
				metrics.SubscriptionRenewalsTotal.WithLabelValues(a.target.CameraID, "error").Inc()
				return fmt.Errorf("onvif: renew: %w", err)
			}
			metrics.SubscriptionRenewalsTotal.WithLabelValues(a.target.CameraID, "ok").Inc()
			sinceRenew.Restart(a.clock.Now())
		}

		callCtx, cancel := context.WithTimeout(ctx, PullWait+callTimeout)
		msgs, err := soap.PullMessages(callCtx, sub.Address, PullWait, a.limit)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("onvif: pull messages: %w", err)
		}

		now := a.clock.Now()
		for _, m := range msgs {
			ev, ok := eventFromMessage(m, now)
			if !ok {
				metrics.FramesDroppedTotal.WithLabelValues(a.target.CameraID, SourceName).Inc()
				continue
			}
			if err := sink.ProcessNewAlarm(ctx, ev); err != nil {
				return err
			}
		}
	}
}
