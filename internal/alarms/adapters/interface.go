package adapters

import (
	"context"
	"net/http"
	"time"
)

// Target identifies the camera endpoint a source connects to.
type Target struct {
	CameraID string
	Host     string
	Port     int
	Scheme   string // "http" unless configured otherwise
	Vendor   string
}

// Credential for the camera (in-memory only).
type Credential struct {
	Username string
	Password string
}

// Options carries per-source tuning from configuration. Zero values select
// the variant defaults.
type Options struct {
	// Variant selects the stream reader flavour ("camera", "long_poll", "nvr").
	Variant string
	// InactivityTimeout overrides the variant's read timeout.
	InactivityTimeout time.Duration
	// TerminationTime is the pull-point subscription lifetime.
	TerminationTime time.Duration
	// MessageLimit caps one PullMessages call; zero or above
	// MaxPullMessages means MaxPullMessages.
	MessageLimit int
	// Clock is used for renewal timing; nil means wall clock.
	Clock Clock
	// HTTPTransport lets the host plug in digest auth or pooling; nil uses
	// a default transport with basic auth.
	HTTPTransport http.RoundTripper
}

// Kind tags the protocol-specific metadata carried by an Event.
type Kind int

const (
	KindAlarmStream Kind = iota
	KindPullPoint
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindAlarmStream:
		return "alarm_stream"
	case KindPullPoint:
		return "pull_point"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Metadata is the protocol payload of an Event. The engine never inspects it.
type Metadata interface {
	Kind() Kind
}

// StreamMeta describes an alarm read from the multipart alert stream.
type StreamMeta struct {
	EventType   string `json:"event_type"`
	Category    string `json:"category"`
	Channel     int    `json:"channel,omitempty"`
	HasChannel  bool   `json:"has_channel,omitempty"`
	Description string `json:"description,omitempty"`
}

func (StreamMeta) Kind() Kind { return KindAlarmStream }

// PullPointMeta keeps the uncompacted components of a pull-point identity.
type PullPointMeta struct {
	Topic     string `json:"topic"`
	Source    string `json:"source,omitempty"`
	DataKey   string `json:"data_key"`
	Operation string `json:"operation,omitempty"` // Initialized, Changed, Deleted
}

func (PullPointMeta) Kind() Kind { return KindPullPoint }

// LinkMeta marks a synthetic connectivity event for an ingestion link.
type LinkMeta struct {
	Source string `json:"source"`
}

func (LinkMeta) Kind() Kind { return KindLink }

// Event is the normalized alarm shape shared by every source.
// Treat it as immutable; use WithActive to derive a changed copy.
type Event struct {
	Identity   string
	Active     bool
	OccurredAt time.Time
	Meta       Metadata
}

// WithActive returns a copy of e with Active replaced.
func (e Event) WithActive(active bool) Event {
	e.Active = active
	return e
}

// Kind reports the metadata kind, defaulting to KindAlarmStream when unset.
func (e Event) Kind() Kind {
	if e.Meta == nil {
		return KindAlarmStream
	}
	return e.Meta.Kind()
}

// IsLink reports whether e is a connectivity event.
func (e Event) IsLink() bool {
	return e.Kind() == KindLink
}

// LinkEvent builds the connectivity event for a source.
func LinkEvent(source string, up bool, at time.Time) Event {
	return Event{
		Identity:   source + " link",
		Active:     up,
		OccurredAt: at,
		Meta:       LinkMeta{Source: source},
	}
}

// Sink receives normalized events. The debounce engine implements it.
type Sink interface {
	ProcessNewAlarm(ctx context.Context, ev Event) error
}

// EventSource is one protocol adapter bound to one camera.
type EventSource interface {
	// Run ingests until the connection ends, fails, or ctx is cancelled.
	// A nil return means the server closed the stream.
	Run(ctx context.Context, sink Sink) error

	// Reset releases half-open connections or cached clients left by a
	// failed Run so the next Run starts clean.
	Reset()

	// Kind string (alarm_stream, pull_point)
	Kind() string
}

// Factory builds a source for a camera.
type Factory func(target Target, cred Credential, opts Options) (EventSource, error)
