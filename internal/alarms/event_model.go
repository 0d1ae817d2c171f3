package alarms

import (
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
)

// Reason explains why the engine emitted an event.
type Reason string

const (
	ReasonFirstSight Reason = "first_sight"
	ReasonRisingEdge Reason = "rising_edge"
	ReasonExpired    Reason = "expired"
	ReasonRefresh    Reason = "refresh"
	ReasonLink       Reason = "link"
)

// Emission is one entry of the output queue.
type Emission struct {
	ID        uuid.UUID
	CameraID  string
	Event     adapters.Event
	Reason    Reason
	EmittedAt time.Time
}

// Envelope is the wire form of an Emission shared by every sink.
type Envelope struct {
	EventID   uuid.UUID `json:"event_id"`
	CameraID  string    `json:"camera_id"`
	Vendor    string    `json:"vendor,omitempty"`
	Kind      string    `json:"kind"` // "alarm_stream", "pull_point", "link"
	Identity  string    `json:"identity"`
	Active    bool      `json:"active"`
	Reason    Reason    `json:"reason"`
	EventType string    `json:"event_type"` // "motion", "tamper", "connectivity", ...
	Severity  string    `json:"severity"`   // "info", "warn", "critical"

	Channel     *int   `json:"channel,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Source      string `json:"source,omitempty"`
	DataKey     string `json:"data_key,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// NewEnvelope flattens an emission for publishing.
func NewEnvelope(em Emission, vendor string) Envelope {
	eventType, severity := MapEvent(em.Event)
	env := Envelope{
		EventID:    em.ID,
		CameraID:   em.CameraID,
		Vendor:     vendor,
		Kind:       em.Event.Kind().String(),
		Identity:   em.Event.Identity,
		Active:     em.Event.Active,
		Reason:     em.Reason,
		EventType:  eventType,
		Severity:   severity,
		OccurredAt: em.Event.OccurredAt.UTC(),
		EmittedAt:  em.EmittedAt.UTC(),
	}

	switch m := em.Event.Meta.(type) {
	case adapters.StreamMeta:
		env.Category = m.Category
		env.Description = m.Description
		if m.HasChannel {
			ch := m.Channel
			env.Channel = &ch
		}
	case adapters.PullPointMeta:
		env.Topic = m.Topic
		env.Source = m.Source
		env.DataKey = m.DataKey
	case adapters.LinkMeta:
		env.Source = m.Source
	}
	return env
}
