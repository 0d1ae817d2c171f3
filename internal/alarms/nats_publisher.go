package alarms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subj string, data []byte) error
}

var _ natsConn = (*nats.Conn)(nil)

// NATSPublisher publishes envelopes to "<prefix>.<camera>.<kind>".
type NATSPublisher struct {
	conn       natsConn
	prefix     string
	maxRetries int
}

func NewNATSPublisher(conn *nats.Conn, prefix string, maxRetries int) *NATSPublisher {
	return newNATSPublisher(conn, prefix, maxRetries)
}

func newNATSPublisher(conn natsConn, prefix string, maxRetries int) *NATSPublisher {
	if prefix == "" {
		prefix = "alarms"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, maxRetries: maxRetries}
}

func (p *NATSPublisher) Name() string { return "nats" }

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

func (p *NATSPublisher) Subject(env Envelope) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(env.CameraID), env.Kind)
}

func (p *NATSPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	subject := p.Subject(env)

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i*100) * time.Millisecond):
		}
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
