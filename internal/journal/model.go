package journal

import (
	"time"

	"github.com/technosupport/ts-alarms/internal/alarms"
)

// FailoverEntry wraps an envelope in the JSONL spool.
type FailoverEntry struct {
	EventID   string          `json:"event_id"`
	CameraID  string          `json:"camera_id"`
	Payload   alarms.Envelope `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Filter selects journal rows, newest first.
type Filter struct {
	CameraID string
	Identity string
	Active   *bool
	Since    *time.Time
	Limit    int
	// Cursor is the row id of the last entry of the previous page.
	Cursor int64
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
