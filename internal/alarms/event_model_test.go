package alarms

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/alarms/adapters"
)

func TestNewEnvelope_Stream(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	em := Emission{
		ID:       uuid.New(),
		CameraID: "nvr-1",
		Event: adapters.Event{
			Identity:   "Motion Detection (Channel 2)",
			Active:     true,
			OccurredAt: at,
			Meta:       adapters.StreamMeta{EventType: "VMD", Category: "Motion Detection", Channel: 2, HasChannel: true},
		},
		Reason:    ReasonRisingEdge,
		EmittedAt: at.Add(time.Second),
	}

	env := NewEnvelope(em, "hikvision")
	assert.Equal(t, "motion", env.EventType)
	assert.Equal(t, "info", env.Severity)
	assert.Equal(t, "alarm_stream", env.Kind)
	require.NotNil(t, env.Channel)
	assert.Equal(t, 2, *env.Channel)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "rising_edge", m["reason"])
	assert.Equal(t, "hikvision", m["vendor"])
	assert.NotContains(t, m, "topic")
}

func TestMapEvent(t *testing.T) {
	cases := []struct {
		ev       adapters.Event
		typ, sev string
	}{
		{adapters.LinkEvent("pull_point", false, time.Time{}), "connectivity", "warn"},
		{adapters.LinkEvent("pull_point", true, time.Time{}), "connectivity", "info"},
		{adapters.Event{Meta: adapters.StreamMeta{EventType: "shelteralarm"}}, "tamper", "warn"},
		{adapters.Event{Meta: adapters.StreamMeta{EventType: "linedetection"}}, "intrusion", "warn"},
		{adapters.Event{Meta: adapters.StreamMeta{EventType: "videoloss"}}, "video_loss", "critical"},
		{adapters.Event{Meta: adapters.StreamMeta{EventType: "IO"}}, "input", "warn"},
		{adapters.Event{Meta: adapters.PullPointMeta{Topic: "RuleEngine/CellMotionDetector/Motion"}}, "motion", "info"},
		{adapters.Event{Meta: adapters.PullPointMeta{Topic: "Device/Trigger/DigitalInput"}}, "input", "warn"},
		{adapters.Event{Meta: adapters.PullPointMeta{Topic: "Monitoring/ProcessorUsage"}}, "unknown", "info"},
	}
	for _, tc := range cases {
		typ, sev := MapEvent(tc.ev)
		assert.Equal(t, tc.typ, typ, tc.ev.Identity)
		assert.Equal(t, tc.sev, sev)
	}
}
