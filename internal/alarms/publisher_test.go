package alarms

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Publish(subj string, data []byte) error {
	args := m.Called(subj, data)
	return args.Error(0)
}

func sampleEnvelope(identity string, active bool) Envelope {
	return Envelope{
		EventID:    uuid.New(),
		CameraID:   "lobby.cam",
		Kind:       "alarm_stream",
		Identity:   identity,
		Active:     active,
		Reason:     ReasonFirstSight,
		EventType:  "motion",
		Severity:   "info",
		OccurredAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		EmittedAt:  time.Date(2024, 3, 1, 9, 0, 1, 0, time.UTC),
	}
}

func TestNATSPublisher_RetriesThenSucceeds(t *testing.T) {
	conn := new(mockConn)
	conn.On("Publish", "alarms.lobby_cam.alarm_stream", mock.Anything).Return(errors.New("slow consumer")).Once()
	conn.On("Publish", "alarms.lobby_cam.alarm_stream", mock.Anything).Return(nil).Once()

	p := newNATSPublisher(conn, "", 2)
	require.NoError(t, p.Publish(context.Background(), sampleEnvelope("Motion Detection", true)))
	conn.AssertNumberOfCalls(t, "Publish", 2)

	data := conn.Calls[1].Arguments.Get(1).([]byte)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "Motion Detection", env.Identity)
}

func TestNATSPublisher_GivesUp(t *testing.T) {
	conn := new(mockConn)
	conn.On("Publish", mock.Anything, mock.Anything).Return(errors.New("disconnected"))

	p := newNATSPublisher(conn, "site1", 1)
	err := p.Publish(context.Background(), sampleEnvelope("x", true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 retries")
	conn.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRedisPublisher(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, DefaultRedisChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(rdb, "", time.Hour)
	require.NoError(t, p.Publish(ctx, sampleEnvelope("Motion Detection", true)))
	require.NoError(t, p.Publish(ctx, sampleEnvelope("Motion Detection", false)))
	require.NoError(t, p.Publish(ctx, sampleEnvelope("Video Loss", true)))

	states, err := p.LatestStates(ctx, "lobby.cam")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.False(t, states["Motion Detection"].Active)
	assert.True(t, states["Video Loss"].Active)
	assert.Greater(t, mr.TTL(StateKey("lobby.cam")), time.Duration(0))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "Motion Detection", env.Identity)
	assert.True(t, env.Active)
}
