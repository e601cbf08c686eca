package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/VisorEngine/internal/action"
	"github.com/AaronLay10/VisorEngine/internal/clock"
)

var _ action.Commander = (*Commander)(nil)

func newTestCommander() (*Commander, *MockMQTTClient) {
	mock := NewMockMQTTClient()
	registry := NewControllerRegistry()
	registry.Register(&Controller{ID: "pad-1", CommandTopic: "cmd/pad-1", Signals: []string{"press", "stick"}})
	at := time.UnixMilli(1717243200123).UTC()
	return NewCommander(mock, registry, clock.NewManual(at)), mock
}

func TestCommander_Publishes(t *testing.T) {
	cmd, mock := newTestCommander()

	err := cmd.Command(context.Background(), "pad-1", "press", map[string]interface{}{"button": "A"})
	require.NoError(t, err)

	require.Len(t, mock.published, 1)
	assert.Equal(t, "cmd/pad-1", mock.published[0].topic)

	var msg CommandMessage
	require.NoError(t, json.Unmarshal(mock.published[0].payload, &msg))
	assert.Equal(t, "press", msg.Signal)
	assert.Equal(t, "A", msg.Payload["button"])
	assert.Equal(t, int64(1717243200123), msg.Timestamp)
}

func TestCommander_RejectsUnknownSignal(t *testing.T) {
	cmd, mock := newTestCommander()

	err := cmd.Command(context.Background(), "pad-1", "jump", nil)
	require.Error(t, err)
	assert.Empty(t, mock.published)

	err = cmd.Command(context.Background(), "ghost", "press", nil)
	require.Error(t, err)
	assert.Empty(t, mock.published)
}

func TestCommander_NotConnected(t *testing.T) {
	cmd, mock := newTestCommander()
	mock.connected = false

	err := cmd.Command(context.Background(), "pad-1", "press", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCommander_CancelledContext(t *testing.T) {
	cmd, mock := newTestCommander()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cmd.Command(ctx, "pad-1", "press", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mock.published)
}

func TestCommander_ThroughCommandOp(t *testing.T) {
	cmd, mock := newTestCommander()

	op := action.Command{Commander: cmd, Controller: "pad-1", Signal: "stick", Payload: map[string]interface{}{"x": 0.5}}
	assert.True(t, op.Execute(context.Background()))
	require.Len(t, mock.published, 1)
}
