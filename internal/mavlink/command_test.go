package mavlink

import (
	"context"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/require"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// fakeTransport is a minimal Transport double that records sent messages
// and never itself produces replies; tests drive confirmation through the
// shared vehicle.State instead, mirroring what the real heartbeat-confirm
// loop observes.
type fakeTransport struct {
	sent []message.Message
}

func (f *fakeTransport) Send(msg message.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context, match func(message.Message) bool, timeout time.Duration) (message.Message, error) {
	return nil, ErrRecvTimeout
}

func (f *fakeTransport) TargetSystem() uint8    { return 1 }
func (f *fakeTransport) TargetComponent() uint8 { return 1 }

func TestSetModeRejectsUnknownMode(t *testing.T) {
	state := vehicle.New()
	state.SetHeartbeat("GUIDED", false)

	exec := NewExecutor(&fakeTransport{}, state)
	err := exec.SetMode("NOT_A_MODE")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.ModeError, appErr.Kind)
}

func TestSetModeRequiresHealthyLink(t *testing.T) {
	state := vehicle.New() // never heartbeated -> unhealthy

	exec := NewExecutor(&fakeTransport{}, state)
	err := exec.SetMode("GUIDED")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.ConnectionError, appErr.Kind)
}

func TestSetModeConfirmsFromHeartbeat(t *testing.T) {
	state := vehicle.New()
	state.SetHeartbeat("STABILIZE", false)

	transport := &fakeTransport{}
	exec := NewExecutor(transport, state)

	go func() {
		time.Sleep(20 * time.Millisecond)
		state.SetHeartbeat("GUIDED", false)
	}()

	err := exec.SetMode("GUIDED")
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
}

func TestArmTimesOutWithoutConfirmation(t *testing.T) {
	t.Skip("exercises the full 5s confirmation timeout; skipped to keep the suite fast")
}
