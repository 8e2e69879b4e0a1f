package mission

import (
	"context"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/require"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/mavlink"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// scriptedTransport replays a fixed queue of inbound messages in order and
// records every outbound send, letting the upload/start handshakes be
// driven deterministically without a real link.
type scriptedTransport struct {
	sent  []message.Message
	queue []message.Message
	idx   int
}

func (t *scriptedTransport) Send(msg message.Message) error {
	t.sent = append(t.sent, msg)
	return nil
}

func (t *scriptedTransport) Recv(ctx context.Context, match func(message.Message) bool, timeout time.Duration) (message.Message, error) {
	if t.idx >= len(t.queue) {
		return nil, mavlink.ErrRecvTimeout
	}
	msg := t.queue[t.idx]
	t.idx++
	if !match(msg) {
		return nil, mavlink.ErrRecvTimeout
	}
	return msg, nil
}

func (t *scriptedTransport) TargetSystem() uint8    { return 1 }
func (t *scriptedTransport) TargetComponent() uint8 { return 1 }

type fakeModeExecutor struct {
	err  error
	mode string
}

func (f *fakeModeExecutor) SetMode(name string) error {
	f.mode = name
	return f.err
}

func healthySnapshotState() *vehicle.State {
	s := vehicle.New()
	s.SetHeartbeat("GUIDED", true)
	s.SetGPS(3, 12)
	s.SetBattery(80, 16.8, 4.2)
	return s
}

func TestUploadContractWithReturnToHome(t *testing.T) {
	transport := &scriptedTransport{queue: []message.Message{
		&common.MessageMissionAck{},
		&common.MessageMissionRequestInt{Seq: 0},
		&common.MessageMissionRequestInt{Seq: 1},
		&common.MessageMissionRequestInt{Seq: 2},
		&common.MessageMissionAck{},
	}}
	state := healthySnapshotState()
	engine := NewEngine(transport, state, eventlog.New(), &fakeModeExecutor{})

	waypoints := []Waypoint{{Lat: 37.0, Lon: -122.0, Alt: 50}, {Lat: 37.001, Lon: -122.001, Alt: 50}}
	err := engine.Upload(waypoints, Settings{Altitude: 50, Speed: 5, ReturnToHome: true})
	require.NoError(t, err)

	require.Len(t, transport.sent, 5)
	require.IsType(t, &common.MessageMissionClearAll{}, transport.sent[0])
	count, ok := transport.sent[1].(*common.MessageMissionCount)
	require.True(t, ok)
	require.Equal(t, uint16(3), count.Count)

	item0 := transport.sent[2].(*common.MessageMissionItemInt)
	require.Equal(t, uint16(0), item0.Seq)
	require.Equal(t, common.MAV_CMD_NAV_WAYPOINT, item0.Command)

	item1 := transport.sent[3].(*common.MessageMissionItemInt)
	require.Equal(t, uint16(1), item1.Seq)

	rtl := transport.sent[4].(*common.MessageMissionItemInt)
	require.Equal(t, uint16(2), rtl.Seq)
	require.Equal(t, common.MAV_CMD_NAV_RETURN_TO_LAUNCH, rtl.Command)

	require.Equal(t, uint16(3), state.Snapshot().TotalWaypoints)
}

func TestSequenceEnforcementStopsUpload(t *testing.T) {
	transport := &scriptedTransport{queue: []message.Message{
		&common.MessageMissionAck{},
		&common.MessageMissionRequestInt{Seq: 0},
		&common.MessageMissionRequestInt{Seq: 2}, // out of order: expected 1
	}}
	state := healthySnapshotState()
	engine := NewEngine(transport, state, eventlog.New(), &fakeModeExecutor{})

	waypoints := []Waypoint{{Lat: 1, Lon: 1, Alt: 10}, {Lat: 2, Lon: 2, Alt: 10}, {Lat: 3, Lon: 3, Alt: 10}}
	err := engine.Upload(waypoints, Settings{Altitude: 50, Speed: 5})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.SequenceError, appErr.Kind)

	// clear-all, count, item0 only: no further item sent after the mismatch.
	require.Len(t, transport.sent, 3)
	require.Equal(t, uint16(0), state.Snapshot().TotalWaypoints)
}

func TestUploadFailsMissingClearAck(t *testing.T) {
	transport := &scriptedTransport{} // empty queue: clear-all ack never arrives
	state := healthySnapshotState()
	engine := NewEngine(transport, state, eventlog.New(), &fakeModeExecutor{})

	err := engine.Upload([]Waypoint{{Lat: 1, Lon: 1, Alt: 10}}, Settings{Altitude: 50, Speed: 5})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.MissionClearError, appErr.Kind)
}

func TestValidationBoundaries(t *testing.T) {
	require.NoError(t, ValidateSettings(Settings{Altitude: 120, Speed: 5}))
	err := ValidateSettings(Settings{Altitude: 120.0001, Speed: 5})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.AltitudeError, appErr.Kind)

	err = ValidateSettings(Settings{Altitude: 50, Speed: 0})
	appErr, ok = apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.SpeedError, appErr.Kind)
	require.NoError(t, ValidateSettings(Settings{Altitude: 50, Speed: 15}))

	hundred := make([]Waypoint, 100)
	for i := range hundred {
		hundred[i] = Waypoint{Lat: 1, Lon: 1, Alt: 10}
	}
	require.NoError(t, ValidateWaypoints(hundred))
	require.Error(t, ValidateWaypoints(append(hundred, Waypoint{Lat: 1, Lon: 1, Alt: 10})))
}

func TestPrerequisiteFailureReportsBatteryError(t *testing.T) {
	state := healthySnapshotState()
	state.SetBattery(25, 16.0, 4.0)

	engine := NewEngine(&scriptedTransport{}, state, eventlog.New(), &fakeModeExecutor{})
	err := engine.Upload([]Waypoint{{Lat: 1, Lon: 1, Alt: 10}}, Settings{Altitude: 50, Speed: 5})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.BatteryError, appErr.Kind)
}

func TestStartHandshake(t *testing.T) {
	transport := &scriptedTransport{queue: []message.Message{
		&common.MessageMissionCurrent{Seq: 0},
	}}
	state := healthySnapshotState()
	state.SetTotalWaypoints(2)
	engine := NewEngine(transport, state, eventlog.New(), &fakeModeExecutor{})

	err := engine.Start(Settings{Altitude: 50, Speed: 5})
	require.NoError(t, err)
	require.True(t, state.Snapshot().MissionInProgress)
}
