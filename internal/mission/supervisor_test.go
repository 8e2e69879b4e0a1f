package mission

import (
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/require"

	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

func TestSupervisorCompletionClearsAndEndsMission(t *testing.T) {
	transport := &scriptedTransport{queue: []message.Message{&common.MessageMissionAck{}}}
	state := vehicle.New()
	state.SetTotalWaypoints(3)
	state.BeginMission()

	sup := NewSupervisor(transport, state, eventlog.New(), &fakeModeExecutor{})
	sup.Start()
	require.True(t, sup.IsRunning())

	sup.HandleMissionComplete()

	require.False(t, sup.IsRunning())
	require.False(t, state.Snapshot().MissionInProgress)
	require.Len(t, transport.sent, 1)
	require.IsType(t, &common.MessageMissionClearAll{}, transport.sent[0])
}

func TestSupervisorAbortsOnModeChange(t *testing.T) {
	transport := &scriptedTransport{queue: []message.Message{&common.MessageMissionAck{}}}
	state := vehicle.New()
	state.SetTotalWaypoints(3)
	state.BeginMission()

	sup := NewSupervisor(transport, state, eventlog.New(), &fakeModeExecutor{})
	sup.Start()

	sup.HandleModeChange("LOITER")

	require.False(t, sup.IsRunning())
	require.False(t, state.Snapshot().MissionInProgress)
	require.Len(t, transport.sent, 1)
}

func TestSupervisorIgnoresModeChangeWhenIdle(t *testing.T) {
	transport := &scriptedTransport{}
	state := vehicle.New()

	sup := NewSupervisor(transport, state, eventlog.New(), &fakeModeExecutor{})
	sup.HandleModeChange("LOITER")

	require.Empty(t, transport.sent)
}

func TestSupervisorStopCommandsLoiter(t *testing.T) {
	exec := &fakeModeExecutor{}
	sup := NewSupervisor(&scriptedTransport{}, vehicle.New(), eventlog.New(), exec)
	require.NoError(t, sup.Stop())
	require.Equal(t, "LOITER", exec.mode)
}
