package vehicle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthMonotonicity(t *testing.T) {
	s := New()
	require.False(t, s.IsHealthy())

	s.SetHeartbeat("GUIDED", true)
	require.True(t, s.IsHealthy())

	snap := s.Snapshot()
	snap.LastHeartbeatAt = time.Now().Add(-6 * time.Second)
	require.False(t, snap.IsHealthy(time.Now()))
}

func TestSetDisconnectedClearsHealthNotTelemetry(t *testing.T) {
	s := New()
	s.SetHeartbeat("AUTO", true)
	s.SetPosition(37.0, -122.0, 50, 25, 90)

	s.SetDisconnected()

	snap := s.Snapshot()
	require.False(t, snap.Connected)
	require.Equal(t, 37.0, snap.Lat)
}

func TestMissionCounterLifecycle(t *testing.T) {
	s := New()
	s.SetTotalWaypoints(3)
	s.BeginMission()
	require.Equal(t, uint16(3), s.Snapshot().TotalWaypoints)

	snap := s.SetWaypointProgress(2)
	require.True(t, snap.MissionInProgress)
	require.Equal(t, uint16(2), snap.CurrentWaypoint)

	s.EndMission()
	final := s.Snapshot()
	require.False(t, final.MissionInProgress)
	require.Equal(t, uint16(0), final.TotalWaypoints)
	require.Equal(t, uint16(0), final.CurrentWaypoint)
}

func TestWaypointProgressIgnoredWhenNoMission(t *testing.T) {
	s := New()
	snap := s.SetWaypointProgress(5)
	require.Equal(t, uint16(0), snap.CurrentWaypoint)
}
