package mission

import (
	"context"
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/mavlink"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// Supervisor is the in-flight mission state machine (C6): IDLE/RUNNING,
// driven by telemetry events from the Ingestor rather than polling. It does
// not itself run a goroutine; the Ingestor's Hooks call into it as
// heartbeats and mission-progress messages arrive.
type Supervisor struct {
	transport mavlink.Transport
	state     *vehicle.State
	log       *eventlog.Log
	executor  ModeExecutor

	mu      sync.Mutex
	running bool
}

// NewSupervisor wires the Mission Supervisor to its transport (for the
// best-effort clear-all on termination), shared state, event log, and the
// Command Executor used to command LOITER on an external stop request.
func NewSupervisor(transport mavlink.Transport, state *vehicle.State, evlog *eventlog.Log, executor ModeExecutor) *Supervisor {
	return &Supervisor{transport: transport, state: state, log: evlog, executor: executor}
}

// Start transitions IDLE -> RUNNING. Called once the Mission Protocol
// Engine's start handshake has succeeded.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// IsRunning reports whether the supervisor currently considers a mission
// in flight.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop requests an external abort: it commands LOITER and returns. The
// actual RUNNING -> IDLE transition happens when the resulting heartbeat
// reaches HandleModeChange, matching the autopilot's own authority over
// mode (§4.6).
func (s *Supervisor) Stop() error {
	return s.executor.SetMode("LOITER")
}

// HandleMissionComplete is the Ingestor hook fired when mission-current or
// mission-item-reached observes the last waypoint. It is a no-op unless the
// supervisor is RUNNING.
func (s *Supervisor) HandleMissionComplete() {
	if !s.takeRunning() {
		return
	}
	s.log.Infof("Mission complete")
	s.clearMissionBestEffort()
	s.state.EndMission()
}

// HandleModeChange is the Ingestor hook fired on every heartbeat-observed
// mode change. Any mode other than AUTO while RUNNING is treated as an
// abort (§4.6), whether it originated from Supervisor.Stop's commanded
// LOITER or from the autopilot itself (e.g. a failsafe RTL).
func (s *Supervisor) HandleModeChange(mode string) {
	if mode == "AUTO" {
		return
	}
	if !s.takeRunning() {
		return
	}
	s.log.Add(eventlog.Warning, "Mission aborted: mode changed to "+mode, nil)
	s.clearMissionBestEffort()
	s.state.EndMission()
}

// takeRunning atomically reads and clears the running flag, returning
// whether it was set. Using a single locked read-and-clear avoids two
// hooks racing to both run the termination path for the same transition.
func (s *Supervisor) takeRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.running
	s.running = false
	return was
}

func (s *Supervisor) clearMissionBestEffort() {
	err := s.transport.Send(&common.MessageMissionClearAll{
		TargetSystem:    s.transport.TargetSystem(),
		TargetComponent: s.transport.TargetComponent(),
	})
	if err == nil {
		_, err = s.transport.Recv(context.Background(), isMissionAck, AckTimeout)
	}
	if err != nil {
		s.log.Add(eventlog.Warning, "Mission clear on termination did not confirm", map[string]string{"reason": err.Error()})
	}
}
