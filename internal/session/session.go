// Package session implements the Session Facade (C8): the single entry
// point external collaborators (HTTP handlers, the realtime relay) use, and
// the serialization point for operations that must not interleave on the
// autopilot's shared half-duplex wire.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
	"github.com/flightpath-dev/autopilot-agent/internal/camera"
	"github.com/flightpath-dev/autopilot-agent/internal/config"
	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/mavlink"
	"github.com/flightpath-dev/autopilot-agent/internal/mission"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// ingestorJoinTimeout bounds how long Disconnect waits for the Ingestor to
// exit cleanly (§4.8, §5).
const ingestorJoinTimeout = 2 * time.Second

// Session owns the Link, Vehicle State, Event Log, and Mission Supervisor
// for the process lifetime, and serializes the operations that share the
// autopilot's request/response wire.
type Session struct {
	cfg    *config.Config
	logger *log.Logger

	state  *vehicle.State
	evlog  *eventlog.Log
	camera *camera.Status

	// mu is the "critical operation" band (§4.8): Connect/Disconnect/
	// MissionStart/MissionStop take it exclusively; SetMode/Arm take it for
	// read, so any number of them may run concurrently with each other but
	// never alongside a mission upload or another critical operation.
	mu sync.RWMutex

	link       *mavlink.Link
	ingestor   *mavlink.Ingestor
	executor   *mavlink.Executor
	engine     *mission.Engine
	supervisor *mission.Supervisor
}

// New constructs a disconnected Session, logging through evlog in addition
// to whatever other writer logger was built with (main wires both together
// via io.MultiWriter so every log line also lands in the Event Log ring).
func New(cfg *config.Config, logger *log.Logger, evlog *eventlog.Log) *Session {
	if logger == nil {
		logger = log.Default()
	}
	if evlog == nil {
		evlog = eventlog.New()
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		state:  vehicle.New(),
		evlog:  evlog,
		camera: camera.New(),
	}
}

// State returns the shared vehicle state for read-only projections.
func (s *Session) State() *vehicle.State { return s.state }

// EventLog returns the shared event log for read-only projections and
// publisher registration.
func (s *Session) EventLog() *eventlog.Log { return s.evlog }

// Camera returns the liveness-only camera status (§9: this agent does not
// itself run the video pipeline, only reports whether it's running).
func (s *Session) Camera() *camera.Status { return s.camera }

// Connect opens the Link, spawns the Ingestor wired to the Mission
// Supervisor, and requests telemetry streams.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link != nil {
		return apperr.New(apperr.ConnectionError, "already connected", "disconnect before reconnecting")
	}

	link, err := mavlink.Open(s.cfg.MAVLink.Device, s.cfg.MAVLink.Baud, s.logger)
	if err != nil {
		return apperr.New(apperr.ConnectionError, "failed to open vehicle link: "+err.Error(), "check the serial device and baud rate")
	}

	executor := mavlink.NewExecutor(link, s.state)
	supervisor := mission.NewSupervisor(link, s.state, s.evlog, executor)
	engine := mission.NewEngine(link, s.state, s.evlog, executor)

	ingestor := mavlink.NewIngestor(link, s.state, s.evlog, s.logger, mavlink.Hooks{
		OnModeChange:      supervisor.HandleModeChange,
		OnMissionComplete: supervisor.HandleMissionComplete,
	})

	s.link = link
	s.executor = executor
	s.engine = engine
	s.supervisor = supervisor
	s.ingestor = ingestor

	go ingestor.Run()

	s.evlog.Infof("Connected to vehicle")
	return nil
}

// Disconnect stops the Ingestor, closes the Link, and resets mission flags.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == nil {
		return apperr.New(apperr.ConnectionError, "not connected", "connect to the vehicle first")
	}

	stopped := make(chan struct{})
	go func() {
		s.ingestor.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(ingestorJoinTimeout):
		s.logger.Println("session: warning - ingestor did not stop within the join timeout")
	}

	s.link.Close()
	s.state.SetDisconnected()
	s.state.EndMission()

	s.link = nil
	s.ingestor = nil
	s.executor = nil
	s.engine = nil
	s.supervisor = nil

	s.evlog.Infof("Disconnected from vehicle")
	return nil
}

// MissionStart validates, uploads, and starts a mission plan.
func (s *Session) MissionStart(waypoints []mission.Waypoint, settings mission.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return apperr.New(apperr.ConnectionError, "not connected", "connect to the vehicle first")
	}
	if err := s.engine.Upload(waypoints, settings); err != nil {
		return err
	}
	if err := s.engine.Start(settings); err != nil {
		return err
	}
	s.supervisor.Start()
	return nil
}

// MissionStop commands LOITER; the resulting heartbeat drives the
// Supervisor's abort transition (§4.6).
func (s *Session) MissionStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.supervisor == nil {
		return apperr.New(apperr.ConnectionError, "not connected", "connect to the vehicle first")
	}
	if err := s.supervisor.Stop(); err != nil {
		return apperr.New(apperr.StopError, "failed to command LOITER: "+err.Error(), "retry stopping the mission")
	}
	return nil
}

// SetMode takes the critical-operation band only for read: multiple
// SetMode/Arm calls may run concurrently with each other, but none may
// proceed while a mission dialogue (upload/start/stop) holds the write
// lock, since all of them share the autopilot's half-duplex wire.
func (s *Session) SetMode(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.executor == nil {
		return apperr.New(apperr.ConnectionError, "not connected", "connect to the vehicle first")
	}
	return s.executor.SetMode(name)
}

// Arm requests the vehicle be armed or disarmed.
func (s *Session) Arm(desired bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.executor == nil {
		return apperr.New(apperr.ConnectionError, "not connected", "connect to the vehicle first")
	}
	return s.executor.Arm(desired)
}

// Connected reports whether a Link is currently open (not the same as
// vehicle.State.IsHealthy, which also requires a recent heartbeat).
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link != nil
}
