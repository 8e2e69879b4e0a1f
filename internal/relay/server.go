package relay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/mission"
	"github.com/flightpath-dev/autopilot-agent/internal/session"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// telemetryPublishInterval matches §6's "telemetry (1 Hz)" relay rate.
const telemetryPublishInterval = 1 * time.Second

// Server wires a Hub to a Session: it publishes telemetry/logs and dispatches
// inbound command/mission events into the same Session operations the HTTP
// surface uses.
type Server struct {
	hub     *Hub
	session *session.Session
	logger  *log.Logger
	stop    chan struct{}
}

// New builds a relay Server. Call Run to start its background loops; call
// Hub().ServeWS from an HTTP route to accept connections.
func New(sess *session.Session, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{hub: NewHub(), session: sess, logger: logger, stop: make(chan struct{})}
	s.hub.onMessage = s.handleInbound
	sess.EventLog().SetPublisher(func(e eventlog.Entry) {
		s.hub.Broadcast("logs", e)
	})
	return s
}

// Hub returns the underlying WebSocket hub for mounting ServeWS on a route.
func (s *Server) Hub() *Hub { return s.hub }

// Run starts the hub's connection loop and the 1 Hz telemetry publisher.
// It blocks until Stop is called.
func (s *Server) Run() {
	go s.hub.Run()

	ticker := time.NewTicker(telemetryPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.hub.Broadcast("telemetry", telemetryPayload(s.session.State().Snapshot()))
		}
	}
}

// Stop ends the telemetry publish loop.
func (s *Server) Stop() {
	close(s.stop)
}

type telemetryMessage struct {
	Connected         bool    `json:"connected"`
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	AltMSLm           float64 `json:"alt_msl_m"`
	AltRelm           float64 `json:"alt_rel_m"`
	HeadingDeg        float64 `json:"heading_deg"`
	GroundspeedMps    float64 `json:"groundspeed_mps"`
	BatteryPct        int     `json:"battery_pct"`
	Mode              string  `json:"mode"`
	Armed             bool    `json:"armed"`
	MissionInProgress bool    `json:"mission_in_progress"`
	TotalWaypoints    uint16  `json:"total_waypoints"`
	CurrentWaypoint   uint16  `json:"current_waypoint"`
}

func telemetryPayload(snap vehicle.Snapshot) telemetryMessage {
	return telemetryMessage{
		Connected:         snap.IsHealthy(time.Now()),
		Lat:               snap.Lat,
		Lon:               snap.Lon,
		AltMSLm:           snap.AltMSLm,
		AltRelm:           snap.AltRelm,
		HeadingDeg:        snap.HeadingDeg,
		GroundspeedMps:    snap.GroundspeedMps,
		BatteryPct:        snap.BatteryPct,
		Mode:              snap.Mode,
		Armed:             snap.Armed,
		MissionInProgress: snap.MissionInProgress,
		TotalWaypoints:    snap.TotalWaypoints,
		CurrentWaypoint:   snap.CurrentWaypoint,
	}
}

type commandPayload struct {
	Action string `json:"action"`
	Mode   string `json:"mode,omitempty"`
	Arm    *bool  `json:"arm,omitempty"`
}

type missionPayload struct {
	Action    string             `json:"action"`
	Waypoints []mission.Waypoint `json:"waypoints,omitempty"`
	Settings  mission.Settings   `json:"settings,omitempty"`
}

type commandResponse struct {
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	ErrorType  apperr.Kind `json:"error_type,omitempty"`
	Resolution string      `json:"resolution,omitempty"`
}

func (s *Server) handleInbound(c *Client, env envelope) {
	switch env.Event {
	case "command":
		s.handleCommand(c, env.Data)
	case "mission":
		s.handleMission(c, env.Data)
	default:
		s.logger.Printf("relay: ignoring unknown event %q", env.Event)
	}
}

func (s *Server) handleCommand(c *Client, data json.RawMessage) {
	var payload commandPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.respond(c, apperr.New(apperr.ParameterError, "invalid command payload", ""))
		return
	}

	var err error
	switch payload.Action {
	case "set_mode":
		if payload.Mode == "" {
			err = apperr.New(apperr.ParameterError, "mode is required", "")
		} else {
			err = s.session.SetMode(payload.Mode)
		}
	case "arm":
		if payload.Arm == nil {
			err = apperr.New(apperr.ParameterError, "arm is required", "")
		} else {
			err = s.session.Arm(*payload.Arm)
		}
	default:
		err = apperr.New(apperr.ParameterError, "unknown command action", "")
	}
	s.respond(c, err)
}

func (s *Server) handleMission(c *Client, data json.RawMessage) {
	var payload missionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.respond(c, apperr.New(apperr.ParameterError, "invalid mission payload", ""))
		return
	}

	var err error
	switch payload.Action {
	case "start":
		err = s.session.MissionStart(payload.Waypoints, payload.Settings)
	case "stop":
		err = s.session.MissionStop()
	default:
		err = apperr.New(apperr.ParameterError, "unknown mission action", "")
	}
	s.respond(c, err)
}

func (s *Server) respond(c *Client, err error) {
	resp := commandResponse{Success: err == nil}
	if err != nil {
		appErr, ok := apperr.As(err)
		if !ok {
			appErr = apperr.New(apperr.UnknownError, err.Error(), "")
		}
		resp.Error = appErr.Message
		resp.ErrorType = appErr.Kind
		resp.Resolution = appErr.Resolution
	}
	data, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return
	}
	c.sendEnvelope("command_response", data)
}
