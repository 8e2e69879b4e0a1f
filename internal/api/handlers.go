package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
	"github.com/flightpath-dev/autopilot-agent/internal/mission"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Success    bool          `json:"success"`
	Error      string        `json:"error"`
	ErrorType  apperr.Kind   `json:"error_type"`
	Resolution string        `json:"resolution,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr serializes err as the {success:false, error, error_type,
// resolution} shape mandated by §6/§7. Errors that aren't already an
// *apperr.Error (shouldn't happen, but belt-and-suspenders) are folded into
// UNKNOWN_ERROR rather than leaking an internal message format.
func writeErr(w http.ResponseWriter, status int, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.New(apperr.UnknownError, err.Error(), "")
	}
	writeJSON(w, status, errorResponse{
		Success:    false,
		Error:      appErr.Message,
		ErrorType:  appErr.Kind,
		Resolution: appErr.Resolution,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Connect(); err != nil {
		writeErr(w, http.StatusOK, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Disconnect(); err != nil {
		writeErr(w, http.StatusOK, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type telemetryResponse struct {
	Connected         bool    `json:"connected"`
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	AltMSLm           float64 `json:"alt_msl_m"`
	AltRelm           float64 `json:"alt_rel_m"`
	HeadingDeg        float64 `json:"heading_deg"`
	GroundspeedMps    float64 `json:"groundspeed_mps"`
	BatteryPct        int     `json:"battery_pct"`
	BatteryVoltageV   float64 `json:"battery_voltage_v"`
	BatteryCurrentA   float64 `json:"battery_current_a"`
	FixType           uint8   `json:"fix_type"`
	Satellites        uint8   `json:"satellites"`
	Mode              string  `json:"mode"`
	Armed             bool    `json:"armed"`
	MissionInProgress bool    `json:"mission_in_progress"`
	TotalWaypoints    uint16  `json:"total_waypoints"`
	CurrentWaypoint   uint16  `json:"current_waypoint"`
}

func toTelemetryResponse(snap vehicle.Snapshot) telemetryResponse {
	return telemetryResponse{
		Connected:         snap.IsHealthy(time.Now()),
		Lat:               snap.Lat,
		Lon:               snap.Lon,
		AltMSLm:           snap.AltMSLm,
		AltRelm:           snap.AltRelm,
		HeadingDeg:        snap.HeadingDeg,
		GroundspeedMps:    snap.GroundspeedMps,
		BatteryPct:        snap.BatteryPct,
		BatteryVoltageV:   snap.BatteryVoltageV,
		BatteryCurrentA:   snap.BatteryCurrentA,
		FixType:           snap.FixType,
		Satellites:        snap.Satellites,
		Mode:              snap.Mode,
		Armed:             snap.Armed,
		MissionInProgress: snap.MissionInProgress,
		TotalWaypoints:    snap.TotalWaypoints,
		CurrentWaypoint:   snap.CurrentWaypoint,
	}
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toTelemetryResponse(s.session.State().Snapshot()))
}

type gpsStatus struct {
	FixType    uint8 `json:"fix_type"`
	Satellites uint8 `json:"satellites"`
}

type healthResponse struct {
	Status        string    `json:"status"`
	Connected     bool      `json:"connected"`
	GPS           gpsStatus `json:"gps"`
	BatteryPct    int       `json:"battery"`
	Mode          string    `json:"mode"`
	Armed         bool      `json:"armed"`
	MissionStatus string    `json:"mission_status"`
	CameraRunning bool      `json:"camera_running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.session.State().Snapshot()

	healthy := snap.IsHealthy(time.Now())
	status := "ok"
	if !healthy {
		status = "degraded"
	}

	missionStatus := "idle"
	if snap.MissionInProgress {
		missionStatus = "running"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Connected:     healthy,
		GPS:           gpsStatus{FixType: snap.FixType, Satellites: snap.Satellites},
		BatteryPct:    snap.BatteryPct,
		Mode:          snap.Mode,
		Armed:         snap.Armed,
		MissionStatus: missionStatus,
		CameraRunning: s.session.Camera().Running(),
	})
}

type logsResponse struct {
	Logs []interface{} `json:"logs"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.session.EventLog().Read()
	logs := make([]interface{}, len(entries))
	for i, e := range entries {
		logs[i] = e
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: logs})
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	s.session.EventLog().Clear()
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		writeErr(w, http.StatusOK, apperr.New(apperr.ParameterError, "mode is required", "include a mode field in the request body"))
		return
	}
	if err := s.session.SetMode(req.Mode); err != nil {
		writeErr(w, http.StatusOK, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type armRequest struct {
	Arm bool `json:"arm"`
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	var req armRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusOK, apperr.New(apperr.ParameterError, "arm is required", "include an arm boolean in the request body"))
		return
	}
	if err := s.session.Arm(req.Arm); err != nil {
		writeErr(w, http.StatusOK, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type missionStartRequest struct {
	Waypoints []mission.Waypoint `json:"waypoints"`
	Settings  mission.Settings   `json:"settings"`
}

func (s *Server) handleMissionStart(w http.ResponseWriter, r *http.Request) {
	var req missionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusOK, apperr.New(apperr.ParameterError, "invalid mission start request body", "send waypoints and settings as JSON"))
		return
	}
	if err := s.session.MissionStart(req.Waypoints, req.Settings); err != nil {
		writeErr(w, http.StatusOK, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleMissionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.MissionStop(); err != nil {
		writeErr(w, http.StatusOK, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type missionStatusResponse struct {
	MissionInProgress bool   `json:"mission_in_progress"`
	TotalWaypoints    uint16 `json:"total_waypoints"`
	CurrentWaypoint   uint16 `json:"current_waypoint"`
	Mode              string `json:"mode"`
	Armed             bool   `json:"armed"`
	GPS               gpsStatus `json:"gps"`
}

func (s *Server) handleMissionStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.session.State().Snapshot()
	writeJSON(w, http.StatusOK, missionStatusResponse{
		MissionInProgress: snap.MissionInProgress,
		TotalWaypoints:    snap.TotalWaypoints,
		CurrentWaypoint:   snap.CurrentWaypoint,
		Mode:              snap.Mode,
		Armed:             snap.Armed,
		GPS:               gpsStatus{FixType: snap.FixType, Satellites: snap.Satellites},
	})
}
