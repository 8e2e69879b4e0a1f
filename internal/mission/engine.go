package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/mavlink"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// AckTimeout bounds every mission-protocol wait: clear-all ack, per-item
// request, final ack, and the start handshake's mission-current wait.
const AckTimeout = 5 * time.Second

const (
	missionHoldTimeSec    = 2
	missionAcceptRadiusM  = 3
	missionPassRadiusM    = 5
	missionFrame          = common.MAV_FRAME_GLOBAL_RELATIVE_ALT
	missionCommandWaypoint = common.MAV_CMD_NAV_WAYPOINT
	missionCommandRTL      = common.MAV_CMD_NAV_RETURN_TO_LAUNCH
)

// ModeExecutor is the narrow slice of the Command Executor the start
// handshake needs; it lets engine tests swap in a fake without depending on
// the real confirmation-by-heartbeat implementation.
type ModeExecutor interface {
	SetMode(name string) error
}

// Engine drives the mission upload and start handshakes over a Transport.
type Engine struct {
	transport mavlink.Transport
	state     *vehicle.State
	log       *eventlog.Log
	executor  ModeExecutor
}

// NewEngine wires the Mission Protocol Engine to its transport, shared
// vehicle state, event log, and the Command Executor used for the
// start-handshake mode change.
func NewEngine(transport mavlink.Transport, state *vehicle.State, evlog *eventlog.Log, executor ModeExecutor) *Engine {
	return &Engine{transport: transport, state: state, log: evlog, executor: executor}
}

// CheckPrerequisites enforces §4.5's prerequisite check against a snapshot
// of vehicle state.
func CheckPrerequisites(snap vehicle.Snapshot) error {
	if !snap.IsHealthy(time.Now()) {
		return apperr.New(apperr.ConnectionError, "vehicle is not connected", "connect to the vehicle first")
	}
	if snap.FixType < 3 {
		return apperr.New(apperr.GPSError, "GPS fix is not 3D or better", "wait for a better GPS fix")
	}
	if !snap.Armed {
		return apperr.New(apperr.ArmError, "vehicle is not armed", "arm the vehicle before starting a mission")
	}
	if snap.Mode != "GUIDED" && snap.Mode != "AUTO" {
		return apperr.New(apperr.ModeError, "vehicle is not in GUIDED or AUTO mode", "switch to GUIDED mode before starting a mission")
	}
	if snap.BatteryPct >= 0 && snap.BatteryPct < 30 {
		return apperr.New(apperr.BatteryError, "battery is below the 30% mission threshold", "charge or replace the battery before flying")
	}
	if snap.MissionInProgress {
		return apperr.New(apperr.MissionStateError, "a mission is already in progress", "stop the current mission first")
	}
	return nil
}

// Upload validates waypoints/settings, checks prerequisites, then runs the
// clear/count/request-response handshake with the autopilot. On any failure
// the waypoint counters are reset to zero and a structured error is
// returned; the autopilot is assumed to discard a partial plan on timeout.
func (e *Engine) Upload(waypoints []Waypoint, settings Settings) error {
	if err := ValidateWaypoints(waypoints); err != nil {
		return err
	}
	if err := ValidateSettings(settings); err != nil {
		return err
	}
	if err := CheckPrerequisites(e.state.Snapshot()); err != nil {
		return err
	}

	if err := e.uploadHandshake(waypoints, settings); err != nil {
		e.state.ResetMissionCounters()
		e.log.Add(eventlog.Error, "Mission upload failed", map[string]string{"reason": err.Error()})
		return err
	}
	return nil
}

func (e *Engine) uploadHandshake(waypoints []Waypoint, settings Settings) error {
	ctx := context.Background()

	if err := e.transport.Send(&common.MessageMissionClearAll{
		TargetSystem:    e.transport.TargetSystem(),
		TargetComponent: e.transport.TargetComponent(),
	}); err != nil {
		return apperr.New(apperr.MissionClearError, "failed to send mission clear: "+err.Error(), "check the vehicle link")
	}
	if _, err := e.transport.Recv(ctx, isMissionAck, AckTimeout); err != nil {
		return apperr.New(apperr.MissionClearError, "no acknowledgment of mission clear", "retry clearing the mission")
	}

	total := len(waypoints)
	if settings.ReturnToHome {
		total++
	}
	e.state.SetTotalWaypoints(uint16(total))

	if err := e.transport.Send(&common.MessageMissionCount{
		TargetSystem:    e.transport.TargetSystem(),
		TargetComponent: e.transport.TargetComponent(),
		Count:           uint16(total),
	}); err != nil {
		return apperr.New(apperr.UploadError, "failed to send mission count: "+err.Error(), "check the vehicle link")
	}

	for i, wp := range waypoints {
		seq, err := e.awaitMissionRequest(ctx)
		if err != nil {
			return apperr.New(apperr.UploadError, fmt.Sprintf("no mission request for waypoint %d", i), "retry the upload")
		}
		if int(seq) != i {
			return apperr.New(apperr.SequenceError, fmt.Sprintf("autopilot requested seq %d, expected %d", seq, i), "retry the upload")
		}
		if err := e.sendMissionItem(uint16(i), wp, settings, missionCommandWaypoint); err != nil {
			return apperr.New(apperr.UploadError, "failed to send mission item: "+err.Error(), "check the vehicle link")
		}
	}

	if settings.ReturnToHome {
		seq, err := e.awaitMissionRequest(ctx)
		if err != nil {
			return apperr.New(apperr.UploadError, "no mission request for return-to-home item", "retry the upload")
		}
		if int(seq) != len(waypoints) {
			return apperr.New(apperr.SequenceError, fmt.Sprintf("autopilot requested seq %d, expected %d", seq, len(waypoints)), "retry the upload")
		}
		if err := e.sendMissionItem(uint16(len(waypoints)), Waypoint{}, settings, missionCommandRTL); err != nil {
			return apperr.New(apperr.UploadError, "failed to send return-to-home item: "+err.Error(), "check the vehicle link")
		}
	}

	if _, err := e.transport.Recv(ctx, isMissionAck, AckTimeout); err != nil {
		return apperr.New(apperr.UploadError, "no final acknowledgment of mission upload", "retry the upload")
	}
	return nil
}

func (e *Engine) awaitMissionRequest(ctx context.Context) (uint16, error) {
	msg, err := e.transport.Recv(ctx, isMissionRequest, AckTimeout)
	if err != nil {
		return 0, err
	}
	seq, _ := missionRequestSeq(msg)
	return seq, nil
}

func (e *Engine) sendMissionItem(seq uint16, wp Waypoint, settings Settings, command common.MAV_CMD) error {
	return e.transport.Send(&common.MessageMissionItemInt{
		TargetSystem:    e.transport.TargetSystem(),
		TargetComponent: e.transport.TargetComponent(),
		Seq:             seq,
		Frame:           missionFrame,
		Command:         command,
		Current:         0,
		Autocontinue:    1,
		Param1:          missionHoldTimeSec,
		Param2:          missionAcceptRadiusM,
		Param3:          missionPassRadiusM,
		Param4:          0, // yaw unspecified
		X:               int32(wp.Lat * 1e7),
		Y:               int32(wp.Lon * 1e7),
		Z:               float32(settings.Altitude),
	})
}

// Start re-checks prerequisites, resets the autopilot's active waypoint to
// zero, switches to AUTO, and atomically marks the mission in progress.
func (e *Engine) Start(settings Settings) error {
	if err := CheckPrerequisites(e.state.Snapshot()); err != nil {
		return err
	}

	ctx := context.Background()
	if err := e.transport.Send(&common.MessageMissionSetCurrent{
		TargetSystem:    e.transport.TargetSystem(),
		TargetComponent: e.transport.TargetComponent(),
		Seq:             0,
	}); err != nil {
		return apperr.New(apperr.MissionStartError, "failed to send mission set-current: "+err.Error(), "check the vehicle link")
	}
	if _, err := e.transport.Recv(ctx, isMissionCurrent, AckTimeout); err != nil {
		return apperr.New(apperr.MissionStartError, "autopilot did not confirm the active mission item", "retry starting the mission")
	}

	if err := e.executor.SetMode("AUTO"); err != nil {
		return err
	}

	e.state.BeginMission()
	e.log.Infof("Mission started")
	return nil
}

func isMissionAck(msg message.Message) bool {
	_, ok := msg.(*common.MessageMissionAck)
	return ok
}

func isMissionCurrent(msg message.Message) bool {
	_, ok := msg.(*common.MessageMissionCurrent)
	return ok
}

func isMissionRequest(msg message.Message) bool {
	_, ok := missionRequestSeq(msg)
	return ok
}

// missionRequestSeq extracts the requested sequence number from either the
// legacy MISSION_REQUEST or the MISSION_REQUEST_INT variant; modern
// ArduPilot firmware sends the _INT form.
func missionRequestSeq(msg message.Message) (uint16, bool) {
	switch m := msg.(type) {
	case *common.MessageMissionRequest:
		return m.Seq, true
	case *common.MessageMissionRequestInt:
		return m.Seq, true
	}
	return 0, false
}
