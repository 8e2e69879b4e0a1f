package mavlink

import (
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// CommandConfirmTimeout bounds how long SetMode/Arm poll vehicle.State for
// the autopilot to confirm a requested change via heartbeat.
const CommandConfirmTimeout = 5 * time.Second

const confirmPollInterval = 100 * time.Millisecond

// Executor issues mode-change and arm/disarm commands and confirms them by
// observation of the next heartbeats, rather than trusting a COMMAND_ACK
// alone (ArduCopter heartbeats are cheap and authoritative for both mode and
// arm state).
type Executor struct {
	transport Transport
	state     *vehicle.State
}

// NewExecutor builds a Command Executor over any Transport (a real *Link in
// production, a fake in tests).
func NewExecutor(transport Transport, state *vehicle.State) *Executor {
	return &Executor{transport: transport, state: state}
}

func (e *Executor) requireHealthy() error {
	if !e.state.IsHealthy() {
		return apperr.New(apperr.ConnectionError, "vehicle link is not connected", "connect to the vehicle first")
	}
	return nil
}

// SetMode requests a flight-mode change and blocks until the autopilot's
// heartbeat confirms it, or CommandConfirmTimeout elapses.
func (e *Executor) SetMode(name string) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}

	modeID, ok := ModeID(name)
	if !ok {
		return apperr.New(apperr.ModeError, fmt.Sprintf("unknown mode %q", name), "use one of the supported ArduCopter flight modes")
	}

	err := e.transport.Send(&common.MessageSetMode{
		TargetSystem: e.transport.TargetSystem(),
		BaseMode:     uint8(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		CustomMode:   modeID,
	})
	if err != nil {
		return apperr.New(apperr.ModeError, "failed to send mode change: "+err.Error(), "check the vehicle link")
	}

	deadline := time.Now().Add(CommandConfirmTimeout)
	for time.Now().Before(deadline) {
		if e.state.Snapshot().Mode == name {
			return nil
		}
		time.Sleep(confirmPollInterval)
	}
	return apperr.New(apperr.ModeError, fmt.Sprintf("mode change to %s was not confirmed", name), "retry or check autopilot logs")
}

// Arm requests the vehicle be armed (desired=true) or disarmed and blocks
// until the autopilot's heartbeat confirms it.
func (e *Executor) Arm(desired bool) error {
	if err := e.requireHealthy(); err != nil {
		return err
	}

	param1 := float32(0)
	if desired {
		param1 = 1
	}

	err := e.transport.Send(&common.MessageCommandLong{
		TargetSystem:    e.transport.TargetSystem(),
		TargetComponent: e.transport.TargetComponent(),
		Command:         common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:          param1,
	})
	if err != nil {
		return apperr.New(apperr.ArmError, "failed to send arm command: "+err.Error(), "check the vehicle link")
	}

	deadline := time.Now().Add(CommandConfirmTimeout)
	for time.Now().Before(deadline) {
		if e.state.Snapshot().Armed == desired {
			return nil
		}
		time.Sleep(confirmPollInterval)
	}

	verb := "arm"
	if !desired {
		verb = "disarm"
	}
	return apperr.New(apperr.ArmError, fmt.Sprintf("vehicle did not %s in time", verb), "check safety switch and pre-arm checks")
}
