package mavlink

import (
	"context"
	"log"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/vehicle"
)

// pollInterval is how long each Ingestor loop iteration waits for a message
// before checking for shutdown and re-polling. It is not a telemetry rate;
// the autopilot itself is asked for a 4 Hz stream in Open.
const pollInterval = 1 * time.Second

// Hooks lets the Mission Supervisor react to telemetry as it arrives without
// the mavlink package importing the mission package.
type Hooks struct {
	OnModeChange       func(mode string)
	OnArmChange        func(armed bool)
	OnLowBattery       func(pct int)
	OnWaypointProgress func(seq uint16)
	OnWaypointReached  func(seq uint16)
	OnMissionComplete  func()
}

// LowBatteryThresholdPct is the percentage at or below which a low-battery
// warning is logged once per crossing. CriticalBatteryThresholdPct is the
// lower threshold at which an error is also logged once per crossing; the two
// thresholds latch independently, so a reading at or below it logs both.
const (
	LowBatteryThresholdPct      = 20
	CriticalBatteryThresholdPct = 10
)

// Ingestor is the long-running loop that decodes frames off a Link into
// vehicle.State and the event log.
type Ingestor struct {
	link   *Link
	state  *vehicle.State
	log    *eventlog.Log
	logger *log.Logger
	hooks  Hooks

	lowBatteryLatched      bool
	criticalBatteryLatched bool

	stop chan struct{}
	done chan struct{}
}

// NewIngestor wires a Link to a vehicle.State and event log. hooks may be
// the zero value if nothing needs to observe telemetry besides State.
func NewIngestor(link *Link, state *vehicle.State, evlog *eventlog.Log, logger *log.Logger, hooks Hooks) *Ingestor {
	if logger == nil {
		logger = log.Default()
	}
	return &Ingestor{
		link:   link,
		state:  state,
		log:    evlog,
		logger: logger,
		hooks:  hooks,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run blocks decoding frames until Stop is called. Receive errors, including
// a closed link, mark the vehicle disconnected and are retried after a 1 s
// back-off rather than ending the loop.
func (g *Ingestor) Run() {
	defer close(g.done)

	for {
		select {
		case <-g.stop:
			return
		default:
		}

		msg, err := g.link.Recv(context.Background(), func(message.Message) bool { return true }, pollInterval)
		if err != nil {
			if err == ErrRecvTimeout {
				continue
			}
			// Any other error (closed link, context) means the transport is
			// gone; mark disconnected and back off before retrying so a
			// flapping link doesn't spin this loop hot.
			g.state.SetDisconnected()
			select {
			case <-g.stop:
				return
			case <-time.After(1 * time.Second):
			}
			continue
		}

		g.handle(msg)
	}
}

// Stop signals Run to return and waits for it to do so.
func (g *Ingestor) Stop() {
	close(g.stop)
	<-g.done
}

func (g *Ingestor) handle(msg message.Message) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		mode := DecodeMode(m.CustomMode)
		armed := m.BaseMode&uint8(common.MAV_MODE_FLAG_SAFETY_ARMED) != 0
		prevMode, prevArmed := g.state.SetHeartbeat(mode, armed)

		if prevMode != mode {
			g.log.Infof("Mode changed to " + mode)
			if g.hooks.OnModeChange != nil {
				g.hooks.OnModeChange(mode)
			}
		}
		if prevArmed != armed {
			if armed {
				g.log.Infof("Vehicle armed")
			} else {
				g.log.Infof("Vehicle disarmed")
			}
			if g.hooks.OnArmChange != nil {
				g.hooks.OnArmChange(armed)
			}
		}

	case *common.MessageGlobalPositionInt:
		g.state.SetPosition(
			degFromE7(m.Lat),
			degFromE7(m.Lon),
			metersFromMillimeters(m.Alt),
			metersFromMillimeters(m.RelativeAlt),
			degFromCentidegrees(m.Hdg),
		)

	case *common.MessageVfrHud:
		g.state.SetGroundspeed(float64(m.Groundspeed))

	case *common.MessageGpsRawInt:
		g.state.SetGPS(uint8(m.FixType), m.SatellitesVisible)

	case *common.MessageSysStatus:
		pct := int(m.BatteryRemaining)
		if m.BatteryRemaining > 100 {
			// Not a valid percentage; -1 (unknown) is already below zero.
			pct = vehicle.BatteryUnknown
		}
		g.state.SetBattery(pct, voltsFromMillivolts(m.VoltageBattery), ampsFromCentiamps(m.CurrentBattery))

		if pct >= 0 && pct <= CriticalBatteryThresholdPct {
			if !g.criticalBatteryLatched {
				g.criticalBatteryLatched = true
				g.log.Add(eventlog.Error, "Critically low battery", map[string]int{"percent": pct})
				if g.hooks.OnLowBattery != nil {
					g.hooks.OnLowBattery(pct)
				}
			}
		} else {
			g.criticalBatteryLatched = false
		}

		if pct >= 0 && pct <= LowBatteryThresholdPct {
			if !g.lowBatteryLatched {
				g.lowBatteryLatched = true
				g.log.Add(eventlog.Warning, "Low battery", map[string]int{"percent": pct})
				if g.hooks.OnLowBattery != nil {
					g.hooks.OnLowBattery(pct)
				}
			}
		} else {
			g.lowBatteryLatched = false
		}

	case *common.MessageMissionCurrent:
		snap := g.state.SetWaypointProgress(m.Seq)
		if g.hooks.OnWaypointProgress != nil {
			g.hooks.OnWaypointProgress(m.Seq)
		}
		if snap.MissionInProgress && snap.TotalWaypoints > 0 && snap.CurrentWaypoint >= snap.TotalWaypoints-1 {
			if g.hooks.OnMissionComplete != nil {
				g.hooks.OnMissionComplete()
			}
		}

	case *common.MessageMissionItemReached:
		g.log.Infof("Waypoint reached")
		snap := g.state.SetWaypointProgress(m.Seq)
		if g.hooks.OnWaypointReached != nil {
			g.hooks.OnWaypointReached(m.Seq)
		}
		if snap.MissionInProgress && snap.TotalWaypoints > 0 && snap.CurrentWaypoint >= snap.TotalWaypoints-1 {
			if g.hooks.OnMissionComplete != nil {
				g.hooks.OnMissionComplete()
			}
		}
	}
}
