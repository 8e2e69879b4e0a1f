// Package mission implements the Mission Protocol Engine (C5) and Mission
// Supervisor (C6): parameter validation, the handshake-driven upload and
// start protocols, and the in-flight state machine that reconciles observed
// autopilot state with user intent.
package mission

import (
	"strconv"

	"github.com/flightpath-dev/autopilot-agent/internal/apperr"
)

// MaxWaypoints is the largest mission this agent will upload in one plan.
const MaxWaypoints = 100

// Waypoint is one navigation target in a mission plan.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Settings carries the mission-wide parameters applied to every waypoint
// (the encoded altitude comes from here, never from the waypoint itself).
type Settings struct {
	Altitude     float64 `json:"altitude"`
	Speed        float64 `json:"speed"`
	ReturnToHome bool    `json:"returnToHome"`
}

// ValidateWaypoints enforces §3's waypoint count and coordinate ranges.
func ValidateWaypoints(waypoints []Waypoint) error {
	if len(waypoints) == 0 {
		return apperr.New(apperr.WaypointError, "mission must contain at least one waypoint", "provide one or more waypoints")
	}
	if len(waypoints) > MaxWaypoints {
		return apperr.New(apperr.WaypointError, "mission exceeds the maximum of 100 waypoints", "split the mission into smaller plans")
	}
	for i, wp := range waypoints {
		if wp.Lat < -90 || wp.Lat > 90 || wp.Lon < -180 || wp.Lon > 180 {
			return apperr.New(apperr.CoordinateError, indexedMessage("invalid coordinate at waypoint", i), "check waypoint latitude/longitude")
		}
	}
	return nil
}

// ValidateSettings enforces §3's altitude/speed ranges.
func ValidateSettings(s Settings) error {
	if s.Altitude < 0 || s.Altitude > 120 {
		return apperr.New(apperr.AltitudeError, "altitude must be between 0 and 120 meters", "set an altitude within the allowed range")
	}
	if s.Speed <= 0 || s.Speed > 15 {
		return apperr.New(apperr.SpeedError, "speed must be greater than 0 and at most 15 m/s", "set a speed within the allowed range")
	}
	return nil
}

func indexedMessage(prefix string, i int) string {
	return prefix + " " + strconv.Itoa(i)
}
