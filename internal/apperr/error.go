// Package apperr defines the structured error shape shared by every layer
// that can fail a caller-initiated operation: the Command Executor, the
// Mission Protocol Engine, the Session Facade, and the HTTP/relay surfaces
// that serialize it back out. It replaces exceptions-as-control-flow with an
// explicit, JSON-friendly value.
package apperr

// Kind is the stable error taxonomy surfaced across every interface.
type Kind string

const (
	ConnectionError   Kind = "CONNECTION_ERROR"
	GPSError          Kind = "GPS_ERROR"
	ArmError          Kind = "ARM_ERROR"
	ModeError         Kind = "MODE_ERROR"
	BatteryError      Kind = "BATTERY_ERROR"
	MissionStateError Kind = "MISSION_STATE_ERROR"
	WaypointError     Kind = "WAYPOINT_ERROR"
	CoordinateError   Kind = "COORDINATE_ERROR"
	SettingsError     Kind = "SETTINGS_ERROR"
	AltitudeError     Kind = "ALTITUDE_ERROR"
	SpeedError        Kind = "SPEED_ERROR"
	MissionClearError Kind = "MISSION_CLEAR_ERROR"
	UploadError       Kind = "UPLOAD_ERROR"
	SequenceError     Kind = "SEQUENCE_ERROR"
	MissionStartError Kind = "MISSION_START_ERROR"
	StopError         Kind = "STOP_ERROR"
	ParameterError    Kind = "PARAMETER_ERROR"
	UnknownError      Kind = "UNKNOWN_ERROR"
)

// Error is the structured {message, kind, resolution} value every
// caller-facing failure in this system carries.
type Error struct {
	Message    string `json:"error"`
	Kind       Kind   `json:"error_type"`
	Resolution string `json:"resolution,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error. resolution is a short, human-actionable hint (e.g.
// "reconnect the vehicle link"); it may be empty.
func New(kind Kind, message, resolution string) *Error {
	return &Error{Message: message, Kind: kind, Resolution: resolution}
}

// As extracts an *Error from err, or reports false if err is not one (or is
// nil).
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	e, ok := err.(*Error)
	return e, ok
}
