package protocol

import "time"

// PIDAxis identifies one control axis. The numeric value doubles as the
// PID set/ack message ID (0x00-0x05).
type PIDAxis byte

const (
	AxisRollInner  PIDAxis = MsgPIDRollInner
	AxisRollOuter  PIDAxis = MsgPIDRollOuter
	AxisPitchInner PIDAxis = MsgPIDPitchInner
	AxisPitchOuter PIDAxis = MsgPIDPitchOuter
	AxisYawAngle   PIDAxis = MsgPIDYawAngle
	AxisYawRate    PIDAxis = MsgPIDYawRate
)

var axisNames = map[PIDAxis]string{
	AxisRollInner:  "roll_inner",
	AxisRollOuter:  "roll_outer",
	AxisPitchInner: "pitch_inner",
	AxisPitchOuter: "pitch_outer",
	AxisYawAngle:   "yaw_angle",
	AxisYawRate:    "yaw_rate",
}

func (a PIDAxis) String() string {
	if name, ok := axisNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParsePIDAxis maps an axis name ("roll_inner", ...) to its axis value.
func ParsePIDAxis(name string) (PIDAxis, bool) {
	for axis, n := range axisNames {
		if n == name {
			return axis, true
		}
	}
	return 0, false
}

// AhrsSample is one attitude/altitude sample with setpoints.
// Angles in degrees, altitude in meters.
type AhrsSample struct {
	RollDeg    float64   `json:"roll_deg"`
	PitchDeg   float64   `json:"pitch_deg"`
	YawDeg     float64   `json:"yaw_deg"`
	AltitudeM  float64   `json:"altitude_m"`
	RollSPDeg  float64   `json:"roll_sp_deg"`
	PitchSPDeg float64   `json:"pitch_sp_deg"`
	YawSPDeg   float64   `json:"yaw_sp_deg"`
	AltitudeSP float64   `json:"altitude_sp_m"`
	Timestamp  time.Time `json:"timestamp"`
}

// GpsFix is a position fix, either from the binary GPS message or from an
// NMEA sentence. Fields not carried by the source are zero.
type GpsFix struct {
	LatDeg         float64   `json:"lat_deg"`
	LonDeg         float64   `json:"lon_deg"`
	AltitudeM      float64   `json:"altitude_m"`
	BatteryVoltage float64   `json:"battery_voltage"`
	SwA            int       `json:"swa"`
	SwC            int       `json:"swc"`
	Failsafe       int       `json:"failsafe"`
	FixQuality     int       `json:"fix_quality"`
	Satellites     int       `json:"satellites"`
	Timestamp      time.Time `json:"timestamp"`
}

type BatteryStatus struct {
	Voltage        float64   `json:"voltage"`
	Current        float64   `json:"current"`
	ConsumptionMah uint32    `json:"consumption_mah"`
	Cells          int       `json:"cells"`
	RemainingMah   int       `json:"remaining_mah"`
	Timestamp      time.Time `json:"timestamp"`
}

// VoltagePerCell returns the pack voltage divided across cells, 0 when the
// cell count is unknown.
func (b BatteryStatus) VoltagePerCell() float64 {
	if b.Cells <= 0 {
		return 0
	}
	return b.Voltage / float64(b.Cells)
}

// FlightTimeMinutes estimates remaining flight time from the remaining
// capacity and present current draw, 0 when the draw is negligible.
func (b BatteryStatus) FlightTimeMinutes() float64 {
	if b.Current <= 0.1 {
		return 0
	}
	return float64(b.RemainingMah) / (b.Current * 1000) * 60
}

type EscReading struct {
	TemperatureC float64 `json:"temperature_c"`
	Voltage      float64 `json:"voltage"`
	Current      float64 `json:"current"`
	RPM          int     `json:"rpm"`
}

type EscStatus struct {
	Motors    [4]EscReading `json:"motors"`
	Timestamp time.Time     `json:"timestamp"`
}

type FlightModeStatus struct {
	Mode        string    `json:"mode"`
	Armed       bool      `json:"armed"`
	ArmingState string    `json:"arming_state"`
	Timestamp   time.Time `json:"timestamp"`
}

type GpsEnhancedStatus struct {
	FixType           int       `json:"fix_type"`
	SatellitesVisible int       `json:"satellites_visible"`
	HDOP              float64   `json:"hdop"`
	VDOP              float64   `json:"vdop"`
	HomeLatDeg        float64   `json:"home_lat_deg"`
	HomeLonDeg        float64   `json:"home_lon_deg"`
	HomeAltM          float64   `json:"home_alt_m"`
	Timestamp         time.Time `json:"timestamp"`
}

// HomeSet reports whether the controller has announced a home position.
func (g GpsEnhancedStatus) HomeSet() bool {
	return g.HomeLatDeg != 0 || g.HomeLonDeg != 0
}

type PidGainRecord struct {
	Axis      PIDAxis   `json:"-"`
	AxisName  string    `json:"axis"`
	P         float64   `json:"p"`
	I         float64   `json:"i"`
	D         float64   `json:"d"`
	Timestamp time.Time `json:"timestamp"`
}
