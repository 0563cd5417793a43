package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrOutOfRange marks a payload that decoded cleanly but carries values the
// protocol considers implausible. Garbled bytes in the right positions can
// pass the checksum yet fail these sanity bounds; such frames are dropped,
// not surfaced as corruption.
var ErrOutOfRange = errors.New("value out of range")

var flightModeNames = map[byte]string{
	0: "MANUAL",
	1: "STABILIZE",
	2: "ALT_HOLD",
	3: "AUTO",
	4: "RTL",
	5: "LAND",
}

var armingStateNames = map[byte]string{
	0: "STANDBY",
	1: "ARMING",
	2: "ARMED",
	3: "DISARMING",
}

// DecodeAhrs decodes the 0x10 AHRS payload: four i16/u16 angle+altitude
// values followed by their setpoints, all little-endian.
// Scales: angles /100, altitude /10.
func DecodeAhrs(p []byte, now time.Time) (AhrsSample, error) {
	if len(p) < PayloadSize {
		return AhrsSample{}, fmt.Errorf("ahrs payload too short: %d bytes", len(p))
	}
	s := AhrsSample{
		RollDeg:    float64(int16(binary.LittleEndian.Uint16(p[0:2]))) / 100,
		PitchDeg:   float64(int16(binary.LittleEndian.Uint16(p[2:4]))) / 100,
		YawDeg:     float64(binary.LittleEndian.Uint16(p[4:6])) / 100,
		AltitudeM:  float64(int16(binary.LittleEndian.Uint16(p[6:8]))) / 10,
		RollSPDeg:  float64(int16(binary.LittleEndian.Uint16(p[8:10]))) / 100,
		PitchSPDeg: float64(int16(binary.LittleEndian.Uint16(p[10:12]))) / 100,
		YawSPDeg:   float64(binary.LittleEndian.Uint16(p[12:14])) / 100,
		AltitudeSP: float64(int16(binary.LittleEndian.Uint16(p[14:16]))) / 10,
		Timestamp:  now,
	}
	// 180/360 are the inclusive boundary; only beyond is rejected.
	if math.Abs(s.RollDeg) > 180 || math.Abs(s.PitchDeg) > 180 || math.Abs(s.YawDeg) > 360 {
		return AhrsSample{}, fmt.Errorf("%w: roll=%.2f pitch=%.2f yaw=%.2f", ErrOutOfRange, s.RollDeg, s.PitchDeg, s.YawDeg)
	}
	return s, nil
}

// DecodeGps decodes the 0x11 binary GPS payload: lat/lon as i32 at 1e-7 deg
// resolution, battery voltage u16/100, then the iBus switch and failsafe
// bytes. Altitude is not carried by this message.
func DecodeGps(p []byte, now time.Time) (GpsFix, error) {
	if len(p) < 13 {
		return GpsFix{}, fmt.Errorf("gps payload too short: %d bytes", len(p))
	}
	fix := GpsFix{
		LatDeg:         float64(int32(binary.LittleEndian.Uint32(p[0:4]))) / 1e7,
		LonDeg:         float64(int32(binary.LittleEndian.Uint32(p[4:8]))) / 1e7,
		BatteryVoltage: float64(binary.LittleEndian.Uint16(p[8:10])) / 100,
		SwA:            int(p[10]),
		SwC:            int(p[11]),
		Failsafe:       int(p[12]),
		Timestamp:      now,
	}
	if math.Abs(fix.LatDeg) > 90 || math.Abs(fix.LonDeg) > 180 {
		return GpsFix{}, fmt.Errorf("%w: lat=%.7f lon=%.7f", ErrOutOfRange, fix.LatDeg, fix.LonDeg)
	}
	// No fix-quality field on the wire; a zero position means no lock yet.
	if fix.LatDeg != 0 || fix.LonDeg != 0 {
		fix.FixQuality = 1
	}
	return fix, nil
}

// DecodePidGain decodes a 0x00-0x05 PID set/ack payload: three little-endian
// float32 values (P, I, D).
func DecodePidGain(id byte, p []byte, now time.Time) (PidGainRecord, error) {
	if len(p) < 12 {
		return PidGainRecord{}, fmt.Errorf("pid payload too short: %d bytes", len(p))
	}
	axis := PIDAxis(id)
	rec := PidGainRecord{
		Axis:      axis,
		AxisName:  axis.String(),
		P:         float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:4]))),
		I:         float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:8]))),
		D:         float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:12]))),
		Timestamp: now,
	}
	for _, v := range []float64{rec.P, rec.I, rec.D} {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1000 {
			return PidGainRecord{}, fmt.Errorf("%w: p=%g i=%g d=%g", ErrOutOfRange, rec.P, rec.I, rec.D)
		}
	}
	return rec, nil
}

// DecodeBattery decodes the 0x12 battery payload.
func DecodeBattery(p []byte, now time.Time) (BatteryStatus, error) {
	if len(p) < 11 {
		return BatteryStatus{}, fmt.Errorf("battery payload too short: %d bytes", len(p))
	}
	return BatteryStatus{
		Voltage:        float64(binary.LittleEndian.Uint16(p[0:2])) / 100,
		Current:        float64(int16(binary.LittleEndian.Uint16(p[2:4]))) / 100,
		ConsumptionMah: binary.LittleEndian.Uint32(p[4:8]),
		Cells:          int(p[8]),
		RemainingMah:   int(binary.LittleEndian.Uint16(p[9:11])),
		Timestamp:      now,
	}, nil
}

// DecodeEsc decodes the 0x13 ESC payload: 3 bytes per motor
// (temperature, voltage/10, current/10) for 4 motors. RPM is not on the wire.
func DecodeEsc(p []byte, now time.Time) (EscStatus, error) {
	if len(p) < 12 {
		return EscStatus{}, fmt.Errorf("esc payload too short: %d bytes", len(p))
	}
	var st EscStatus
	st.Timestamp = now
	for i := 0; i < 4; i++ {
		off := i * 3
		st.Motors[i] = EscReading{
			TemperatureC: float64(p[off]),
			Voltage:      float64(p[off+1]) / 10,
			Current:      float64(p[off+2]) / 10,
		}
	}
	return st, nil
}

// DecodeFlightMode decodes the 0x14 payload: mode byte plus an arming byte
// (bit 0 = armed, bits 1-2 = arming state).
func DecodeFlightMode(p []byte, now time.Time) (FlightModeStatus, error) {
	if len(p) < 2 {
		return FlightModeStatus{}, fmt.Errorf("flight mode payload too short: %d bytes", len(p))
	}
	mode, ok := flightModeNames[p[0]]
	if !ok {
		mode = "UNKNOWN"
	}
	arming, ok := armingStateNames[(p[1]>>1)&0x03]
	if !ok {
		arming = "UNKNOWN"
	}
	return FlightModeStatus{
		Mode:        mode,
		Armed:       p[1]&0x01 != 0,
		ArmingState: arming,
		Timestamp:   now,
	}, nil
}

// DecodeGpsEnhanced decodes the 0x15 payload: fix type, visible satellites,
// HDOP/VDOP u16/100, and the home position (i32 lat/lon at 1e-7, i16 alt/10).
func DecodeGpsEnhanced(p []byte, now time.Time) (GpsEnhancedStatus, error) {
	if len(p) < PayloadSize {
		return GpsEnhancedStatus{}, fmt.Errorf("gps enhanced payload too short: %d bytes", len(p))
	}
	st := GpsEnhancedStatus{
		FixType:           int(p[0]),
		SatellitesVisible: int(p[1]),
		HDOP:              float64(binary.LittleEndian.Uint16(p[2:4])) / 100,
		VDOP:              float64(binary.LittleEndian.Uint16(p[4:6])) / 100,
		HomeLatDeg:        float64(int32(binary.LittleEndian.Uint32(p[6:10]))) / 1e7,
		HomeLonDeg:        float64(int32(binary.LittleEndian.Uint32(p[10:14]))) / 1e7,
		HomeAltM:          float64(int16(binary.LittleEndian.Uint16(p[14:16]))) / 10,
		Timestamp:         now,
	}
	if math.Abs(st.HomeLatDeg) > 90 || math.Abs(st.HomeLonDeg) > 180 {
		return GpsEnhancedStatus{}, fmt.Errorf("%w: home lat=%.7f lon=%.7f", ErrOutOfRange, st.HomeLatDeg, st.HomeLonDeg)
	}
	return st, nil
}
