package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Battery voltage is not carried by NMEA sentences; the protocol defines a
// fixed stand-in so downstream consumers always see a plausible pack voltage.
const nmeaDefaultBatteryVoltage = 11.5

// ParseNMEA parses one NMEA sentence into a position fix.
//
// Supported: GPGGA (position, fix quality, satellites, altitude), GPRMC
// (position, validity from the status field), GPGSV (satellite info only,
// never a position). The sentence must start with '$', contain a '*'
// checksum delimiter and a 5-character type code; the checksum value itself
// is not verified because the controller firmware emits placeholder
// checksums on some builds.
//
// Returns ok=false for unsupported types, malformed sentences, and GPGSV.
func ParseNMEA(line string, now time.Time) (GpsFix, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") || !strings.Contains(line, "*") {
		return GpsFix{}, false
	}
	if len(line) < 6 {
		return GpsFix{}, false
	}
	switch line[1:6] {
	case "GPGGA":
		return parseGPGGA(line, now)
	case "GPRMC":
		return parseGPRMC(line, now)
	case "GPGSV":
		// Satellite-in-view counts only; no position to report.
		return GpsFix{}, false
	default:
		return GpsFix{}, false
	}
}

// GPGGA fields: 1 time, 2-3 lat+hemi, 4-5 lon+hemi, 6 fix quality,
// 7 satellites, 8 HDOP, 9-10 altitude+unit.
func parseGPGGA(line string, now time.Time) (GpsFix, bool) {
	f := strings.Split(line, ",")
	if len(f) < 15 {
		return GpsFix{}, false
	}
	fix := GpsFix{
		BatteryVoltage: nmeaDefaultBatteryVoltage,
		Timestamp:      now,
	}
	fix.LatDeg, _ = nmeaCoord(f[2], f[3], 2)
	fix.LonDeg, _ = nmeaCoord(f[4], f[5], 3)
	if q, err := strconv.Atoi(strings.TrimSpace(f[6])); err == nil {
		fix.FixQuality = q
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		fix.Satellites = sats
	}
	if alt, err := strconv.ParseFloat(strings.TrimSpace(f[9]), 64); err == nil {
		fix.AltitudeM = alt
	}
	return fix, true
}

// GPRMC fields: 1 time, 2 status (A=valid), 3-4 lat+hemi, 5-6 lon+hemi.
// No altitude or satellite count is available.
func parseGPRMC(line string, now time.Time) (GpsFix, bool) {
	f := strings.Split(line, ",")
	if len(f) < 12 {
		return GpsFix{}, false
	}
	fix := GpsFix{
		BatteryVoltage: nmeaDefaultBatteryVoltage,
		Timestamp:      now,
	}
	if strings.TrimSpace(f[2]) == "A" {
		fix.FixQuality = 1
	}
	fix.LatDeg, _ = nmeaCoord(f[3], f[4], 2)
	fix.LonDeg, _ = nmeaCoord(f[5], f[6], 3)
	return fix, true
}

// nmeaCoord converts DDMM.MMMM (degDigits=2) or DDDMM.MMMM (degDigits=3)
// plus a hemisphere letter into signed decimal degrees.
func nmeaCoord(v, hemi string, degDigits int) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || v == "0" || len(v) <= degDigits {
		return 0, false
	}
	deg, err := strconv.ParseFloat(v[:degDigits], 64)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[degDigits:], 64)
	if err != nil {
		return 0, false
	}
	dec := deg + mins/60
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
