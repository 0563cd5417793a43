package telemetry

import "mhive-gcs/internal/protocol"

// UpdateFor maps a decoded event to its hub stream name and payload.
// ok is false for events that carry nothing to broadcast.
func UpdateFor(ev protocol.Event) (typ string, data interface{}, ok bool) {
	switch ev.Kind {
	case protocol.EventAhrs:
		return "ahrs", ev.Ahrs, true
	case protocol.EventGps:
		return "gps", ev.Gps, true
	case protocol.EventBattery:
		return "battery", ev.Battery, true
	case protocol.EventEsc:
		return "esc", ev.Esc, true
	case protocol.EventFlightMode:
		return "flight_mode", ev.FlightMode, true
	case protocol.EventGpsEnhanced:
		return "gps_enhanced", ev.GpsEnhanced, true
	case protocol.EventPidAck:
		return "pid", ev.PidAck, true
	default:
		return "", nil, false
	}
}
