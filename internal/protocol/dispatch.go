package protocol

import "time"

// EventKind identifies which telemetry record an Event carries.
type EventKind int

const (
	EventDropped EventKind = iota
	EventUnknown
	EventAhrs
	EventGps
	EventPidAck
	EventBattery
	EventEsc
	EventFlightMode
	EventGpsEnhanced
)

// Event is the decoded result of one stream message. Exactly one of the
// record pointers is set for a decoded kind; Err explains EventDropped.
type Event struct {
	Kind      EventKind
	MessageID byte
	Err       error

	Ahrs        *AhrsSample
	Gps         *GpsFix
	PidAck      *PidGainRecord
	Battery     *BatteryStatus
	Esc         *EscStatus
	FlightMode  *FlightModeStatus
	GpsEnhanced *GpsEnhancedStatus
}

// Dispatch decodes one demuxed message into a typed event. Frames that
// fail structural checks or payload validation come back as EventDropped
// with the cause in Err; frames with an ID the decoder does not know are
// EventUnknown so callers can count them without treating them as errors.
func Dispatch(m Message, now time.Time) Event {
	if m.Kind == KindSentence {
		fix, ok := ParseNMEA(m.Sentence, now)
		if !ok {
			return Event{Kind: EventDropped}
		}
		return Event{Kind: EventGps, Gps: &fix}
	}

	frame, err := DecodeFrame(m.Frame)
	if err != nil {
		return Event{Kind: EventDropped, Err: err}
	}

	ev := Event{MessageID: frame.ID}
	switch frame.ID {
	case MsgPIDRollInner, MsgPIDRollOuter, MsgPIDPitchInner, MsgPIDPitchOuter, MsgPIDYawAngle, MsgPIDYawRate:
		rec, err := DecodePidGain(frame.ID, frame.Payload[:], now)
		if err != nil {
			return Event{Kind: EventDropped, MessageID: frame.ID, Err: err}
		}
		ev.Kind = EventPidAck
		ev.PidAck = &rec
	case MsgAHRS:
		rec, err := DecodeAhrs(frame.Payload[:], now)
		if err != nil {
			return Event{Kind: EventDropped, MessageID: frame.ID, Err: err}
		}
		ev.Kind = EventAhrs
		ev.Ahrs = &rec
	case MsgGPS:
		rec, err := DecodeGps(frame.Payload[:], now)
		if err != nil {
			return Event{Kind: EventDropped, MessageID: frame.ID, Err: err}
		}
		ev.Kind = EventGps
		ev.Gps = &rec
	case MsgBattery:
		rec, err := DecodeBattery(frame.Payload[:], now)
		if err != nil {
			return Event{Kind: EventDropped, MessageID: frame.ID, Err: err}
		}
		ev.Kind = EventBattery
		ev.Battery = &rec
	case MsgESC:
		rec, err := DecodeEsc(frame.Payload[:], now)
		if err != nil {
			return Event{Kind: EventDropped, MessageID: frame.ID, Err: err}
		}
		ev.Kind = EventEsc
		ev.Esc = &rec
	case MsgFlightMode:
		rec, err := DecodeFlightMode(frame.Payload[:], now)
		if err != nil {
			return Event{Kind: EventDropped, MessageID: frame.ID, Err: err}
		}
		ev.Kind = EventFlightMode
		ev.FlightMode = &rec
	case MsgGPSEnhanced:
		rec, err := DecodeGpsEnhanced(frame.Payload[:], now)
		if err != nil {
			return Event{Kind: EventDropped, MessageID: frame.ID, Err: err}
		}
		ev.Kind = EventGpsEnhanced
		ev.GpsEnhanced = &rec
	default:
		ev.Kind = EventUnknown
	}
	return ev
}
