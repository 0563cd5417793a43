package telemetry

import (
	"sort"
	"sync"
	"time"

	geo "github.com/paulmach/go.geo"

	"mhive-gcs/internal/protocol"
)

// LiPo cell voltage bounds for the charge estimate. The curve is not
// linear but a linear fit is close enough for a dashboard gauge.
const (
	cellEmptyVolts = 3.3
	cellFullVolts  = 4.2
	cellLowVolts   = 3.5
)

// rateWindow is the sliding window for per-stream message rates.
const rateWindow = 5 * time.Second

type StoreConfig struct {
	// RateWindow overrides the rate measurement window, mainly for tests.
	RateWindow time.Duration
}

// Store keeps the latest value of every telemetry stream plus derived
// values the dashboard wants (battery charge, distance to home, message
// rates). Apply is called from the link reader goroutine; Snapshot from
// HTTP handlers.
type Store struct {
	cfg StoreConfig

	mu sync.RWMutex

	ahrs        *protocol.AhrsSample
	gps         *protocol.GpsFix
	battery     *protocol.BatteryStatus
	esc         *protocol.EscStatus
	flightMode  *protocol.FlightModeStatus
	gpsEnhanced *protocol.GpsEnhancedStatus
	pid         map[protocol.PIDAxis]protocol.PidGainRecord

	arrivals map[string][]time.Time
	lastSeen time.Time
}

type Snapshot struct {
	Ahrs        *protocol.AhrsSample        `json:"ahrs,omitempty"`
	Gps         *protocol.GpsFix            `json:"gps,omitempty"`
	Battery     *protocol.BatteryStatus     `json:"battery,omitempty"`
	Esc         *protocol.EscStatus         `json:"esc,omitempty"`
	FlightMode  *protocol.FlightModeStatus  `json:"flight_mode,omitempty"`
	GpsEnhanced *protocol.GpsEnhancedStatus `json:"gps_enhanced,omitempty"`
	PidGains    []protocol.PidGainRecord    `json:"pid_gains,omitempty"`

	BatteryPercent *float64 `json:"battery_percent,omitempty"`
	BatteryLow     bool     `json:"battery_low"`

	HomeDistanceM  *float64 `json:"home_distance_m,omitempty"`
	HomeBearingDeg *float64 `json:"home_bearing_deg,omitempty"`

	RatesHz       map[string]float64 `json:"rates_hz,omitempty"`
	LastUpdateUTC string             `json:"last_update_utc,omitempty"`
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = rateWindow
	}
	return &Store{
		cfg:      cfg,
		pid:      make(map[protocol.PIDAxis]protocol.PidGainRecord),
		arrivals: make(map[string][]time.Time),
	}
}

// Apply folds one decoded event into the latest-value state.
func (s *Store) Apply(ev protocol.Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	switch ev.Kind {
	case protocol.EventAhrs:
		v := *ev.Ahrs
		s.ahrs = &v
		s.mark("ahrs", now)
	case protocol.EventGps:
		v := *ev.Gps
		s.gps = &v
		s.mark("gps", now)
	case protocol.EventBattery:
		v := *ev.Battery
		s.battery = &v
		s.mark("battery", now)
	case protocol.EventEsc:
		v := *ev.Esc
		s.esc = &v
		s.mark("esc", now)
	case protocol.EventFlightMode:
		v := *ev.FlightMode
		s.flightMode = &v
		s.mark("flight_mode", now)
	case protocol.EventGpsEnhanced:
		v := *ev.GpsEnhanced
		s.gpsEnhanced = &v
		s.mark("gps_enhanced", now)
	case protocol.EventPidAck:
		s.pid[ev.PidAck.Axis] = *ev.PidAck
		s.mark("pid", now)
	default:
		return
	}
	s.lastSeen = now
}

func (s *Store) mark(stream string, now time.Time) {
	times := append(s.arrivals[stream], now)
	cutoff := now.Add(-s.cfg.RateWindow)
	for len(times) > 0 && times[0].Before(cutoff) {
		times = times[1:]
	}
	s.arrivals[stream] = times
}

// PidGains returns the last acknowledged gains, ordered by axis.
func (s *Store) PidGains() []protocol.PidGainRecord {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pidGainsLocked()
}

func (s *Store) pidGainsLocked() []protocol.PidGainRecord {
	out := make([]protocol.PidGainRecord, 0, len(s.pid))
	for _, rec := range s.pid {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Axis < out[j].Axis })
	return out
}

func (s *Store) Snapshot(nowUTC time.Time) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		Ahrs:        s.ahrs,
		Gps:         s.gps,
		Battery:     s.battery,
		Esc:         s.esc,
		FlightMode:  s.flightMode,
		GpsEnhanced: s.gpsEnhanced,
		PidGains:    s.pidGainsLocked(),
	}
	if !s.lastSeen.IsZero() {
		out.LastUpdateUTC = s.lastSeen.Format(time.RFC3339Nano)
	}

	if s.battery != nil && s.battery.Cells > 0 {
		pct := batteryPercent(s.battery.VoltagePerCell())
		out.BatteryPercent = &pct
		out.BatteryLow = s.battery.VoltagePerCell() < cellLowVolts
	}

	if s.gps != nil && s.gps.FixQuality > 0 && s.gpsEnhanced != nil && s.gpsEnhanced.HomeSet() {
		pos := geo.NewPoint(s.gps.LonDeg, s.gps.LatDeg)
		home := geo.NewPoint(s.gpsEnhanced.HomeLonDeg, s.gpsEnhanced.HomeLatDeg)
		dist := pos.GeoDistanceFrom(home, true)
		bearing := pos.BearingTo(home)
		if bearing < 0 {
			bearing += 360
		}
		out.HomeDistanceM = &dist
		out.HomeBearingDeg = &bearing
	}

	if len(s.arrivals) > 0 {
		rates := make(map[string]float64, len(s.arrivals))
		cutoff := nowUTC.Add(-s.cfg.RateWindow)
		for stream, times := range s.arrivals {
			n := 0
			for _, ts := range times {
				if !ts.Before(cutoff) {
					n++
				}
			}
			if n > 0 {
				rates[stream] = float64(n) / s.cfg.RateWindow.Seconds()
			}
		}
		if len(rates) > 0 {
			out.RatesHz = rates
		}
	}
	return out
}

func batteryPercent(vpc float64) float64 {
	pct := (vpc - cellEmptyVolts) / (cellFullVolts - cellEmptyVolts) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
