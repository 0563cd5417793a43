package flightlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"mhive-gcs/internal/protocol"
)

// One CSV file per telemetry stream, opened together on Start.
var streamHeaders = map[string][]string{
	"ahrs": {"Timestamp", "Roll_Angle", "Pitch_Angle", "Yaw_Angle", "Altitude",
		"Roll_Setpoint", "Pitch_Setpoint", "Yaw_Setpoint", "Altitude_Setpoint"},
	"gps":     {"Timestamp", "Latitude", "Longitude", "Altitude", "Fix_Quality", "Satellites"},
	"battery": {"Timestamp", "Voltage", "Current", "Consumption_mAh", "Cells", "Flight_Time_Min"},
	"motors": {"Timestamp",
		"ESC1_Temp", "ESC1_Volt", "ESC1_Curr", "ESC1_RPM",
		"ESC2_Temp", "ESC2_Volt", "ESC2_Curr", "ESC2_RPM",
		"ESC3_Temp", "ESC3_Volt", "ESC3_Curr", "ESC3_RPM",
		"ESC4_Temp", "ESC4_Volt", "ESC4_Curr", "ESC4_RPM"},
	"flight_modes": {"Timestamp", "Flight_Mode", "Armed", "Arming_State"},
}

type Config struct {
	// Dir is where log files are written. Created on first Start.
	Dir string
}

// Service records telemetry to per-stream CSV files and keeps the GPS
// track of the session for GPX export. Record is called from the link
// reader goroutine; everything else from HTTP handlers.
type Service struct {
	cfg Config

	mu        sync.Mutex
	enabled   bool
	startedAt time.Time
	files     map[string]*os.File
	writers   map[string]*csv.Writer
	rows      uint64
	track     []trackPoint
}

type trackPoint struct {
	lat, lon, alt float64
	at            time.Time
}

type Status struct {
	Enabled     bool              `json:"enabled"`
	Dir         string            `json:"dir"`
	StartedUTC  string            `json:"started_utc,omitempty"`
	DurationSec float64           `json:"duration_sec,omitempty"`
	Files       map[string]string `json:"files,omitempty"`
	Rows        uint64            `json:"rows"`
	TrackPoints int               `json:"track_points"`
}

func New(cfg Config) *Service {
	if cfg.Dir == "" {
		cfg.Dir = "sensor-logs"
	}
	return &Service{cfg: cfg}
}

// Start opens one timestamped CSV per stream and begins recording. The
// GPS track resets so an export covers exactly one logging session.
func (s *Service) Start(nowUTC time.Time) (Status, error) {
	if s == nil {
		return Status{}, fmt.Errorf("flightlog service is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return s.statusLocked(nowUTC), fmt.Errorf("logging already started")
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return Status{}, fmt.Errorf("create log dir: %w", err)
	}

	stamp := nowUTC.Format("20060102_150405")
	files := make(map[string]*os.File, len(streamHeaders))
	writers := make(map[string]*csv.Writer, len(streamHeaders))
	for stream, header := range streamHeaders {
		path := filepath.Join(s.cfg.Dir, fmt.Sprintf("drone_%s_%s.csv", stream, stamp))
		f, err := os.Create(path)
		if err != nil {
			for _, open := range files {
				_ = open.Close()
			}
			return Status{}, fmt.Errorf("create %s log: %w", stream, err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			for _, open := range files {
				_ = open.Close()
			}
			_ = f.Close()
			return Status{}, fmt.Errorf("write %s header: %w", stream, err)
		}
		w.Flush()
		files[stream] = f
		writers[stream] = w
	}

	s.enabled = true
	s.startedAt = nowUTC
	s.files = files
	s.writers = writers
	s.rows = 0
	s.track = nil
	return s.statusLocked(nowUTC), nil
}

// Stop flushes and closes every stream file.
func (s *Service) Stop(nowUTC time.Time) (Status, error) {
	if s == nil {
		return Status{}, fmt.Errorf("flightlog service is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return s.statusLocked(nowUTC), fmt.Errorf("logging not started")
	}

	var firstErr error
	for stream, w := range s.writers {
		w.Flush()
		if err := w.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush %s log: %w", stream, err)
		}
	}
	for stream, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s log: %w", stream, err)
		}
	}

	out := s.statusLocked(nowUTC)
	s.enabled = false
	s.files = nil
	s.writers = nil
	return out, firstErr
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	_, _ = s.Stop(time.Now().UTC())
}

func (s *Service) Status(nowUTC time.Time) Status {
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(nowUTC)
}

func (s *Service) statusLocked(nowUTC time.Time) Status {
	out := Status{
		Enabled:     s.enabled,
		Dir:         s.cfg.Dir,
		Rows:        s.rows,
		TrackPoints: len(s.track),
	}
	if s.enabled {
		out.StartedUTC = s.startedAt.UTC().Format(time.RFC3339)
		out.DurationSec = nowUTC.Sub(s.startedAt).Seconds()
		out.Files = make(map[string]string, len(s.files))
		for stream, f := range s.files {
			out.Files[stream] = f.Name()
		}
	}
	return out
}

// Record writes one row for the event's stream. A no-op while logging
// is stopped.
func (s *Service) Record(ev protocol.Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}

	switch ev.Kind {
	case protocol.EventAhrs:
		a := ev.Ahrs
		s.writeRow("ahrs", a.Timestamp, []string{
			ftoa(a.RollDeg), ftoa(a.PitchDeg), ftoa(a.YawDeg), ftoa(a.AltitudeM),
			ftoa(a.RollSPDeg), ftoa(a.PitchSPDeg), ftoa(a.YawSPDeg), ftoa(a.AltitudeSP),
		})
	case protocol.EventGps:
		g := ev.Gps
		s.writeRow("gps", g.Timestamp, []string{
			ftoa(g.LatDeg), ftoa(g.LonDeg), ftoa(g.AltitudeM),
			strconv.Itoa(g.FixQuality), strconv.Itoa(g.Satellites),
		})
		if g.FixQuality > 0 {
			s.track = append(s.track, trackPoint{lat: g.LatDeg, lon: g.LonDeg, alt: g.AltitudeM, at: g.Timestamp})
		}
	case protocol.EventBattery:
		b := ev.Battery
		s.writeRow("battery", b.Timestamp, []string{
			ftoa(b.Voltage), ftoa(b.Current), strconv.FormatUint(uint64(b.ConsumptionMah), 10),
			strconv.Itoa(b.Cells), ftoa(b.FlightTimeMinutes()),
		})
	case protocol.EventEsc:
		e := ev.Esc
		row := make([]string, 0, 16)
		for _, m := range e.Motors {
			row = append(row, ftoa(m.TemperatureC), ftoa(m.Voltage), ftoa(m.Current), strconv.Itoa(m.RPM))
		}
		s.writeRow("motors", e.Timestamp, row)
	case protocol.EventFlightMode:
		fm := ev.FlightMode
		s.writeRow("flight_modes", fm.Timestamp, []string{
			fm.Mode, strconv.FormatBool(fm.Armed), fm.ArmingState,
		})
	}
}

func (s *Service) writeRow(stream string, at time.Time, fields []string) {
	w, ok := s.writers[stream]
	if !ok {
		return
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := append([]string{at.UTC().Format(time.RFC3339Nano)}, fields...)
	if err := w.Write(row); err != nil {
		return
	}
	w.Flush()
	s.rows++
}

// ExportGPX writes the recorded GPS track as a GPX 1.1 document.
func (s *Service) ExportGPX(w io.Writer, name string) error {
	if s == nil {
		return fmt.Errorf("flightlog service is nil")
	}
	s.mu.Lock()
	points := append([]trackPoint(nil), s.track...)
	s.mu.Unlock()
	if len(points) == 0 {
		return fmt.Errorf("no track points recorded")
	}

	g := &gpx.GPX{Name: name, Creator: "mhive-gcs"}
	g.AppendTrack(&gpx.GPXTrack{Name: name})
	g.Tracks[0].AppendSegment(&gpx.GPXTrackSegment{})
	for _, p := range points {
		g.Tracks[0].Segments[0].AppendPoint(&gpx.GPXPoint{
			Point:     gpx.Point{Latitude: p.lat, Longitude: p.lon, Elevation: *gpx.NewNullableFloat64(p.alt)},
			Timestamp: p.at,
		})
	}

	xml, err := g.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return fmt.Errorf("encode gpx: %w", err)
	}
	if _, err := w.Write(xml); err != nil {
		return fmt.Errorf("write gpx: %w", err)
	}
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
