package flightlog

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mhive-gcs/internal/protocol"
)

var logNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func TestService_StartStop(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Dir: dir})

	st, err := s.Start(logNow)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !st.Enabled {
		t.Fatalf("expected enabled")
	}
	if len(st.Files) != 5 {
		t.Fatalf("expected 5 stream files, got %d", len(st.Files))
	}
	for stream, path := range st.Files {
		if !strings.Contains(filepath.Base(path), "drone_"+stream+"_") {
			t.Fatalf("file name for %s: %q", stream, path)
		}
	}

	if _, err := s.Start(logNow); err == nil {
		t.Fatalf("second start must fail")
	}

	st, err = s.Stop(logNow.Add(90 * time.Second))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st.DurationSec != 90 {
		t.Fatalf("duration: got %v", st.DurationSec)
	}
	if _, err := s.Stop(logNow); err == nil {
		t.Fatalf("stop while stopped must fail")
	}
}

func TestService_RecordsRows(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Dir: dir})
	st, err := s.Start(logNow)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	s.Record(protocol.Event{Kind: protocol.EventAhrs, Ahrs: &protocol.AhrsSample{
		RollDeg: 1.5, PitchDeg: -2.25, YawDeg: 90, AltitudeM: 10, Timestamp: logNow,
	}})
	s.Record(protocol.Event{Kind: protocol.EventFlightMode, FlightMode: &protocol.FlightModeStatus{
		Mode: "STABILIZE", Armed: true, ArmingState: "ARMED", Timestamp: logNow,
	}})

	ahrsPath := st.Files["ahrs"]
	if _, err := s.Stop(logNow); err != nil {
		t.Fatalf("stop: %v", err)
	}

	f, err := os.Open(ahrsPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	if rows[0][1] != "Roll_Angle" {
		t.Fatalf("header: got %v", rows[0])
	}
	if rows[1][1] != "1.5" || rows[1][2] != "-2.25" {
		t.Fatalf("row: got %v", rows[1])
	}
}

func TestService_RecordWhileStoppedIsNoop(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})
	s.Record(protocol.Event{Kind: protocol.EventAhrs, Ahrs: &protocol.AhrsSample{}})
	if st := s.Status(logNow); st.Rows != 0 {
		t.Fatalf("expected no rows, got %d", st.Rows)
	}
}

func TestService_ExportGPX(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})
	if _, err := s.Start(logNow); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.Record(protocol.Event{Kind: protocol.EventGps, Gps: &protocol.GpsFix{
			LatDeg: 48.1173 + float64(i)*0.0001, LonDeg: 11.5167,
			AltitudeM: 100 + float64(i), FixQuality: 1,
			Timestamp: logNow.Add(time.Duration(i) * time.Second),
		}})
	}
	// Fixless samples never enter the track.
	s.Record(protocol.Event{Kind: protocol.EventGps, Gps: &protocol.GpsFix{Timestamp: logNow}})

	if st := s.Status(logNow); st.TrackPoints != 3 {
		t.Fatalf("track points: got %d", st.TrackPoints)
	}

	var buf bytes.Buffer
	if err := s.ExportGPX(&buf, "test flight"); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<gpx") || !strings.Contains(out, "<trkpt") {
		t.Fatalf("gpx output missing track: %s", out[:min(len(out), 200)])
	}
	if !strings.Contains(out, "48.117") {
		t.Fatalf("gpx output missing coordinates")
	}
}

func TestService_ExportGPXEmptyTrack(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})
	var buf bytes.Buffer
	if err := s.ExportGPX(&buf, "empty"); err == nil {
		t.Fatalf("expected error for empty track")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
