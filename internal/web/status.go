package web

import (
	"time"

	"mhive-gcs/internal/flightlog"
	"mhive-gcs/internal/link"
	"mhive-gcs/internal/telemetry"
)

// Status aggregates the health of every service for /api/status.
type Status struct {
	start   time.Time
	version string

	link    LinkController
	logging *flightlog.Service
	hub     *telemetry.Hub
}

type StatusSnapshot struct {
	Version     string           `json:"version"`
	NowUTC      string           `json:"now_utc"`
	UptimeSec   float64          `json:"uptime_sec"`
	Link        link.Snapshot    `json:"link"`
	Logging     flightlog.Status `json:"logging"`
	Subscribers int              `json:"subscribers"`
}

func NewStatus(version string, lk LinkController, logging *flightlog.Service, hub *telemetry.Hub) *Status {
	return &Status{
		start:   time.Now().UTC(),
		version: version,
		link:    lk,
		logging: logging,
		hub:     hub,
	}
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if s == nil {
		return StatusSnapshot{}
	}
	return StatusSnapshot{
		Version:     s.version,
		NowUTC:      nowUTC.Format(time.RFC3339Nano),
		UptimeSec:   nowUTC.Sub(s.start).Seconds(),
		Link:        s.link.Snapshot(nowUTC),
		Logging:     s.logging.Status(nowUTC),
		Subscribers: s.hub.Subscribers(),
	}
}
