package web

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"mhive-gcs/internal/flightlog"
	"mhive-gcs/internal/link"
	"mhive-gcs/internal/protocol"
	"mhive-gcs/internal/telemetry"
)

// LinkController is the slice of the link manager the API needs.
type LinkController interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Snapshot(nowUTC time.Time) link.Snapshot
	SetTarget(port string, baud int)
	SendPIDGain(axis protocol.PIDAxis, p, i, d float64) error
	RequestPIDGains() error
	SendRaw(id byte, payload []byte) error
}

// Server holds handler dependencies. All fields must be set.
type Server struct {
	Status   *Status
	Settings SettingsStore
	Logs     *LogBuffer
	Link     LinkController
	Store    *telemetry.Store
	Logging  *flightlog.Service
	Hub      *telemetry.Hub

	// ListPorts is swappable for tests; defaults to link.ListPorts.
	ListPorts func() []string
}

func (s *Server) Handler() http.Handler {
	if s.ListPorts == nil {
		s.ListPorts = link.ListPorts
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, s.Status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/ports", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		ports := s.ListPorts()
		if ports == nil {
			ports = []string{}
		}
		writeJSON(w, struct {
			Ports []string `json:"ports"`
		}{Ports: ports})
	})

	mux.HandleFunc("/api/connect", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if err := s.applyConnectBody(w, r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// The session must outlive the request.
		if err := s.Link.Connect(context.Background()); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, s.Link.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/disconnect", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if err := s.Link.Disconnect(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, s.Link.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/telemetry", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, s.Store.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/pid", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, struct {
				Gains []protocol.PidGainRecord `json:"gains"`
			}{Gains: s.Store.PidGains()})
		case http.MethodPost:
			s.handlePidPost(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/send", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleSendPost(w, r)
	})

	mux.HandleFunc("/api/pid/request", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if err := s.Link.RequestPIDGains(); err != nil {
			httpLinkError(w, err)
			return
		}
		writeOK(w)
	})

	mux.HandleFunc("/api/logging/start", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		st, err := s.Logging.Start(time.Now().UTC())
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, st)
	})

	mux.HandleFunc("/api/logging/stop", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		st, err := s.Logging.Stop(time.Now().UTC())
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, st)
	})

	mux.HandleFunc("/api/logging/status", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, s.Logging.Status(time.Now().UTC()))
	})

	mux.HandleFunc("/api/logging/export-gpx", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		name := "flight " + time.Now().UTC().Format("2006-01-02 15:04")
		var buf bytes.Buffer
		if err := s.Logging.ExportGPX(&buf, name); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/gpx+xml")
		w.Header().Set("Content-Disposition", "attachment; filename=\"flight.gpx\"")
		_, _ = w.Write(buf.Bytes())
	})

	mux.Handle("/api/settings", s.Settings.Handler())

	if s.Logs != nil {
		mux.Handle("/api/logs", s.Logs.Handler())
	}

	mux.HandleFunc("/api/events", s.handleEvents)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := s.Status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>mhive-gcs</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>mhive-gcs</h1>")
		_, _ = fmt.Fprintf(w, "<p>Ground station API. See <a href=\"/api/status\">/api/status</a> and <a href=\"/api/telemetry\">/api/telemetry</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>link=%s port=%s frames_in=%d</pre>",
			snap.Link.State, snap.Link.Port, snap.Link.FramesIn,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// connectPayload is the optional POST body; both fields override the
// configured target for this and later sessions.
type connectPayload struct {
	Port *string `json:"port"`
	Baud *int    `json:"baud"`
}

// applyConnectBody reads an optional {port, baud} body and retargets the
// link. An empty body keeps the configured target.
func (s *Server) applyConnectBody(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read body failed")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var in connectPayload
	if err := dec.Decode(&in); err != nil {
		return fmt.Errorf("invalid json: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid json: trailing data")
	}
	port := ""
	if in.Port != nil {
		port = *in.Port
	}
	baud := 0
	if in.Baud != nil {
		if *in.Baud <= 0 {
			return fmt.Errorf("baud must be > 0")
		}
		baud = *in.Baud
	}
	s.Link.SetTarget(port, baud)
	return nil
}

// pidPostPayload is the strict POST schema: every field required, no
// partial updates.
type pidPostPayload struct {
	Axis *string  `json:"axis"`
	P    *float64 `json:"p"`
	I    *float64 `json:"i"`
	D    *float64 `json:"d"`
}

func (s *Server) handlePidPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var in pidPostPayload
	if err := dec.Decode(&in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json: trailing data", http.StatusBadRequest)
		return
	}
	if in.Axis == nil || in.P == nil || in.I == nil || in.D == nil {
		http.Error(w, "axis, p, i and d are required", http.StatusBadRequest)
		return
	}
	axis, ok := protocol.ParsePIDAxis(*in.Axis)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown axis %q", *in.Axis), http.StatusBadRequest)
		return
	}
	for _, v := range []float64{*in.P, *in.I, *in.D} {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1000 {
			http.Error(w, "gains must be finite and within [-1000, 1000]", http.StatusBadRequest)
			return
		}
	}
	if err := s.Link.SendPIDGain(axis, *in.P, *in.I, *in.D); err != nil {
		httpLinkError(w, err)
		return
	}
	writeOK(w)
}

// sendPostPayload carries a raw outbound frame: the message ID plus a
// hex-encoded payload. "payload" may be omitted for an empty payload.
type sendPostPayload struct {
	ID      *int    `json:"id"`
	Payload *string `json:"payload"`
}

func (s *Server) handleSendPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var in sendPostPayload
	if err := dec.Decode(&in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json: trailing data", http.StatusBadRequest)
		return
	}
	if in.ID == nil {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if *in.ID < 0 || *in.ID > 0xFF {
		http.Error(w, "id must be in [0, 255]", http.StatusBadRequest)
		return
	}
	var payload []byte
	if in.Payload != nil && *in.Payload != "" {
		payload, err = hex.DecodeString(*in.Payload)
		if err != nil {
			http.Error(w, "payload must be hex encoded", http.StatusBadRequest)
			return
		}
	}
	if len(payload) > protocol.PayloadSize {
		http.Error(w, fmt.Sprintf("payload exceeds %d bytes", protocol.PayloadSize), http.StatusBadRequest)
		return
	}
	if err := s.Link.SendRaw(byte(*in.ID), payload); err != nil {
		httpLinkError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) Serve(ctx context.Context, listenAddr string) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{\"ok\":true}\n"))
}

func httpLinkError(w http.ResponseWriter, err error) {
	if errors.Is(err, link.ErrNotConnected) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}
