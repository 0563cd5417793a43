package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mhive-gcs/internal/config"
)

type SettingsPayload struct {
	SerialPort           string `json:"serial_port"`
	SerialBaud           int    `json:"serial_baud"`
	WebListen            string `json:"web_listen"`
	LogDir               string `json:"log_dir"`
	ReconnectMaxAttempts int    `json:"reconnect_max_attempts"`
	ReconnectBackoff     string `json:"reconnect_backoff"`
}

// SettingsPayloadIn is the strict POST schema.
//
// All fields are required (no partial updates) to avoid hidden defaults and
// prevent accidental schema drift.
type SettingsPayloadIn struct {
	SerialPort           *string `json:"serial_port"`
	SerialBaud           *int    `json:"serial_baud"`
	WebListen            *string `json:"web_listen"`
	LogDir               *string `json:"log_dir"`
	ReconnectMaxAttempts *int    `json:"reconnect_max_attempts"`
	ReconnectBackoff     *string `json:"reconnect_backoff"`
}

var settingsPostKeys = []string{
	"serial_port",
	"serial_baud",
	"web_listen",
	"log_dir",
	"reconnect_max_attempts",
	"reconnect_backoff",
}

func decodeSettingsPayloadInStrict(body []byte) (SettingsPayloadIn, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	// First pass: stream tokens to enforce strict object rules and detect
	// duplicate keys.
	allowed := make(map[string]struct{}, len(settingsPostKeys))
	for _, k := range settingsPostKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(settingsPostKeys))

	tok, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected object")
	}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return SettingsPayloadIn{}, errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}

	end, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok = end.(json.Delim)
	if !ok || delim != '}' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected end of object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}

	for _, k := range settingsPostKeys {
		if _, ok := seen[k]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	// Second pass: decode into the typed struct.
	var out SettingsPayloadIn
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(&out); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := dec2.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}

	return out, nil
}

func configToSettingsPayload(cfg config.Config) SettingsPayload {
	return SettingsPayload{
		SerialPort:           cfg.Serial.Port,
		SerialBaud:           cfg.Serial.Baud,
		WebListen:            cfg.Web.Listen,
		LogDir:               cfg.Log.Dir,
		ReconnectMaxAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectBackoff:     cfg.Reconnect.Backoff.String(),
	}
}

func applySettingsPayload(cfg *config.Config, p SettingsPayloadIn) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if *p.SerialBaud <= 0 {
		return errors.New("serial_baud must be > 0")
	}
	if strings.TrimSpace(*p.WebListen) == "" {
		return errors.New("web_listen must be non-empty")
	}
	if strings.TrimSpace(*p.LogDir) == "" {
		return errors.New("log_dir must be non-empty")
	}
	if *p.ReconnectMaxAttempts <= 0 {
		return errors.New("reconnect_max_attempts must be > 0")
	}
	backoffStr := strings.TrimSpace(*p.ReconnectBackoff)
	d, err := time.ParseDuration(backoffStr)
	if err != nil {
		return fmt.Errorf("invalid reconnect_backoff %q: %w", backoffStr, err)
	}
	if d <= 0 {
		return errors.New("reconnect_backoff must be > 0")
	}

	// Serial port may be empty: the link then probes enumerated ports.
	cfg.Serial.Port = strings.TrimSpace(*p.SerialPort)
	cfg.Serial.Baud = *p.SerialBaud
	cfg.Web.Listen = strings.TrimSpace(*p.WebListen)
	cfg.Log.Dir = strings.TrimSpace(*p.LogDir)
	cfg.Reconnect.MaxAttempts = *p.ReconnectMaxAttempts
	cfg.Reconnect.Backoff = d
	return nil
}

type SettingsStore struct {
	ConfigPath string
	// Apply, when set, is called after validation and before saving.
	// If Apply returns an error, the config is not saved.
	// Apply is expected to make the new config effective immediately,
	// except for web_listen which needs a restart.
	Apply func(cfg config.Config) error
}

func (s SettingsStore) load() (config.Config, error) {
	return config.Load(s.ConfigPath)
}

func (s SettingsStore) save(cfg config.Config) error {
	cfg, err := cfg.DefaultAndValidate()
	if err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	// Write atomically to avoid corrupting config on crash/power loss.
	// Use a temp file in the same directory so os.Rename is atomic.
	dir := filepath.Dir(s.ConfigPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.ConfigPath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.ConfigPath)
}

func (s SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			cfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, configToSettingsPayload(cfg))

		case http.MethodPost:
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
			if err != nil {
				http.Error(w, "read body failed", http.StatusBadRequest)
				return
			}
			in, err := decodeSettingsPayloadInStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			if err := applySettingsPayload(&cfg, in); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if s.Apply != nil {
				if err := s.Apply(cfg); err != nil {
					http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
					return
				}
			}
			if err := s.save(cfg); err != nil {
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, configToSettingsPayload(cfg))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
