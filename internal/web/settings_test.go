package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mhive-gcs/internal/config"
)

const settingsBodyOK = `{
  "serial_port": "/dev/ttyACM1",
  "serial_baud": 57600,
  "web_listen": "127.0.0.1:9000",
  "log_dir": "flight-logs",
  "reconnect_max_attempts": 8,
  "reconnect_backoff": "500ms"
}`

func newSettingsServer(t *testing.T, apply func(config.Config) error) (*httptest.Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	store := SettingsStore{ConfigPath: path, Apply: apply}
	srv := httptest.NewServer(store.Handler())
	t.Cleanup(srv.Close)
	return srv, path
}

func TestSettingsGet_Defaults(t *testing.T) {
	srv, _ := newSettingsServer(t, nil)
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var p SettingsPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.SerialBaud != 115200 || p.WebListen != "127.0.0.1:5001" || p.ReconnectBackoff != "2s" {
		t.Fatalf("payload=%+v", p)
	}
}

func TestSettingsPost_SavesAndApplies(t *testing.T) {
	var applied *config.Config
	srv, path := newSettingsServer(t, func(cfg config.Config) error {
		applied = &cfg
		return nil
	})

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(settingsBodyOK))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}

	if applied == nil {
		t.Fatalf("apply not called")
	}
	if applied.Serial.Port != "/dev/ttyACM1" || applied.Reconnect.Backoff != 500*time.Millisecond {
		t.Fatalf("applied=%+v", applied)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Serial.Baud != 57600 || cfg.Log.Dir != "flight-logs" || cfg.Reconnect.MaxAttempts != 8 {
		t.Fatalf("saved=%+v", cfg)
	}
}

func TestSettingsPost_ApplyErrorBlocksSave(t *testing.T) {
	srv, path := newSettingsServer(t, func(config.Config) error {
		return os.ErrPermission
	})
	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(settingsBodyOK))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("config must not be written when apply fails")
	}
}

func TestSettingsPost_Rejects(t *testing.T) {
	srv, _ := newSettingsServer(t, nil)
	cases := []struct {
		name string
		body string
	}{
		{"MissingKey", `{"serial_port":"","serial_baud":115200,"web_listen":"127.0.0.1:5001","log_dir":"x","reconnect_max_attempts":5}`},
		{"UnknownKey", strings.Replace(settingsBodyOK, "serial_port", "serial_prot", 1)},
		{"NullValue", strings.Replace(settingsBodyOK, `"/dev/ttyACM1"`, "null", 1)},
		{"DuplicateKey", `{"serial_port":"a","serial_port":"b","serial_baud":115200,"web_listen":"x","log_dir":"y","reconnect_max_attempts":5,"reconnect_backoff":"1s"}`},
		{"BadBackoff", strings.Replace(settingsBodyOK, `"500ms"`, `"fast"`, 1)},
		{"ZeroBaud", strings.Replace(settingsBodyOK, "57600", "0", 1)},
		{"NotObject", `"settings"`},
		{"TrailingData", settingsBodyOK + "{}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL, "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", resp.StatusCode, body)
			}
		})
	}
}

func TestSettings_NoConfigPath(t *testing.T) {
	srv := httptest.NewServer(SettingsStore{}.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
