package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type SerialConfig struct {
	// Port may be empty; enumerated ports are probed instead.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Dir string `yaml:"dir"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// Load reads a YAML config file. A missing file is not an error; the
// defaults stand in so the station runs with zero configuration.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg.DefaultAndValidate()
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.DefaultAndValidate()
}

// DefaultAndValidate fills zero fields with defaults and rejects values
// that cannot work.
func (c Config) DefaultAndValidate() (Config, error) {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 115200
	}
	if c.Serial.Baud < 0 {
		return Config{}, fmt.Errorf("serial.baud must be > 0")
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:5001"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "sensor-logs"
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 5
	}
	if c.Reconnect.MaxAttempts < 0 {
		return Config{}, fmt.Errorf("reconnect.max_attempts must be > 0")
	}
	if c.Reconnect.Backoff == 0 {
		c.Reconnect.Backoff = 2 * time.Second
	}
	if c.Reconnect.Backoff < 0 {
		return Config{}, fmt.Errorf("reconnect.backoff must be > 0")
	}
	return c, nil
}

// Save writes the config back as YAML, atomically.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
