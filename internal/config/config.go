// Package config loads the relay configuration. Every field has a default,
// so the relay runs with no file at all.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlsorensen/goremote"
)

// DefaultTarget is the address of the robot the relay was built for.
const DefaultTarget = "20:16:06:30:69:09"

type Config struct {
	Target    string `yaml:"target"`
	Discovery string `yaml:"discovery"`
	Transport string `yaml:"transport"`
	Input     string `yaml:"input"`

	RFCOMM RFCOMMConfig `yaml:"rfcomm"`
	Serial SerialConfig `yaml:"serial"`
	BLE    BLEConfig    `yaml:"ble"`
	Mock   MockConfig   `yaml:"mock"`
	Logger LoggerConfig `yaml:"logger"`
}

type RFCOMMConfig struct {
	// Channel skips the SDP lookup when non-zero.
	Channel int `yaml:"channel"`
}

type SerialConfig struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	Channel     int           `yaml:"channel"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type BLEConfig struct {
	ServiceUUID string `yaml:"service_uuid"`
	CharUUID    string `yaml:"char_uuid"`
	Channel     int    `yaml:"channel"`
}

type MockConfig struct {
	Channel int  `yaml:"channel"`
	Echo    bool `yaml:"echo"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is "console", "stdout", "stderr" or a file path.
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func Defaults() *Config {
	return &Config{
		Target:    DefaultTarget,
		Discovery: "bluez",
		Transport: "rfcomm",
		Input:     "tui",
		Serial: SerialConfig{
			Device:      "/dev/rfcomm0",
			Baud:        9600,
			Channel:     1,
			ReadTimeout: 100 * time.Millisecond,
		},
		Mock: MockConfig{Channel: 1},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "text",
			Output:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads a YAML config file over the defaults and applies env var
// overrides. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps GOREMOTE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOREMOTE_TARGET"); v != "" {
		cfg.Target = v
	}
	if v := os.Getenv("GOREMOTE_TRANSPORT"); v != "" {
		cfg.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("GOREMOTE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

// TransportOptions returns the settings for the configured transport kind.
func (c *Config) TransportOptions() goremote.TransportOptions {
	opts := goremote.TransportOptions{
		SerialDevice:      c.Serial.Device,
		SerialBaud:        c.Serial.Baud,
		SerialReadTimeout: c.Serial.ReadTimeout,
		ServiceUUID:       c.BLE.ServiceUUID,
		CharUUID:          c.BLE.CharUUID,
		Echo:              c.Mock.Echo,
	}
	switch c.Transport {
	case "rfcomm":
		opts.Channel = c.RFCOMM.Channel
	case "serial":
		opts.Channel = c.Serial.Channel
	case "ble":
		opts.Channel = c.BLE.Channel
	case "mock":
		opts.Channel = c.Mock.Channel
	}
	return opts
}
