package config

import (
	"fmt"
	"strings"

	"github.com/mlsorensen/goremote"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

var (
	validDiscovery  = map[string]bool{"bluez": true, "ble": true, "static": true}
	validTransports = map[string]bool{"rfcomm": true, "serial": true, "ble": true, "mock": true}
	validInputs     = map[string]bool{"tui": true, "window": true}
	validLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validFormats    = map[string]bool{"text": true, "json": true}
)

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateTarget(cfg, ve)
	validatePipeline(cfg, ve)
	validateChannels(cfg, ve)
	validateSerial(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateTarget(cfg *Config, ve *ValidationError) {
	parts := strings.Split(goremote.NormalizeAddress(cfg.Target), ":")
	if len(parts) != 6 {
		ve.Add("target %q is not a bluetooth address", cfg.Target)
		return
	}
	for _, p := range parts {
		if len(p) != 2 || strings.Trim(p, "0123456789ABCDEF") != "" {
			ve.Add("target %q is not a bluetooth address", cfg.Target)
			return
		}
	}
}

func validatePipeline(cfg *Config, ve *ValidationError) {
	if !validDiscovery[cfg.Discovery] {
		ve.Add("discovery %q must be one of bluez, ble, static", cfg.Discovery)
	}
	if !validTransports[cfg.Transport] {
		ve.Add("transport %q must be one of rfcomm, serial, ble, mock", cfg.Transport)
	}
	if !validInputs[cfg.Input] {
		ve.Add("input %q must be one of tui, window", cfg.Input)
	}
	if cfg.Transport == "ble" && cfg.Discovery != "ble" {
		ve.Add("transport ble requires discovery ble")
	}
}

func validateChannels(cfg *Config, ve *ValidationError) {
	if cfg.RFCOMM.Channel < 0 || cfg.RFCOMM.Channel > 30 {
		ve.Add("rfcomm.channel must be between 0 and 30")
	}
	if cfg.Serial.Channel < 0 {
		ve.Add("serial.channel must be >= 0")
	}
	if cfg.BLE.Channel < 0 {
		ve.Add("ble.channel must be >= 0")
	}
	if cfg.Mock.Channel < 0 {
		ve.Add("mock.channel must be >= 0")
	}
}

func validateSerial(cfg *Config, ve *ValidationError) {
	if cfg.Transport != "serial" {
		return
	}
	if cfg.Serial.Device == "" {
		ve.Add("serial.device must not be empty when transport is serial")
	}
	if cfg.Serial.Baud <= 0 {
		ve.Add("serial.baud must be > 0")
	}
	if cfg.Serial.ReadTimeout < 0 {
		ve.Add("serial.read_timeout must be >= 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
	if cfg.Logger.MaxSizeMB < 0 || cfg.Logger.MaxBackups < 0 {
		ve.Add("logger.max_size_mb and logger.max_backups must be >= 0")
	}
}
