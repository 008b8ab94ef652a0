package sensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnusable is reported by Update on an instance whose initialization
// failed permanently.
var ErrUnusable = errors.New("sensor is not usable")

// TransportError is a failed byte-level bus operation.
type TransportError struct {
	Op   string
	Addr uint16
	Reg  byte
	Err  error
}

func (e *TransportError) Error() string {
	switch e.Op {
	case "receive":
		return fmt.Sprintf("%s 0x%02x: %v", e.Op, e.Addr, e.Err)
	case "send":
		return fmt.Sprintf("%s 0x%02x cmd 0x%02x: %v", e.Op, e.Addr, e.Reg, e.Err)
	}
	return fmt.Sprintf("%s 0x%02x reg 0x%02x: %v", e.Op, e.Addr, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigError is an unknown option or an out of range value supplied at
// construction.
type ConfigError struct {
	Option string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("option %q: %s", e.Option, e.Reason)
	}
	return fmt.Sprintf("option %s=%s: %s", e.Option, e.Value, e.Reason)
}

// CalibrationError means the factory constants could not be loaded. The
// instance must not be used for measurements.
type CalibrationError struct {
	Err error
}

func (e *CalibrationError) Error() string {
	return "calibration: " + e.Err.Error()
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// IntegrityError is a checksum mismatch on a received sample.
type IntegrityError struct {
	What string
	Got  byte
	Want byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: crc 0x%02x, computed 0x%02x", e.What, e.Got, e.Want)
}

func configErrorf(option, value, format string, a ...interface{}) error {
	return &ConfigError{Option: option, Value: value, Reason: fmt.Sprintf(format, a...)}
}
