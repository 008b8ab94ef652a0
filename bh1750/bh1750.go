// Package bh1750 controls a ROHM BH1750FVI ambient light sensor.
//
// The chip is not register addressed: every operation is a one byte opcode,
// and a result is a plain two byte big endian read.
//
// Datasheet
//
// https://www.mouser.com/datasheet/2/348/bh1750fvi-e-186247.pdf
package bh1750

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"i2csense/sensor"
)

// DefaultAddr is the address with ADDR low; 0x5C is the other one.
const DefaultAddr uint16 = 0x23

// Opcodes other than the measurement modes.
const (
	PowerDown byte = 0x00
	PowerOn   byte = 0x01
	Reset     byte = 0x07 // clears the data register, only while powered on

	mtHigh byte = 0x40 // | MTreg[7:5]
	mtLow  byte = 0x60 // | MTreg[4:0]
)

// Mode is a measurement opcode.
type Mode byte

// Measurement modes. One time modes power down after each sample.
const (
	ContinuousHighRes  Mode = 0x10 // 1 lx
	ContinuousHighRes2 Mode = 0x11 // 0.5 lx
	ContinuousLowRes   Mode = 0x13 // 4 lx
	OneTimeHighRes     Mode = 0x20
	OneTimeHighRes2    Mode = 0x21
	OneTimeLowRes      Mode = 0x23
)

var modeNames = map[Mode]string{
	ContinuousLowRes:   "continuous_low_res_mode",
	ContinuousHighRes:  "continuous_high_res_mode_1",
	ContinuousHighRes2: "continuous_high_res_mode_2",
	OneTimeLowRes:      "one_time_low_res_mode",
	OneTimeHighRes:     "one_time_high_res_mode_1",
	OneTimeHighRes2:    "one_time_high_res_mode_2",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(0x%02x)", byte(m))
}

func (m Mode) valid() bool {
	_, ok := modeNames[m]
	return ok
}

func (m Mode) continuous() bool {
	return m&0x20 == 0
}

func (m Mode) lowRes() bool {
	return m&0x03 == 0x03
}

func (m Mode) highRes2() bool {
	return m&0x03 == 0x01
}

// baseTime is the maximum conversion time at the default sensitivity.
func (m Mode) baseTime() time.Duration {
	if m.lowRes() {
		return 24 * time.Millisecond
	}
	return 180 * time.Millisecond
}

// ModeNames lists the accepted mode names, sorted.
func ModeNames() []string {
	names := make([]string, 0, len(modeNames))
	for _, n := range modeNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseMode returns the mode called name.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return 0, &sensor.ConfigError{Option: OptMode, Value: name, Reason: "unknown mode"}
}

// Sensitivity bounds, the measurement time register (MTreg).
const (
	MinSensitivity     = 31
	MaxSensitivity     = 254
	DefaultSensitivity = 69
)

const maxDelay = time.Second

// Opts defines the options for the device.
type Opts struct {
	Mode Mode
	// Sensitivity scales the integration time, and so the resolution.
	Sensitivity int
	// Delay is added to the datasheet wait after a mode is set up.
	Delay time.Duration
}

// DefaultOpts measures continuously at 1 lx resolution.
var DefaultOpts = Opts{Mode: ContinuousHighRes, Sensitivity: DefaultSensitivity}

// Option names accepted by ParseOpts.
const (
	OptMode        = "operation_mode"
	OptSensitivity = "sensitivity"
	OptDelay       = "measurement_delay"
)

// ParseOpts reads Opts from name=value settings. measurement_delay is in
// milliseconds.
func ParseOpts(o sensor.Options) (Opts, error) {
	opts := DefaultOpts
	if err := o.Check(OptMode, OptSensitivity, OptDelay); err != nil {
		return opts, err
	}
	name, err := o.Enum(OptMode, opts.Mode.String(), ModeNames())
	if err != nil {
		return opts, err
	}
	if opts.Mode, err = ParseMode(name); err != nil {
		return opts, err
	}
	if opts.Sensitivity, err = o.Int(OptSensitivity, DefaultSensitivity, MinSensitivity, MaxSensitivity); err != nil {
		return opts, err
	}
	ms, err := o.Int(OptDelay, 0, 0, int(maxDelay/time.Millisecond))
	if err != nil {
		return opts, err
	}
	opts.Delay = time.Duration(ms) * time.Millisecond
	return opts, nil
}

func (o *Opts) validate() error {
	if !o.Mode.valid() {
		return &sensor.ConfigError{Option: OptMode, Value: o.Mode.String(), Reason: "unknown mode"}
	}
	if err := checkSensitivity(o.Sensitivity); err != nil {
		return err
	}
	if o.Delay < 0 || o.Delay > maxDelay {
		return &sensor.ConfigError{Option: OptDelay, Value: o.Delay.String(), Reason: "must be within 0..1s"}
	}
	return nil
}

func checkSensitivity(mt int) error {
	if mt < MinSensitivity || mt > MaxSensitivity {
		return &sensor.ConfigError{Option: OptSensitivity, Value: fmt.Sprint(mt), Reason: fmt.Sprintf("must be within %d..%d", MinSensitivity, MaxSensitivity)}
	}
	return nil
}

// Dev is a handle to a BH1750.
type Dev struct {
	sensor.Store

	d sensor.Dev

	mu        sync.Mutex
	opts      Opts
	needSetup bool
}

// New returns a handle for the chip at addr. Nothing is sent until the first
// Update. A nil opts means DefaultOpts.
func New(t sensor.Transport, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := sensor.CheckAddr(addr); err != nil {
		return nil, err
	}
	d := &Dev{d: sensor.Dev{Bus: t, Addr: addr}, opts: *opts, needSetup: true}
	d.SetPhase(sensor.Ready)
	return d, nil
}

// NewFromOptions parses name=value settings with ParseOpts and calls New.
func NewFromOptions(t sensor.Transport, addr uint16, o sensor.Options) (*Dev, error) {
	opts, err := ParseOpts(o)
	if err != nil {
		return nil, err
	}
	return New(t, addr, &opts)
}

func (d *Dev) String() string {
	return fmt.Sprintf("BH1750{%s}", &d.d)
}

// SetMode switches the measurement mode from the next Update on.
func (d *Dev) SetMode(m Mode) error {
	if !m.valid() {
		return &sensor.ConfigError{Option: OptMode, Value: m.String(), Reason: "unknown mode"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if m != d.opts.Mode {
		d.opts.Mode = m
		d.needSetup = true
	}
	return nil
}

// SetSensitivity changes MTreg from the next Update on.
func (d *Dev) SetSensitivity(mt int) error {
	if err := checkSensitivity(mt); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if mt != d.opts.Sensitivity {
		d.opts.Sensitivity = mt
		d.needSetup = true
	}
	return nil
}

// Update reads the light level. The chip is set up on the first call, after
// a failure or a settings change, and on every call in one time modes.
func (d *Dev) Update() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SetPhase(sensor.Sampling)
	defer d.SetPhase(sensor.Ready)

	lux, err := d.sense()
	if err != nil {
		log.WithFields(log.Fields{"sensor": "bh1750", "addr": d.d.String()}).Warnf("bad update: %v", err)
		d.needSetup = true
		d.Fail(err, doNow())
		return
	}
	d.Succeed(sensor.Reading{Illuminance: lux, Has: sensor.Illuminance}, doNow())
}

func (d *Dev) Summary() string {
	return sensor.Summary(d.State())
}

func (d *Dev) Quantities() sensor.Quantity {
	return sensor.Illuminance
}

// Halt powers the chip down.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.needSetup = true
	return d.d.Send(PowerDown)
}

//

// setup programs sensitivity and mode, then waits for the first result.
func (d *Dev) setup() error {
	mt := byte(d.opts.Sensitivity)
	for _, cmd := range []byte{PowerOn, Reset, mtHigh | mt>>5, mtLow | mt&0x1F, byte(d.opts.Mode)} {
		if err := d.d.Send(cmd); err != nil {
			return err
		}
	}
	wait := d.opts.Mode.baseTime()*time.Duration(d.opts.Sensitivity)/DefaultSensitivity + d.opts.Delay
	log.WithFields(log.Fields{"sensor": "bh1750", "addr": d.d.String()}).Debugf("%s, MTreg %d, waiting %s", d.opts.Mode, d.opts.Sensitivity, wait)
	doSleep(wait)
	return nil
}

// sense must be called with d.mu held.
func (d *Dev) sense() (float64, error) {
	continuous := d.opts.Mode.continuous()
	if d.needSetup || !continuous {
		if err := d.setup(); err != nil {
			return 0, err
		}
		d.needSetup = false
	}
	b, err := d.d.Receive(2)
	if err != nil {
		return 0, err
	}
	if !continuous {
		if err := d.d.Send(PowerDown); err != nil {
			return 0, errors.Wrap(err, "power down")
		}
	}
	return d.lux(uint16(b[0])<<8 | uint16(b[1])), nil
}

// lux converts a count; 1.2 counts per lx at the default sensitivity, twice
// as many in high resolution mode 2.
func (d *Dev) lux(count uint16) float64 {
	k := 1.0
	if d.opts.Mode.highRes2() {
		k = 2
	}
	return float64(count) / (1.2 * (float64(d.opts.Sensitivity) / DefaultSensitivity) * k)
}

var (
	doSleep = time.Sleep
	doNow   = time.Now
)

var _ sensor.Sensor = &Dev{}
