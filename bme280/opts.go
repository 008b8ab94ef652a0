package bme280

import (
	"fmt"
	"time"

	"i2csense/sensor"
)

// Oversampling affects how much time is taken to measure each of temperature,
// pressure and humidity. Off skips the channel entirely.
type Oversampling uint8

// Possible oversampling values.
//
// The higher the more time and power it takes to take a measurement. Even at
// 16x for all 3 channels, it is less than 115ms.
const (
	Off  Oversampling = 0
	O1x  Oversampling = 1
	O2x  Oversampling = 2
	O4x  Oversampling = 3
	O8x  Oversampling = 4
	O16x Oversampling = 5
)

const oversamplingName = "Off1x2x4x8x16x"

var oversamplingIndex = [...]uint8{0, 3, 5, 7, 9, 11, 14}

func (o Oversampling) String() string {
	if o >= Oversampling(len(oversamplingIndex)-1) {
		return fmt.Sprintf("Oversampling(%d)", o)
	}
	return oversamplingName[oversamplingIndex[o]:oversamplingIndex[o+1]]
}

func (o Oversampling) asValue() int {
	switch o {
	case O1x:
		return 1
	case O2x:
		return 2
	case O4x:
		return 4
	case O8x:
		return 8
	case O16x:
		return 16
	default:
		return 0
	}
}

// Filter specifies the internal IIR filter to get steadier measurements.
type Filter uint8

// Possible filtering values.
//
// The higher the filter, the slower the value converges but the more stable
// the measurement is.
const (
	NoFilter Filter = 0
	F2       Filter = 1
	F4       Filter = 2
	F8       Filter = 3
	F16      Filter = 4
)

func (f Filter) String() string {
	if f == NoFilter {
		return "NoFilter"
	}
	if f > F16 {
		return fmt.Sprintf("Filter(%d)", f)
	}
	return fmt.Sprintf("F%d", 1<<f)
}

// Mode is the power mode written into ctrl_meas.
type Mode uint8

// Power modes. The chip treats 1 and 2 the same. In Sleep and the forced
// modes every Update triggers one conversion; Normal reads whatever the chip
// last sampled on its own.
const (
	Sleep   Mode = 0
	Forced  Mode = 1
	Forced2 Mode = 2
	Normal  Mode = 3
)

func (m Mode) String() string {
	switch m {
	case Sleep:
		return "Sleep"
	case Forced, Forced2:
		return "Forced"
	case Normal:
		return "Normal"
	}
	return fmt.Sprintf("Mode(%d)", m)
}

func (m Mode) onDemand() bool {
	return m != Normal
}

// Standby is the inactive duration between conversions in Normal mode.
type Standby uint8

// Possible standby values, in the register encoding order.
const (
	S500us  Standby = 0
	S62ms   Standby = 1
	S125ms  Standby = 2
	S250ms  Standby = 3
	S500ms  Standby = 4
	S1s     Standby = 5
	S10ms   Standby = 6
	S20ms   Standby = 7
	standby         = 8
)

var standbyDuration = [...]time.Duration{
	500 * time.Microsecond,
	62500 * time.Microsecond,
	125 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	10 * time.Millisecond,
	20 * time.Millisecond,
}

// Duration returns the standby time as a time.Duration.
func (s Standby) Duration() time.Duration {
	if s >= standby {
		return 0
	}
	return standbyDuration[s]
}

func (s Standby) String() string {
	if s >= standby {
		return fmt.Sprintf("Standby(%d)", s)
	}
	return s.Duration().String()
}

// DefaultOpts continuously samples each channel once with a one second
// standby.
var DefaultOpts = Opts{
	Temperature: O1x,
	Pressure:    O1x,
	Humidity:    O1x,
	Mode:        Normal,
	Standby:     S1s,
	Filter:      NoFilter,
}

// Opts defines the options for the device.
//
// Recommended sensing settings as per the datasheet:
//
// → Weather monitoring: forced sampling once per minute, all channels O1x,
// filter NoFilter.
//
// → Humidity sensing: forced sampling once per second, pressure Off, humidity
// and temperature O1x, filter NoFilter.
//
// → Indoor navigation: normal mode with 0.5ms standby, pressure O16x,
// temperature O2x, humidity O1x, filter F16.
type Opts struct {
	// Temperature should stay on when pressure or humidity are measured;
	// their compensation depends on it. Off leaves it out of the reading.
	Temperature Oversampling
	Pressure    Oversampling
	Humidity    Oversampling
	Mode        Mode
	// Standby is only used in Normal mode.
	Standby Standby
	Filter  Filter
	// DeltaTemp is added to the temperature, in °C, before pressure and
	// humidity are compensated. It corrects for self heating of the board.
	DeltaTemp float64
}

// Option names accepted by ParseOpts.
const (
	OptTempOversampling     = "osrs_t"
	OptPressureOversampling = "osrs_p"
	OptHumidityOversampling = "osrs_h"
	OptMode                 = "mode"
	OptFilter               = "filter_mode"
	OptStandby              = "t_sb"
	OptDeltaTemp            = "delta_temp"
)

// ParseOpts reads Opts from name=value settings. Unset values keep their
// DefaultOpts value.
func ParseOpts(o sensor.Options) (Opts, error) {
	opts := DefaultOpts
	if err := o.Check(OptTempOversampling, OptPressureOversampling, OptHumidityOversampling,
		OptMode, OptFilter, OptStandby, OptDeltaTemp); err != nil {
		return opts, err
	}
	ints := []struct {
		name string
		max  int
		dst  *uint8
	}{
		{OptTempOversampling, int(O16x), (*uint8)(&opts.Temperature)},
		{OptPressureOversampling, int(O16x), (*uint8)(&opts.Pressure)},
		{OptHumidityOversampling, int(O16x), (*uint8)(&opts.Humidity)},
		{OptMode, int(Normal), (*uint8)(&opts.Mode)},
		{OptFilter, int(F16), (*uint8)(&opts.Filter)},
		{OptStandby, int(S20ms), (*uint8)(&opts.Standby)},
	}
	for _, i := range ints {
		v, err := o.Int(i.name, int(*i.dst), 0, i.max)
		if err != nil {
			return opts, err
		}
		*i.dst = uint8(v)
	}
	var err error
	opts.DeltaTemp, err = o.Float(OptDeltaTemp, 0, -10, 10)
	return opts, err
}

// validate rejects settings that do not fit their register fields.
func (o *Opts) validate() error {
	fields := []struct {
		name string
		v    uint8
		max  uint8
	}{
		{OptTempOversampling, uint8(o.Temperature), uint8(O16x)},
		{OptPressureOversampling, uint8(o.Pressure), uint8(O16x)},
		{OptHumidityOversampling, uint8(o.Humidity), uint8(O16x)},
		{OptMode, uint8(o.Mode), uint8(Normal)},
		{OptFilter, uint8(o.Filter), uint8(F16)},
		{OptStandby, uint8(o.Standby), uint8(S20ms)},
	}
	for _, f := range fields {
		if f.v > f.max {
			return &sensor.ConfigError{Option: f.name, Value: fmt.Sprint(f.v), Reason: fmt.Sprintf("must be within 0..%d", f.max)}
		}
	}
	if o.DeltaTemp < -10 || o.DeltaTemp > 10 {
		return &sensor.ConfigError{Option: OptDeltaTemp, Value: fmt.Sprint(o.DeltaTemp), Reason: "must be within -10..10"}
	}
	return nil
}

// measurementTime is the maximum conversion time of a forced measurement,
// from appendix B of the datasheet.
func (o *Opts) measurementTime() time.Duration {
	us := 1250
	if t := o.tempOversampling(); t != Off {
		us += 2300 * t.asValue()
	}
	if o.Pressure != Off {
		us += 2300*o.Pressure.asValue() + 575
	}
	if o.Humidity != Off {
		us += 2300*o.Humidity.asValue() + 575
	}
	return time.Duration(us) * time.Microsecond
}

// tempOversampling is the osrs_t actually programmed. Pressure and humidity
// are compensated with the fine temperature of the same conversion, so
// temperature is measured whenever either of them is, published or not.
func (o *Opts) tempOversampling() Oversampling {
	if o.Temperature == Off && (o.Pressure != Off || o.Humidity != Off) {
		return O1x
	}
	return o.Temperature
}

func (o *Opts) ctrlMeas(m Mode) byte {
	return byte(o.tempOversampling())<<5 | byte(o.Pressure)<<2 | byte(m)
}

func (o *Opts) config() byte {
	return byte(o.Standby)<<5 | byte(o.Filter)<<2
}
