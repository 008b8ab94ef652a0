// Package htu21d controls a TE HTU21D temperature and humidity sensor.
//
// Measurements use the no hold master commands: the trigger is sent, the
// driver sleeps for the maximum conversion time, then reads the result.
//
// Datasheet
//
// https://www.te.com/commerce/DocumentDelivery/DDEController?Action=showdoc&DocId=Data+Sheet%7FHPC199_6%7FA6%7Fpdf%7FEnglish%7FENG_DS_HPC199_6_A6.pdf
package htu21d

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"i2csense/sensor"
)

// DefaultAddr is the only address the chip answers at.
const DefaultAddr uint16 = 0x40

// Commands from the datasheet.
const (
	CmdTriggerTempNoHold byte = 0xF3
	CmdTriggerHumNoHold  byte = 0xF5
	CmdWriteUserReg      byte = 0xE6
	CmdReadUserReg       byte = 0xE7
	CmdSoftReset         byte = 0xFE
)

// resetTime is how long the chip takes to come back from a soft reset.
const resetTime = 15 * time.Millisecond

// Resolution selects the RH and temperature measurement resolution. The value
// is bit 7 and bit 0 of the user register.
type Resolution uint8

// Possible resolutions.
const (
	RH12T14 Resolution = 0
	RH8T12  Resolution = 1
	RH10T13 Resolution = 2
	RH11T11 Resolution = 3
)

// Maximum conversion times per resolution.
var (
	tempTime = [...]time.Duration{50 * time.Millisecond, 13 * time.Millisecond, 25 * time.Millisecond, 7 * time.Millisecond}
	humTime  = [...]time.Duration{16 * time.Millisecond, 3 * time.Millisecond, 5 * time.Millisecond, 8 * time.Millisecond}
	resName  = [...]string{"RH12T14", "RH8T12", "RH10T13", "RH11T11"}
)

func (r Resolution) String() string {
	if int(r) >= len(resName) {
		return fmt.Sprintf("Resolution(%d)", r)
	}
	return resName[r]
}

func (r Resolution) userBits() byte {
	return (byte(r)&2)<<6 | byte(r)&1
}

// Opts defines the options for the device.
type Opts struct {
	Resolution Resolution
	// Compensate applies the temperature coefficient of the humidity
	// sensor, using the temperature of the same cycle.
	Compensate bool
}

// DefaultOpts uses the highest resolution with compensation.
var DefaultOpts = Opts{Resolution: RH12T14, Compensate: true}

// Option names accepted by ParseOpts.
const (
	OptResolution = "resolution"
	OptCompensate = "compensate"
)

// ParseOpts reads Opts from name=value settings.
func ParseOpts(o sensor.Options) (Opts, error) {
	opts := DefaultOpts
	if err := o.Check(OptResolution, OptCompensate); err != nil {
		return opts, err
	}
	r, err := o.Int(OptResolution, int(opts.Resolution), 0, int(RH11T11))
	if err != nil {
		return opts, err
	}
	opts.Resolution = Resolution(r)
	def := 0
	if opts.Compensate {
		def = 1
	}
	c, err := o.Int(OptCompensate, def, 0, 1)
	if err != nil {
		return opts, err
	}
	opts.Compensate = c == 1
	return opts, nil
}

// Dev is a handle to an initialized HTU21D.
type Dev struct {
	sensor.Store

	d    sensor.Dev
	opts Opts

	mu        sync.Mutex
	needReset bool
}

// New soft resets the chip at addr and programs the resolution. A nil opts
// means DefaultOpts.
func New(t sensor.Transport, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Resolution > RH11T11 {
		return nil, &sensor.ConfigError{Option: OptResolution, Value: fmt.Sprint(uint8(opts.Resolution)), Reason: "must be within 0..3"}
	}
	if err := sensor.CheckAddr(addr); err != nil {
		return nil, err
	}
	d := &Dev{d: sensor.Dev{Bus: t, Addr: addr}, opts: *opts}
	if err := d.reset(); err != nil {
		d.SetPhase(sensor.Unusable)
		return nil, errors.Wrap(err, "htu21d")
	}
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
	return fmt.Sprintf("HTU21D{%s}", &d.d)
}

// Update measures temperature then humidity. If temperature cannot be read
// the cycle still publishes humidity, uncompensated and alone. After a
// failure the chip is reset first.
func (d *Dev) Update() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SetPhase(sensor.Sampling)
	defer d.SetPhase(sensor.Ready)

	r, err := d.sense()
	if err != nil {
		log.WithFields(log.Fields{"sensor": "htu21d", "addr": d.d.String()}).Warnf("bad update: %v", err)
		d.needReset = true
		d.Fail(err, doNow())
		return
	}
	d.Succeed(r, doNow())
}

func (d *Dev) Summary() string {
	return sensor.Summary(d.State())
}

func (d *Dev) Quantities() sensor.Quantity {
	return sensor.Temperature | sensor.Humidity
}

//

func (d *Dev) reset() error {
	if err := d.d.Send(CmdSoftReset); err != nil {
		return err
	}
	doSleep(resetTime)
	v, err := d.d.ReadReg(CmdReadUserReg)
	if err != nil {
		return err
	}
	v = v&^0x81 | d.opts.Resolution.userBits()
	log.WithFields(log.Fields{"sensor": "htu21d", "addr": d.d.String()}).Debugf("user register 0x%02x", v)
	return d.d.WriteReg(CmdWriteUserReg, v)
}

// sense must be called with d.mu held.
func (d *Dev) sense() (sensor.Reading, error) {
	if d.needReset {
		if err := d.reset(); err != nil {
			return sensor.Reading{}, err
		}
		d.needReset = false
	}
	rawT, errT := d.measure(CmdTriggerTempNoHold, tempTime[d.opts.Resolution], "temperature")
	if errT != nil {
		log.WithFields(log.Fields{"sensor": "htu21d", "addr": d.d.String()}).Warnf("no temperature, humidity left uncompensated: %v", errT)
		d.needReset = true
	}
	rawH, err := d.measure(CmdTriggerHumNoHold, humTime[d.opts.Resolution], "humidity")
	if err != nil {
		return sensor.Reading{}, err
	}
	h := calcHumid(rawH)
	if errT != nil {
		return sensor.Reading{Humidity: sensor.FromPercent(clamp(h)), Has: sensor.Humidity}, nil
	}
	t := calcTemp(rawT)
	if d.opts.Compensate {
		h = tempCoefficient(h, t)
	}
	return sensor.Reading{
		Temperature: sensor.FromCelsius(t),
		Humidity:    sensor.FromPercent(clamp(h)),
		Has:         sensor.Temperature | sensor.Humidity,
	}, nil
}

// measure triggers one conversion and returns the raw value with the status
// bits cleared.
func (d *Dev) measure(cmd byte, wait time.Duration, what string) (uint16, error) {
	if err := d.d.Send(cmd); err != nil {
		return 0, err
	}
	doSleep(wait)
	b, err := d.d.Receive(3)
	if err != nil {
		return 0, err
	}
	if c := crc8(b[:2]); c != b[2] {
		return 0, &sensor.IntegrityError{What: what, Got: b[2], Want: c}
	}
	return (uint16(b[0])<<8 | uint16(b[1])) & 0xFFFC, nil
}

func calcTemp(raw uint16) float64 {
	return -46.85 + 175.72*float64(raw)/65536
}

func calcHumid(raw uint16) float64 {
	return -6 + 125*float64(raw)/65536
}

// tempCoefficient compensates RH for temperatures other than 25 °C.
func tempCoefficient(rh, t float64) float64 {
	return rh - 0.15*(25-t)
}

func clamp(rh float64) float64 {
	if rh > 100 {
		return 100
	}
	if rh < 0 {
		return 0
	}
	return rh
}

var (
	doSleep = time.Sleep
	doNow   = time.Now
)

var _ sensor.Sensor = &Dev{}
