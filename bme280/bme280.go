// Package bme280 controls a Bosch BME280 temperature, pressure and humidity
// sensor over a register transport.
//
// Datasheet
//
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
package bme280

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"

	"i2csense/sensor"
)

const (
	AddrChipID byte = 0xD0 // read-only, should contain 0x60
	AddrReset  byte = 0xE0

	// calibration ranges

	AddrCal1Start byte = 0x88
	AddrCal1End   byte = 0xA1
	AddrCal2Start byte = 0xE1
	AddrCal2End   byte = 0xE7

	// control registers

	AddrCtrlHum  byte = 0xF2
	AddrStatus   byte = 0xF3
	AddrCtrlMeas byte = 0xF4
	AddrConfig   byte = 0xF5

	// data registers, read as one 8 bytes block

	AddrPressMSB byte = 0xF7
	AddrHumLSB   byte = 0xFE
)

// DefaultAddr is the address with SDO tied to ground; 0x77 is the other one.
const DefaultAddr uint16 = 0x76

const (
	chipID  = 0x60
	dataLen = int(AddrHumLSB-AddrPressMSB) + 1
)

// ErrImplausible marks a compensated value outside the chip's operating range.
var ErrImplausible = errors.New("implausible value")

// Dev is a handle to an initialized BME280 device.
type Dev struct {
	sensor.Store

	d    sensor.Dev
	opts Opts
	// delta is Opts.DeltaTemp in t_fine units.
	delta int64

	mu          sync.Mutex
	cal         *calibration280
	calErr      error
	reconfigure bool
}

// New returns an object that communicates over t to a BME280.
//
// Options are validated before any bus access. The chip id and calibration
// are then read, and the measurement settings written. A nil opts means
// DefaultOpts.
//
// It is recommended to call Halt() when done with the device so it stops
// sampling.
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
	d := &Dev{
		d:     sensor.Dev{Bus: t, Addr: addr},
		opts:  *opts,
		delta: int64(math.Round(opts.DeltaTemp * 5120)),
	}
	if err := d.makeDev(); err != nil {
		d.SetPhase(sensor.Unusable)
		return nil, err
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
	return fmt.Sprintf("BME280{%s}", &d.d)
}

// Update takes one measurement. In sleep and forced mode it triggers a
// conversion and waits for it; in normal mode it reads the latest sample of
// the chip.
//
// A failed cycle keeps the previous reading and rewrites the settings at the
// next call.
func (d *Dev) Update() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadCalibration(); err != nil {
		d.Fail(sensor.ErrUnusable, doNow())
		return
	}
	d.SetPhase(sensor.Sampling)
	defer d.SetPhase(sensor.Ready)

	r, err := d.sense()
	if err != nil {
		log.WithFields(log.Fields{"sensor": "bme280", "addr": d.d.String()}).Warnf("bad update: %v", err)
		d.reconfigure = true
		d.Fail(err, doNow())
		return
	}
	d.Succeed(r, doNow())
}

// Summary renders the last reading.
func (d *Dev) Summary() string {
	return sensor.Summary(d.State())
}

// Quantities lists the channels that are not skipped.
func (d *Dev) Quantities() sensor.Quantity {
	var q sensor.Quantity
	if d.opts.Temperature != Off {
		q |= sensor.Temperature
	}
	if d.opts.Pressure != Off {
		q |= sensor.Pressure
	}
	if d.opts.Humidity != Off {
		q |= sensor.Humidity
	}
	return q
}

// Halt puts the chip to sleep.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.d.WriteReg(AddrCtrlMeas, d.opts.ctrlMeas(Sleep))
}

//

func (d *Dev) makeDev() error {
	id, err := d.d.ReadReg(AddrChipID)
	if err != nil {
		return errors.Wrap(err, "bme280")
	}
	if id != chipID {
		return &sensor.CalibrationError{Err: errors.Errorf("unexpected chip id 0x%02x", id)}
	}
	if err := d.loadCalibration(); err != nil {
		return err
	}
	log.WithFields(log.Fields{"sensor": "bme280", "addr": d.d.String()}).Debugf("calibration loaded: %+v", *d.cal)
	return errors.Wrap(d.writeConfig(), "bme280")
}

// loadCalibration reads the NVM blocks the first time it is called. A
// failure is permanent.
func (d *Dev) loadCalibration() error {
	if d.cal != nil || d.calErr != nil {
		return d.calErr
	}
	cal1, err := d.d.ReadBlock(AddrCal1Start, int(AddrCal1End-AddrCal1Start)+1)
	if err != nil {
		d.calErr = err
		return err
	}
	// Read calibration data h2~6
	cal2, err := d.d.ReadBlock(AddrCal2Start, int(AddrCal2End-AddrCal2Start)+1)
	if err != nil {
		d.calErr = err
		return err
	}
	c, err := newCalibration(cal1, cal2)
	if err != nil {
		d.calErr = &sensor.CalibrationError{Err: err}
		return d.calErr
	}
	d.cal = &c
	return nil
}

// writeConfig programs the measurement settings. The chip is put to sleep
// first otherwise the config update may be ignored, and ctrl_meas must be
// written after ctrl_hum for the latter to take effect.
func (d *Dev) writeConfig() error {
	idle := Sleep
	if d.opts.Mode == Normal {
		idle = Normal
	}
	b := []struct{ reg, v byte }{
		{AddrCtrlMeas, d.opts.ctrlMeas(Sleep)},
		{AddrCtrlHum, byte(d.opts.Humidity)},
		{AddrConfig, d.opts.config()},
		{AddrCtrlMeas, d.opts.ctrlMeas(idle)},
	}
	for _, w := range b {
		if err := d.d.WriteReg(w.reg, w.v); err != nil {
			return err
		}
	}
	return nil
}

// trigger starts a forced conversion and waits for its maximum duration.
func (d *Dev) trigger() error {
	if err := d.d.WriteReg(AddrCtrlHum, byte(d.opts.Humidity)); err != nil {
		return err
	}
	if err := d.d.WriteReg(AddrCtrlMeas, d.opts.ctrlMeas(Forced)); err != nil {
		return err
	}
	doSleep(d.opts.measurementTime())
	return nil
}

// sense runs one cycle. It must be called with d.mu held.
func (d *Dev) sense() (sensor.Reading, error) {
	if d.reconfigure {
		if err := d.writeConfig(); err != nil {
			return sensor.Reading{}, err
		}
		d.reconfigure = false
	}
	if d.opts.Mode.onDemand() {
		if err := d.trigger(); err != nil {
			return sensor.Reading{}, err
		}
	}
	buf, err := d.d.ReadBlock(AddrPressMSB, dataLen)
	if err != nil {
		return sensor.Reading{}, err
	}
	return d.decode(buf)
}

// decode compensates one data block. Temperature goes first since pressure
// and humidity need its fine value.
func (d *Dev) decode(buf []byte) (sensor.Reading, error) {
	// These values are 20 bits as per doc.
	pRaw := int64(buf[0])<<12 | int64(buf[1])<<4 | int64(buf[2])>>4
	tRaw := int64(buf[3])<<12 | int64(buf[4])<<4 | int64(buf[5])>>4
	hRaw := int64(buf[6])<<8 | int64(buf[7])

	var r sensor.Reading
	tFine := d.cal.tFine(tRaw) + d.delta
	if d.opts.Temperature != Off {
		t := compensateTemp(tFine)
		if t < -4000 || t > 8500 {
			return r, errors.Wrapf(ErrImplausible, "temperature %.2f °C", float64(t)/100)
		}
		r.Temperature = physic.Temperature(t)*10*physic.MilliKelvin + physic.ZeroCelsius
		r.Has |= sensor.Temperature
	}
	if d.opts.Pressure != Off {
		p := d.cal.compensatePressure(pRaw, tFine)
		if p <= 100*100*256 {
			return r, errors.Wrapf(ErrImplausible, "pressure %d Pa", p/256)
		}
		// 1e9/256 nPa per Q24.8 step
		r.Pressure = physic.Pressure(p) * 3906250 * physic.NanoPascal
		r.Has |= sensor.Pressure
	}
	if d.opts.Humidity != Off {
		h := d.cal.compensateHumidity(hRaw, tFine)
		r.Humidity = physic.RelativeHumidity(h * int64(physic.PercentRH) / 1024)
		r.Has |= sensor.Humidity
	}
	return r, nil
}

var (
	doSleep = time.Sleep
	doNow   = time.Now
)

var _ sensor.Sensor = &Dev{}
