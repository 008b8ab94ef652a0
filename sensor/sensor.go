// Package sensor holds the contract shared by the bus sensor drivers: the
// register transport they consume, the reading and state they publish, and
// the error taxonomy.
//
// A driver is configured once at construction and then polled:
//
//	dev.Update()
//	if dev.SampleOK() {
//		r, _ := dev.LastReading()
//		fmt.Println(r.Celsius())
//	}
//
// Update never fails at the call level; the outcome of a cycle is observed
// through SampleOK and State.
package sensor

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// Quantity is a bit set of the physical quantities a reading carries.
type Quantity uint8

// Quantities produced by the supported sensors.
const (
	Temperature Quantity = 1 << iota
	Humidity
	Pressure
	Illuminance
)

// Has reports whether all of o are set in q.
func (q Quantity) Has(o Quantity) bool {
	return q&o == o
}

// Reading is one decoded measurement. Only the quantities flagged in Has are
// meaningful.
type Reading struct {
	Temperature physic.Temperature
	Humidity    physic.RelativeHumidity
	Pressure    physic.Pressure
	// Illuminance in lux; periph has no unit for it.
	Illuminance float64

	Has Quantity
}

// Celsius returns the temperature in °C.
func (r Reading) Celsius() float64 {
	return r.Temperature.Celsius()
}

// Percent returns the relative humidity in %RH.
func (r Reading) Percent() float64 {
	return float64(r.Humidity) / float64(physic.PercentRH)
}

// HectoPascal returns the pressure in hPa (mbar).
func (r Reading) HectoPascal() float64 {
	return float64(r.Pressure) / float64(100*physic.Pascal)
}

// Lux returns the illuminance in lux.
func (r Reading) Lux() float64 {
	return r.Illuminance
}

// FromCelsius converts °C into a physic.Temperature.
func FromCelsius(c float64) physic.Temperature {
	return physic.Temperature(c*float64(physic.Celsius)) + physic.ZeroCelsius
}

// FromPercent converts %RH into a physic.RelativeHumidity.
func FromPercent(p float64) physic.RelativeHumidity {
	return physic.RelativeHumidity(p * float64(physic.PercentRH))
}

// FromPascal converts Pa into a physic.Pressure.
func FromPascal(pa float64) physic.Pressure {
	return physic.Pressure(pa * float64(physic.Pascal))
}

// State is the outcome of the most recent polling cycle. It is replaced as a
// whole by every Update and never mutated afterwards.
type State struct {
	// Reading is the last good reading; it survives failed cycles.
	Reading Reading
	// Valid is true once at least one cycle succeeded.
	Valid bool
	// OK is the outcome of the last cycle.
	OK bool
	// Err is the cause of the last failed cycle.
	Err       error
	UpdatedAt time.Time
}

// Phase is where a sensor instance is in its lifecycle.
type Phase int32

// Lifecycle phases.
const (
	Uninitialized Phase = iota
	Ready
	Sampling
	Unusable
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Sampling:
		return "sampling"
	case Unusable:
		return "unusable"
	}
	return "Phase(?)"
}

// Sensor is the polling contract implemented by every driver.
type Sensor interface {
	// Update triggers a measurement, waits for it and decodes the result.
	// It blocks for the conversion time of the configured settings.
	Update()
	// SampleOK reports whether the last Update produced a good sample.
	SampleOK() bool
	// LastReading returns the last good reading, if any.
	LastReading() (Reading, bool)
	// Summary renders the last reading for humans.
	Summary() string
	State() State
	Phase() Phase
	// Quantities lists what this sensor measures with its configuration.
	Quantities() Quantity
	String() string
}
