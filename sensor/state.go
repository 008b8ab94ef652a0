package sensor

import (
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Store publishes the State of one sensor instance. Writers swap in a fresh
// State; readers may load concurrently and always see a whole one.
//
// Drivers embed it to get SampleOK, LastReading, State and Phase.
type Store struct {
	state atomic.Pointer[State]
	phase atomic.Int32
}

// State returns the current state. Before the first Update it is the zero
// State.
func (s *Store) State() State {
	if st := s.state.Load(); st != nil {
		return *st
	}
	return State{}
}

// SampleOK reports whether the last cycle succeeded.
func (s *Store) SampleOK() bool {
	return s.State().OK
}

// LastReading returns the last good reading, if there ever was one.
func (s *Store) LastReading() (Reading, bool) {
	st := s.State()
	return st.Reading, st.Valid
}

func (s *Store) Phase() Phase {
	return Phase(s.phase.Load())
}

// SetPhase moves the instance to p.
func (s *Store) SetPhase(p Phase) {
	s.phase.Store(int32(p))
}

// Succeed publishes r as the new reading.
func (s *Store) Succeed(r Reading, at time.Time) {
	s.state.Store(&State{Reading: r, Valid: true, OK: true, UpdatedAt: at})
}

// Fail records a failed cycle. The previous good reading is kept.
func (s *Store) Fail(err error, at time.Time) {
	prev := s.State()
	s.state.Store(&State{Reading: prev.Reading, Valid: prev.Valid, OK: false, Err: err, UpdatedAt: at})
}

// Summary renders st as "Temp: 21.5 ºC, Humid: 40.12 %, Press: 1013.2 mb,
// Light: 120 lux", listing only the quantities present, or "Bad sample" if the
// last cycle failed.
func Summary(st State) string {
	if !st.OK {
		return "Bad sample"
	}
	r := st.Reading
	var parts []string
	if r.Has.Has(Temperature) {
		parts = append(parts, "Temp: "+format(r.Celsius())+" ºC")
	}
	if r.Has.Has(Humidity) {
		parts = append(parts, "Humid: "+format(r.Percent())+" %")
	}
	if r.Has.Has(Pressure) {
		parts = append(parts, "Press: "+format(r.HectoPascal())+" mb")
	}
	if r.Has.Has(Illuminance) {
		parts = append(parts, "Light: "+format(r.Lux())+" lux")
	}
	return strings.Join(parts, ", ")
}

// Magnus-type coefficients from the HTU21D datasheet.
const (
	dewA = 8.1332
	dewB = 1762.39
	dewC = 235.66
)

// DewPoint computes the dew point of a reading holding both temperature and
// humidity.
func DewPoint(r Reading) (physic.Temperature, bool) {
	if !r.Has.Has(Temperature|Humidity) || r.Humidity <= 0 {
		return 0, false
	}
	t := Round(r.Celsius(), 3)
	h := Round(r.Percent(), 3)
	partial := math.Pow(10, dewA-dewB/(t+dewC))
	dp := -dewC - dewB/(math.Log10(h*partial/100)-dewA)
	return FromCelsius(dp), true
}

func format(v float64) string {
	return strconv.FormatFloat(Round(v, 2), 'f', -1, 64)
}

// Round returns x rounded half away from zero to prec decimals.
func Round(x float64, prec int) float64 {
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	pow := math.Pow10(prec)
	intermed := x * pow
	if math.IsInf(intermed, 0) {
		return x
	}
	if x < 0 {
		x = math.Ceil(intermed - 0.5)
	} else {
		x = math.Floor(intermed + 0.5)
	}
	if x == 0 {
		return 0
	}
	return x / pow
}
