package bh1750

import (
	"errors"
	"testing"
	"time"

	"i2csense/sensor"
	"i2csense/sensor/sensortest"
)

func noSleep(t *testing.T) *[]time.Duration {
	var slept []time.Duration
	old := doSleep
	doSleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { doSleep = old })
	return &slept
}

func newBus() *sensortest.Bus {
	b := sensortest.New()
	b.Attach(DefaultAddr)
	return b
}

func sent(b *sensortest.Bus) []byte {
	var out []byte
	for _, o := range b.Writes() {
		out = append(out, o.Value)
	}
	return out
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNoIOAtConstruction(t *testing.T) {
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Ops) != 0 {
		t.Fatalf("bus used: %v", b.Ops)
	}
	if d.Phase() != sensor.Ready {
		t.Fatal(d.Phase())
	}
}

func TestContinuous(t *testing.T) {
	slept := noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	b.Queue(DefaultAddr, []byte{0x01, 0x68}, []byte{0x00, 0x0C})
	d.Update()
	if !d.SampleOK() {
		t.Fatal(d.State().Err)
	}
	r, _ := d.LastReading()
	if r.Lux() != 300 || r.Has != sensor.Illuminance {
		t.Fatalf("reading %+v", r)
	}
	if s := d.Summary(); s != "Light: 300 lux" {
		t.Errorf("summary %q", s)
	}
	// MTreg 69 = 0b010_00101
	want := []byte{PowerOn, Reset, 0x42, 0x65, byte(ContinuousHighRes)}
	if got := sent(b); !equal(got, want) {
		t.Fatalf("sent % x, want % x", got, want)
	}
	if len(*slept) != 1 || (*slept)[0] != 180*time.Millisecond {
		t.Fatalf("slept %v", *slept)
	}

	// Later cycles only read.
	b.Reset()
	d.Update()
	if n := len(b.Writes()); n != 0 {
		t.Fatalf("%d writes in continuous mode", n)
	}
	if r, _ := d.LastReading(); r.Lux() != 10 {
		t.Fatalf("lux %v", r.Lux())
	}
}

func TestOneTime(t *testing.T) {
	noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, &Opts{Mode: OneTimeLowRes, Sensitivity: 69})
	if err != nil {
		t.Fatal(err)
	}
	b.Queue(DefaultAddr, []byte{0x00, 0x78}, []byte{0x00, 0x78})
	for i := 0; i < 2; i++ {
		b.Reset()
		d.Update()
		if !d.SampleOK() {
			t.Fatal(d.State().Err)
		}
		want := []byte{PowerOn, Reset, 0x42, 0x65, byte(OneTimeLowRes), PowerDown}
		if got := sent(b); !equal(got, want) {
			t.Fatalf("cycle %d: sent % x, want % x", i, got, want)
		}
	}
}

func TestLux(t *testing.T) {
	data := []struct {
		mode  Mode
		mt    int
		count uint16
		want  float64
	}{
		{ContinuousHighRes, 69, 360, 300},
		{ContinuousHighRes2, 69, 360, 150},
		{OneTimeLowRes, 69, 360, 300},
		{ContinuousHighRes, 138, 1000, 1000 / 2.4},
	}
	for _, line := range data {
		d := &Dev{opts: Opts{Mode: line.mode, Sensitivity: line.mt}}
		if got := d.lux(line.count); got != line.want {
			t.Errorf("%s mt=%d: lux(%d) = %v, want %v", line.mode, line.mt, line.count, got, line.want)
		}
	}
}

func TestWaitTime(t *testing.T) {
	data := []struct {
		opts Opts
		want time.Duration
	}{
		{Opts{Mode: ContinuousLowRes, Sensitivity: 69}, 24 * time.Millisecond},
		{Opts{Mode: OneTimeHighRes2, Sensitivity: 138}, 360 * time.Millisecond},
		{Opts{Mode: ContinuousHighRes, Sensitivity: 69, Delay: 120 * time.Millisecond}, 300 * time.Millisecond},
	}
	for _, line := range data {
		slept := noSleep(t)
		b := newBus()
		d, err := New(b, DefaultAddr, &line.opts)
		if err != nil {
			t.Fatal(err)
		}
		d.Update()
		if len(*slept) != 1 || (*slept)[0] != line.want {
			t.Errorf("%s: slept %v, want %v", line.opts.Mode, *slept, line.want)
		}
	}
}

func TestFailureRedoesSetup(t *testing.T) {
	noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	b.Queue(DefaultAddr, []byte{0x01, 0x68})
	d.Update()
	good, _ := d.LastReading()

	b.FailOn = sensortest.On(sensortest.KindReceive, 0)
	d.Update()
	if d.SampleOK() {
		t.Fatal("failed read accepted")
	}
	var te *sensor.TransportError
	if !errors.As(d.State().Err, &te) {
		t.Fatalf("error %v", d.State().Err)
	}
	if r, ok := d.LastReading(); !ok || r != good {
		t.Fatal("good reading lost")
	}

	b.FailOn = nil
	b.Reset()
	d.Update()
	if !d.SampleOK() || len(b.Writes()) != 5 {
		t.Fatalf("no setup after failure: %v", b.Ops)
	}
}

func TestSetModeAndSensitivity(t *testing.T) {
	noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.Update()
	if err := d.SetMode(ContinuousHighRes2); err != nil {
		t.Fatal(err)
	}
	b.Reset()
	d.Update()
	w := sent(b)
	if len(w) != 5 || w[4] != byte(ContinuousHighRes2) {
		t.Fatalf("sent % x", w)
	}

	if err := d.SetSensitivity(254); err != nil {
		t.Fatal(err)
	}
	b.Reset()
	d.Update()
	// 254 = 0b111_11110
	if w := sent(b); len(w) != 5 || w[2] != 0x47 || w[3] != 0x7E {
		t.Fatalf("sent % x", w)
	}

	var ce *sensor.ConfigError
	if err := d.SetSensitivity(30); !errors.As(err, &ce) {
		t.Fatalf("SetSensitivity(30) = %v", err)
	}
	if err := d.SetMode(Mode(0x42)); !errors.As(err, &ce) {
		t.Fatalf("SetMode(0x42) = %v", err)
	}
}

func TestParseOpts(t *testing.T) {
	o, err := ParseOpts(sensor.Options{
		"operation_mode":    "one_time_high_res_mode_2",
		"sensitivity":       "100",
		"measurement_delay": "50",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := Opts{Mode: OneTimeHighRes2, Sensitivity: 100, Delay: 50 * time.Millisecond}
	if o != want {
		t.Fatalf("ParseOpts() = %+v", o)
	}
	if o, err := ParseOpts(nil); err != nil || o != DefaultOpts {
		t.Fatalf("ParseOpts(nil) = %+v, %v", o, err)
	}

	bad := []sensor.Options{
		{"operation_mode": "fast"},
		{"sensitivity": "30"},
		{"sensitivity": "255"},
		{"measurement_delay": "1001"},
		{"gain": "2"},
	}
	for _, in := range bad {
		var ce *sensor.ConfigError
		if _, err := ParseOpts(in); !errors.As(err, &ce) {
			t.Errorf("ParseOpts(%v) = %v", in, err)
		}
	}
}

func TestNewRejects(t *testing.T) {
	b := newBus()
	var ce *sensor.ConfigError
	for _, o := range []Opts{
		{Mode: ContinuousHighRes, Sensitivity: 300},
		{Mode: 0x55, Sensitivity: 69},
		{Mode: ContinuousHighRes, Sensitivity: 69, Delay: -time.Millisecond},
	} {
		if _, err := New(b, DefaultAddr, &o); !errors.As(err, &ce) {
			t.Errorf("New(%+v) = %v", o, err)
		}
	}
	if len(b.Ops) != 0 {
		t.Fatal("bus used")
	}
}

func TestModeNames(t *testing.T) {
	for _, n := range ModeNames() {
		m, err := ParseMode(n)
		if err != nil || m.String() != n {
			t.Errorf("ParseMode(%q) = %s, %v", n, m, err)
		}
	}
	if len(ModeNames()) != 6 {
		t.Fatal(ModeNames())
	}
}
