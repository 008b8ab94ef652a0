package bme280

import (
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"

	"i2csense/bus"
	"i2csense/sensor"
	"i2csense/sensor/sensortest"
)

// Calibration of a real part, T1..H6:
// 27504 26435 -1000 / 36477 -10685 3024 2855 140 -7 15500 -14600 6000 /
// 75 362 0 324 50 30
var (
	cal1 = []byte{
		0x70, 0x6B, 0x43, 0x67, 0x18, 0xFC, 0x7D, 0x8E, 0x43, 0xD6, 0xD0, 0x0B, 0x27,
		0x0B, 0x8C, 0x00, 0xF9, 0xFF, 0x8C, 0x3C, 0xF8, 0xC6, 0x70, 0x17, 0x00, 0x4B,
	}
	cal2 = []byte{0x6A, 0x01, 0x00, 0x14, 0x24, 0x03, 0x1E}

	// adc_P 415148, adc_T 519888, adc_H 30000
	sample = []byte{0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00, 0x75, 0x30}
)

func newBus() *sensortest.Bus {
	b := sensortest.New()
	b.Set(DefaultAddr, AddrChipID, chipID)
	b.Set(DefaultAddr, AddrCal1Start, cal1...)
	b.Set(DefaultAddr, AddrCal2Start, cal2...)
	b.Set(DefaultAddr, AddrPressMSB, sample...)
	return b
}

func noSleep(t *testing.T) *[]time.Duration {
	var slept []time.Duration
	old := doSleep
	doSleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { doSleep = old })
	return &slept
}

func TestCalibrationParse(t *testing.T) {
	c, err := newCalibration(cal1, cal2)
	if err != nil {
		t.Fatal(err)
	}
	want := calibration280{
		t1: 27504, t2: 26435, t3: -1000,
		p1: 36477, p2: -10685, p3: 3024, p4: 2855, p5: 140, p6: -7, p7: 15500, p8: -14600, p9: 6000,
		h1: 75, h2: 362, h3: 0, h4: 324, h5: 50, h6: 30,
	}
	if c != want {
		t.Fatalf("newCalibration() = %+v\nwant %+v", c, want)
	}
}

func TestCalibrationSplitNibbles(t *testing.T) {
	// 0xE4..0xE6 = 0xF0 0x8F 0x80: H4 = 0xF0F, H5 = 0x808, both negative.
	cd2 := []byte{0x6A, 0x01, 0x00, 0xF0, 0x8F, 0x80, 0xFF}
	c, err := newCalibration(cal1, cd2)
	if err != nil {
		t.Fatal(err)
	}
	if c.h4 != -241 || c.h5 != -2040 || c.h6 != -1 {
		t.Fatalf("h4=%d h5=%d h6=%d", c.h4, c.h5, c.h6)
	}
}

func TestUpdate(t *testing.T) {
	noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Phase() != sensor.Ready {
		t.Fatalf("phase %s", d.Phase())
	}
	if _, ok := d.LastReading(); ok {
		t.Fatal("reading before first update")
	}
	d.Update()
	if !d.SampleOK() {
		t.Fatalf("update failed: %v", d.State().Err)
	}
	r, ok := d.LastReading()
	if !ok {
		t.Fatal("no reading")
	}
	if r.Has != sensor.Temperature|sensor.Pressure|sensor.Humidity {
		t.Fatalf("quantities %b", r.Has)
	}
	if r.Celsius() != 25.08 {
		t.Errorf("temperature %v", r.Celsius())
	}
	if math.Abs(r.HectoPascal()-1006.5325390625) > 1e-9 {
		t.Errorf("pressure %v", r.HectoPascal())
	}
	if math.Abs(r.Percent()-52306.0/1024) > 1e-3 {
		t.Errorf("humidity %v", r.Percent())
	}
	if s := d.Summary(); s != "Temp: 25.08 ºC, Humid: 51.08 %, Press: 1006.53 mb" {
		t.Errorf("summary %q", s)
	}
	if s := d.String(); s != "BME280{0x76}" {
		t.Errorf("String() = %q", s)
	}
}

func TestInitSequence(t *testing.T) {
	noSleep(t)
	b := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x76, W: []byte{0xD0}, R: []byte{0x60}},
			{Addr: 0x76, W: []byte{0x88}, R: cal1},
			{Addr: 0x76, W: []byte{0xE1}, R: cal2},
			// ctrl_meas sleep, ctrl_hum, config, ctrl_meas normal
			{Addr: 0x76, W: []byte{0xF4, 0x24}},
			{Addr: 0x76, W: []byte{0xF2, 0x01}},
			{Addr: 0x76, W: []byte{0xF5, 0xA0}},
			{Addr: 0x76, W: []byte{0xF4, 0x27}},
			// Update in normal mode only reads.
			{Addr: 0x76, W: []byte{0xF7}, R: sample},
		},
	}
	p := bus.NewPeriph(&b)
	d, err := New(p, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.Update()
	if !d.SampleOK() {
		t.Fatal(d.State().Err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestForcedTrigger(t *testing.T) {
	slept := noSleep(t)
	opts := DefaultOpts
	opts.Mode = Forced
	opts.Filter = F4
	b := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x76, W: []byte{0xD0}, R: []byte{0x60}},
			{Addr: 0x76, W: []byte{0x88}, R: cal1},
			{Addr: 0x76, W: []byte{0xE1}, R: cal2},
			{Addr: 0x76, W: []byte{0xF4, 0x24}},
			{Addr: 0x76, W: []byte{0xF2, 0x01}},
			{Addr: 0x76, W: []byte{0xF5, 0xA8}},
			// Forced mode idles asleep until triggered.
			{Addr: 0x76, W: []byte{0xF4, 0x24}},
			// ctrl_hum must precede ctrl_meas.
			{Addr: 0x76, W: []byte{0xF2, 0x01}},
			{Addr: 0x76, W: []byte{0xF4, 0x25}},
			{Addr: 0x76, W: []byte{0xF7}, R: sample},
		},
	}
	p := bus.NewPeriph(&b)
	d, err := New(p, DefaultAddr, &opts)
	if err != nil {
		t.Fatal(err)
	}
	d.Update()
	if !d.SampleOK() {
		t.Fatal(d.State().Err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != 9300*time.Microsecond {
		t.Fatalf("slept %v", *slept)
	}
}

func TestMeasurementTime(t *testing.T) {
	data := []struct {
		t, p, h Oversampling
		want    time.Duration
	}{
		{O1x, O1x, O1x, 9300 * time.Microsecond},
		{O16x, O16x, O16x, 112800 * time.Microsecond},
		{O1x, Off, Off, 3550 * time.Microsecond},
		{O2x, O4x, Off, 15625 * time.Microsecond},
		// Temperature is converted for humidity even when not published.
		{Off, Off, O1x, 6425 * time.Microsecond},
		{Off, Off, Off, 1250 * time.Microsecond},
	}
	for i, line := range data {
		o := Opts{Temperature: line.t, Pressure: line.p, Humidity: line.h, Mode: Forced}
		if got := o.measurementTime(); got != line.want {
			t.Errorf("#%d: measurementTime() = %v, want %v", i, got, line.want)
		}
	}
}

func TestConfigErrorBeforeBus(t *testing.T) {
	data := []struct {
		name string
		opts Opts
		addr uint16
	}{
		{"osrs_t", Opts{Temperature: 6, Pressure: O1x, Humidity: O1x, Mode: Normal}, DefaultAddr},
		{"mode", Opts{Temperature: O1x, Mode: 4}, DefaultAddr},
		{"filter_mode", Opts{Temperature: O1x, Filter: 5}, DefaultAddr},
		{"t_sb", Opts{Temperature: O1x, Standby: 8}, DefaultAddr},
		{"delta_temp", Opts{Temperature: O1x, DeltaTemp: 10.5}, DefaultAddr},
		{"address", DefaultOpts, 0x03},
	}
	for _, line := range data {
		b := newBus()
		_, err := New(b, line.addr, &line.opts)
		var ce *sensor.ConfigError
		if !errors.As(err, &ce) || ce.Option != line.name {
			t.Errorf("%s: New() = %v", line.name, err)
		}
		if len(b.Ops) != 0 {
			t.Errorf("%s: bus used: %v", line.name, b.Ops)
		}
	}
}

func TestParseOpts(t *testing.T) {
	o, err := ParseOpts(sensor.Options{"osrs_p": "0", "mode": "2", "t_sb": "7", "delta_temp": "-1.5"})
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultOpts
	want.Pressure = Off
	want.Mode = Forced2
	want.Standby = S20ms
	want.DeltaTemp = -1.5
	if o != want {
		t.Fatalf("ParseOpts() = %+v", o)
	}

	bad := []sensor.Options{
		{"osrs_t": "6"},
		{"osrs_h": "-1"},
		{"filter_mode": "x"},
		{"delta_temp": "20"},
		{"oversampling": "1"},
	}
	for _, in := range bad {
		var ce *sensor.ConfigError
		if _, err := ParseOpts(in); !errors.As(err, &ce) {
			t.Errorf("ParseOpts(%v) = %v", in, err)
		}
	}
}

func TestCalibrationErrors(t *testing.T) {
	b := newBus()
	b.Set(DefaultAddr, AddrChipID, 0x58)
	var ce *sensor.CalibrationError
	if _, err := New(b, DefaultAddr, nil); !errors.As(err, &ce) {
		t.Errorf("wrong chip id: %v", err)
	}

	b = newBus()
	b.Set(DefaultAddr, AddrCal1Start, make([]byte, len(cal1))...)
	if _, err := New(b, DefaultAddr, nil); !errors.As(err, &ce) {
		t.Errorf("blank calibration: %v", err)
	}

	b = newBus()
	b.FailOn = sensortest.On(sensortest.KindBlock, AddrCal2Start)
	var te *sensor.TransportError
	if _, err := New(b, DefaultAddr, nil); !errors.As(err, &te) || te.Reg != AddrCal2Start {
		t.Errorf("calibration read failure: %v", err)
	}
	if b.Count(sensortest.KindWrite) != 0 {
		t.Error("settings written without calibration")
	}
}

func TestLoadCalibrationOnce(t *testing.T) {
	noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.Update()
	d.Update()
	// Two calibration blocks plus one data block per update.
	if n := b.Count(sensortest.KindBlock); n != 4 {
		t.Fatalf("%d block reads", n)
	}
}

func TestReadFailureKeepsReading(t *testing.T) {
	noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.Update()
	good, _ := d.LastReading()

	b.FailOn = sensortest.On(sensortest.KindBlock, AddrPressMSB)
	d.Update()
	if d.SampleOK() {
		t.Fatal("update succeeded on a failed read")
	}
	r, ok := d.LastReading()
	if !ok || r != good {
		t.Fatalf("reading lost: %+v", r)
	}
	var te *sensor.TransportError
	if !errors.As(d.State().Err, &te) {
		t.Fatalf("state error %v", d.State().Err)
	}
	if d.Summary() != "Bad sample" {
		t.Fatal(d.Summary())
	}
	if d.Phase() != sensor.Ready {
		t.Fatalf("phase %s", d.Phase())
	}

	// The next cycle rewrites the settings before reading.
	b.FailOn = nil
	b.Reset()
	d.Update()
	if !d.SampleOK() {
		t.Fatal(d.State().Err)
	}
	w := b.Writes()
	if len(w) != 4 || w[1].Reg != AddrCtrlHum || w[3].Reg != AddrCtrlMeas || w[3].Value != 0x27 {
		t.Fatalf("writes %v", w)
	}
}

func TestImplausible(t *testing.T) {
	noSleep(t)
	b := newBus()
	d, err := New(b, DefaultAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	b.Set(DefaultAddr, AddrPressMSB, make([]byte, 8)...)
	d.Update()
	if d.SampleOK() {
		t.Fatal("zero sample accepted")
	}
	if !errors.Is(d.State().Err, ErrImplausible) {
		t.Fatalf("error %v", d.State().Err)
	}
	if _, ok := d.LastReading(); ok {
		t.Fatal("implausible sample published")
	}
}

func newDecoder(t *testing.T, opts *Opts) *Dev {
	d, err := New(newBus(), DefaultAddr, opts)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDecodeTemperatureDependency(t *testing.T) {
	d := newDecoder(t, nil)
	base, err := d.decode(sample)
	if err != nil {
		t.Fatal(err)
	}
	// Only the temperature MSB changes: adc_T += 4096.
	warmer := append([]byte(nil), sample...)
	warmer[3] = 0x7F
	r, err := d.decode(warmer)
	if err != nil {
		t.Fatal(err)
	}
	if r.Celsius() != 26.37 {
		t.Errorf("temperature %v", r.Celsius())
	}
	if r.Pressure == base.Pressure || r.Humidity == base.Humidity {
		t.Fatal("pressure and humidity ignore temperature")
	}
	if math.Abs(r.HectoPascal()-25817823.0/25600) > 1e-9 {
		t.Errorf("pressure %v", r.HectoPascal())
	}
	if math.Abs(r.Percent()-52340.0/1024) > 1e-3 {
		t.Errorf("humidity %v", r.Percent())
	}
}

func TestDecodeDeterministic(t *testing.T) {
	d := newDecoder(t, nil)
	a, err1 := d.decode(sample)
	b, err2 := d.decode(sample)
	if err1 != nil || err2 != nil || a != b {
		t.Fatalf("%+v %v != %+v %v", a, err1, b, err2)
	}
}

func TestDecodeHumidityClamp(t *testing.T) {
	d := newDecoder(t, nil)
	data := []struct {
		msb, lsb byte
		want     float64
	}{
		{0xC3, 0x50, 100}, // 50000
		{0x4E, 0x20, 0},   // 20000
	}
	for _, line := range data {
		buf := append([]byte(nil), sample...)
		buf[6], buf[7] = line.msb, line.lsb
		r, err := d.decode(buf)
		if err != nil {
			t.Fatal(err)
		}
		if r.Percent() != line.want {
			t.Errorf("0x%02x%02x: %v %%RH, want %v", line.msb, line.lsb, r.Percent(), line.want)
		}
	}
}

func TestDecodeDeltaTemp(t *testing.T) {
	opts := DefaultOpts
	opts.DeltaTemp = 1
	d := newDecoder(t, &opts)
	r, err := d.decode(sample)
	if err != nil {
		t.Fatal(err)
	}
	if r.Celsius() != 26.08 {
		t.Errorf("temperature %v", r.Celsius())
	}
	if math.Abs(r.HectoPascal()-25806660.0/25600) > 1e-9 {
		t.Errorf("pressure %v", r.HectoPascal())
	}
}

func TestSkippedChannels(t *testing.T) {
	opts := DefaultOpts
	opts.Pressure = Off
	opts.Humidity = O2x
	d := newDecoder(t, &opts)
	r, err := d.decode(sample)
	if err != nil {
		t.Fatal(err)
	}
	want := sensor.Temperature | sensor.Humidity
	if r.Has != want || d.Quantities() != want {
		t.Fatalf("Has %b, Quantities %b", r.Has, d.Quantities())
	}
	if r.Pressure != 0 {
		t.Fatal("skipped pressure reported")
	}

	// Without published temperature the chip still converts it, at 1x.
	slept := noSleep(t)
	opts = DefaultOpts
	opts.Temperature = Off
	opts.Mode = Forced
	b := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x76, W: []byte{0xD0}, R: []byte{0x60}},
			{Addr: 0x76, W: []byte{0x88}, R: cal1},
			{Addr: 0x76, W: []byte{0xE1}, R: cal2},
			{Addr: 0x76, W: []byte{0xF4, 0x24}},
			{Addr: 0x76, W: []byte{0xF2, 0x01}},
			{Addr: 0x76, W: []byte{0xF5, 0xA0}},
			{Addr: 0x76, W: []byte{0xF4, 0x24}},
			{Addr: 0x76, W: []byte{0xF2, 0x01}},
			{Addr: 0x76, W: []byte{0xF4, 0x25}},
			{Addr: 0x76, W: []byte{0xF7}, R: sample},
		},
	}
	p := bus.NewPeriph(&b)
	d, err = New(p, DefaultAddr, &opts)
	if err != nil {
		t.Fatal(err)
	}
	d.Update()
	if !d.SampleOK() {
		t.Fatal(d.State().Err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != 9300*time.Microsecond {
		t.Fatalf("slept %v", *slept)
	}
	r, _ = d.LastReading()
	if r.Has != sensor.Pressure|sensor.Humidity {
		t.Fatalf("quantities %b", r.Has)
	}
	if math.Abs(r.HectoPascal()-1006.5325390625) > 1e-9 {
		t.Errorf("pressure %v", r.HectoPascal())
	}
	if math.Abs(r.Percent()-52306.0/1024) > 1e-3 {
		t.Errorf("humidity %v", r.Percent())
	}
}

func TestSleepModeTriggers(t *testing.T) {
	slept := noSleep(t)
	opts := DefaultOpts
	opts.Mode = Sleep
	b := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x76, W: []byte{0xD0}, R: []byte{0x60}},
			{Addr: 0x76, W: []byte{0x88}, R: cal1},
			{Addr: 0x76, W: []byte{0xE1}, R: cal2},
			{Addr: 0x76, W: []byte{0xF4, 0x24}},
			{Addr: 0x76, W: []byte{0xF2, 0x01}},
			{Addr: 0x76, W: []byte{0xF5, 0xA0}},
			{Addr: 0x76, W: []byte{0xF4, 0x24}},
			// A sleeping chip holds stale data until forced once.
			{Addr: 0x76, W: []byte{0xF2, 0x01}},
			{Addr: 0x76, W: []byte{0xF4, 0x25}},
			{Addr: 0x76, W: []byte{0xF7}, R: sample},
		},
	}
	p := bus.NewPeriph(&b)
	d, err := New(p, DefaultAddr, &opts)
	if err != nil {
		t.Fatal(err)
	}
	d.Update()
	if !d.SampleOK() {
		t.Fatal(d.State().Err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 {
		t.Fatalf("slept %v", *slept)
	}
}

func TestStrings(t *testing.T) {
	data := []struct {
		got, want string
	}{
		{O16x.String(), "16x"},
		{Off.String(), "Off"},
		{Oversampling(9).String(), "Oversampling(9)"},
		{NoFilter.String(), "NoFilter"},
		{F8.String(), "F8"},
		{Forced2.String(), "Forced"},
		{S62ms.String(), "62.5ms"},
		{S1s.String(), "1s"},
	}
	for _, line := range data {
		if line.got != line.want {
			t.Errorf("%q != %q", line.got, line.want)
		}
	}
}
