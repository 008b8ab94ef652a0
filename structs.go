package main

import (
	"time"

	"i2csense/sensor"
)

// SensorReading is the JSON body served at "/". Quantities the sensor does not
// measure are left out.
type SensorReading struct {
	Sensor      string    `json:"sensor"`
	Address     string    `json:"address"`
	OK          bool      `json:"ok"`
	Summary     string    `json:"summary"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Pressure    *float64  `json:"pressure,omitempty"`
	Light       *float64  `json:"light,omitempty"`
	DewPoint    *float64  `json:"dewPoint,omitempty"`
	Error       string    `json:"error,omitempty"`
	Updated     time.Time `json:"-"`
	UpdatedStr  string    `json:"updated"`
}

func NewSensorReading(name string, addr uint16, st sensor.State) SensorReading {
	reading := SensorReading{
		Sensor:  name,
		Address: addrLabel(addr),
		OK:      st.OK,
		Summary: sensor.Summary(st),
		Updated: st.UpdatedAt,
	}
	if !st.UpdatedAt.IsZero() {
		reading.UpdatedStr = st.UpdatedAt.Format("2006-01-02 15:04:05") // ISO 8601 without timezone
	}
	if st.Err != nil {
		reading.Error = st.Err.Error()
	}
	if !st.Valid {
		return reading
	}

	r := st.Reading
	if r.Has.Has(sensor.Temperature) {
		reading.Temperature = rounded(r.Celsius())
	}
	if r.Has.Has(sensor.Humidity) {
		reading.Humidity = rounded(r.Percent())
	}
	if r.Has.Has(sensor.Pressure) {
		reading.Pressure = rounded(r.HectoPascal())
	}
	if r.Has.Has(sensor.Illuminance) {
		reading.Light = rounded(r.Lux())
	}
	if dp, ok := sensor.DewPoint(r); ok {
		reading.DewPoint = rounded(dp.Celsius())
	}
	return reading
}

func rounded(v float64) *float64 {
	v = sensor.Round(v, 2)
	return &v
}
