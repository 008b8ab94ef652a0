package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"i2csense/sensor"
)

type metrics struct {
	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	pressure    *prometheus.GaugeVec
	light       *prometheus.GaugeVec
	dewPoint    *prometheus.GaugeVec
	sampleOK    *prometheus.GaugeVec
	updates     *prometheus.CounterVec
}

func newGauge(name string, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "i2csense",
			Name:      name,
			Help:      help,
		},
		[]string{"sensor", "address"},
	)
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		temperature: newGauge("temperature_celsius", "Air temperature (units: degrees Celsius)"),
		humidity:    newGauge("humidity_percent", "Humidity (units: % of relative humidity)"),
		pressure:    newGauge("pressure_hpa", "Atmospheric pressure (units: hPa)"),
		light:       newGauge("illuminance_lux", "Ambient light (units: lux)"),
		dewPoint:    newGauge("dew_point_celsius", "Dew point (units: degrees Celsius)"),
		sampleOK:    newGauge("sample_ok", "1 if the last update produced a good sample"),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "i2csense",
				Name:      "updates_total",
				Help:      "Update cycles by result",
			},
			[]string{"sensor", "address", "result"},
		),
	}
	reg.MustRegister(m.temperature, m.humidity, m.pressure, m.light, m.dewPoint, m.sampleOK, m.updates)
	return m
}

func addrLabel(addr uint16) string {
	return fmt.Sprintf("0x%02x", addr)
}

// observe records the outcome of one cycle. Quantity gauges are dropped
// while the sensor is failing so scrapes show gaps instead of stale values.
func (m *metrics) observe(name string, addr uint16, st sensor.State) {
	labels := prometheus.Labels{"sensor": name, "address": addrLabel(addr)}
	quantities := []*prometheus.GaugeVec{m.temperature, m.humidity, m.pressure, m.light, m.dewPoint}

	if !st.OK {
		m.updates.WithLabelValues(name, addrLabel(addr), "error").Inc()
		m.sampleOK.With(labels).Set(0)
		for _, g := range quantities {
			g.Delete(labels)
		}
		return
	}
	m.updates.WithLabelValues(name, addrLabel(addr), "ok").Inc()
	m.sampleOK.With(labels).Set(1)

	r := st.Reading
	if r.Has.Has(sensor.Temperature) {
		m.temperature.With(labels).Set(r.Celsius())
	}
	if r.Has.Has(sensor.Humidity) {
		m.humidity.With(labels).Set(r.Percent())
	}
	if r.Has.Has(sensor.Pressure) {
		m.pressure.With(labels).Set(r.HectoPascal())
	}
	if r.Has.Has(sensor.Illuminance) {
		m.light.With(labels).Set(r.Lux())
	}
	if dp, ok := sensor.DewPoint(r); ok {
		m.dewPoint.With(labels).Set(dp.Celsius())
	}
}
