package main

import (
	"fmt"
	"sort"
	"strings"

	"i2csense/bh1750"
	"i2csense/bme280"
	"i2csense/htu21d"
	"i2csense/sensor"
)

type driver struct {
	// addrs are the strappable addresses, the first one is the default.
	addrs []uint16
	open  func(t sensor.Transport, addr uint16, o sensor.Options) (sensor.Sensor, error)
}

var drivers = map[string]driver{
	"bme280": {
		addrs: []uint16{bme280.DefaultAddr, 0x77},
		open: func(t sensor.Transport, addr uint16, o sensor.Options) (sensor.Sensor, error) {
			return bme280.NewFromOptions(t, addr, o)
		},
	},
	"htu21d": {
		addrs: []uint16{htu21d.DefaultAddr},
		open: func(t sensor.Transport, addr uint16, o sensor.Options) (sensor.Sensor, error) {
			return htu21d.NewFromOptions(t, addr, o)
		},
	},
	"bh1750": {
		addrs: []uint16{bh1750.DefaultAddr, 0x5C},
		open: func(t sensor.Transport, addr uint16, o sensor.Options) (sensor.Sensor, error) {
			return bh1750.NewFromOptions(t, addr, o)
		},
	},
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// openSensor builds the named sensor on t. An empty address picks the
// driver's default one.
func openSensor(t sensor.Transport, name, address string, params []string) (sensor.Sensor, uint16, error) {
	drv, ok := drivers[strings.ToLower(name)]
	if !ok {
		return nil, 0, fmt.Errorf("unknown sensor %q, valid are %s", name, strings.Join(driverNames(), ", "))
	}
	addr := drv.addrs[0]
	if address != "" {
		var err error
		if addr, err = sensor.ParseAddr(address); err != nil {
			return nil, 0, err
		}
	}
	o, err := sensor.ParseOptions(params)
	if err != nil {
		return nil, 0, err
	}
	dev, err := drv.open(t, addr, o)
	if err != nil {
		return nil, 0, err
	}
	return dev, addr, nil
}

// candidates names the drivers that may live at addr.
func candidates(addr uint16) []string {
	var out []string
	for _, n := range driverNames() {
		for _, a := range drivers[n].addrs {
			if a == addr {
				out = append(out, n)
			}
		}
	}
	return out
}
