package bus

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"i2csense/sensor"
)

// Backends accepted by Open.
const (
	BackendPeriph = "periph"
	BackendSMBus  = "smbus"
	BackendSysfs  = "sysfs"
)

// Closer is a transport holding an open bus.
type Closer interface {
	sensor.Transport
	io.Closer
	String() string
}

// Open opens the bus name with backend.
//
// For periph, name is anything i2creg accepts ("" picks the first bus, "1",
// "I2C1"). For smbus it is the bus number or /dev/i2c-N, and for sysfs the
// device node path or bus number.
func Open(backend, name string) (Closer, error) {
	l := log.WithFields(log.Fields{"backend": backend, "bus": name})
	switch backend {
	case BackendPeriph, "":
		if _, err := host.Init(); err != nil {
			return nil, errors.Wrap(err, "periph: host init")
		}
		b, err := i2creg.Open(name)
		if err != nil {
			return nil, errors.Wrapf(err, "periph: open %q", name)
		}
		l.Debugf("opened %s", b)
		return NewPeriph(b), nil
	case BackendSMBus:
		n, err := busNumber(name)
		if err != nil {
			return nil, err
		}
		l.Debug("opening smbus")
		return OpenSMBus(n)
	case BackendSysfs:
		path := name
		if !strings.HasPrefix(path, "/") {
			n, err := busNumber(name)
			if err != nil {
				return nil, err
			}
			path = "/dev/i2c-" + strconv.Itoa(n)
		}
		l.Debugf("opening %s", path)
		return OpenSysfs(path)
	}
	return nil, errors.Errorf("unknown bus backend %q, valid are %s, %s, %s", backend, BackendPeriph, BackendSMBus, BackendSysfs)
}

// busNumber accepts "1" or "/dev/i2c-1"; empty means bus 1, the usual one
// on a Raspberry Pi.
func busNumber(name string) (int, error) {
	if name == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "/dev/i2c-"))
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid i2c bus %q", name)
	}
	return n, nil
}
