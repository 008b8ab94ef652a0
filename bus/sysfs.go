package bus

import (
	"sync"

	"github.com/pkg/errors"
	"gobot.io/x/gobot/sysfs"
)

// sysfsDevice is typically a *sysfs.I2cDevice.
type sysfsDevice interface {
	SetAddress(address int) error
	ReadByteData(reg uint8) (uint8, error)
	WriteByteData(reg, val uint8) error
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Sysfs is a sensor.Transport over a gobot sysfs I²C device.
type Sysfs struct {
	mu   sync.Mutex
	path string
	dev  sysfsDevice
	addr int
}

// OpenSysfs opens an i2c-dev node such as /dev/i2c-1.
func OpenSysfs(path string) (*Sysfs, error) {
	dev, err := sysfs.NewI2cDevice(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sysfs: open %s", path)
	}
	return &Sysfs{path: path, dev: dev, addr: -1}, nil
}

func (s *Sysfs) ReadReg(addr uint16, reg byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setAddress(addr); err != nil {
		return 0, err
	}
	return s.dev.ReadByteData(reg)
}

// ReadBlock writes the register pointer and reads n bytes back.
func (s *Sysfs) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setAddress(addr); err != nil {
		return nil, err
	}
	if _, err := s.dev.Write([]byte{reg}); err != nil {
		return nil, err
	}
	return s.read(n)
}

func (s *Sysfs) WriteReg(addr uint16, reg, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setAddress(addr); err != nil {
		return err
	}
	return s.dev.WriteByteData(reg, value)
}

func (s *Sysfs) Send(addr uint16, cmd byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setAddress(addr); err != nil {
		return err
	}
	_, err := s.dev.Write([]byte{cmd})
	return err
}

func (s *Sysfs) Receive(addr uint16, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setAddress(addr); err != nil {
		return nil, err
	}
	return s.read(n)
}

func (s *Sysfs) Close() error {
	return s.dev.Close()
}

func (s *Sysfs) String() string {
	return s.path
}

func (s *Sysfs) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := s.dev.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

// setAddress selects the slave; the ioctl is skipped when it is unchanged.
func (s *Sysfs) setAddress(addr uint16) error {
	if s.addr == int(addr) {
		return nil
	}
	if err := s.dev.SetAddress(int(addr)); err != nil {
		s.addr = -1
		return err
	}
	s.addr = int(addr)
	return nil
}
