package bus

import (
	"fmt"
	"sync"

	"github.com/go-daq/smbus"
	"github.com/pkg/errors"
)

// smbusConn is the part of *smbus.Conn the adapter needs.
type smbusConn interface {
	SetAddr(addr uint8) error
	ReadReg(addr, reg uint8) (uint8, error)
	ReadBlockData(addr, reg uint8, buf []byte) error
	WriteReg(addr, reg, v uint8) error
	SendByte(v uint8) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// smbusDev renames WriteByte, whose signature differs from io.ByteWriter.
type smbusDev struct {
	*smbus.Conn
}

func (c smbusDev) SendByte(v uint8) (int, error) {
	return c.Conn.WriteByte(v)
}

// SMBus is a sensor.Transport over a Linux SMBus device.
type SMBus struct {
	mu   sync.Mutex
	bus  int
	conn smbusConn
}

// OpenSMBus opens /dev/i2c-<bus>.
func OpenSMBus(bus int) (*SMBus, error) {
	c, err := smbus.Open(bus, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "smbus: open bus %d", bus)
	}
	return &SMBus{bus: bus, conn: smbusDev{c}}, nil
}

func (s *SMBus) ReadReg(addr uint16, reg byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.ReadReg(uint8(addr), reg)
}

func (s *SMBus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, n)
	if err := s.conn.ReadBlockData(uint8(addr), reg, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *SMBus) WriteReg(addr uint16, reg, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteReg(uint8(addr), reg, value)
}

func (s *SMBus) Send(addr uint16, cmd byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetAddr(uint8(addr)); err != nil {
		return err
	}
	_, err := s.conn.SendByte(cmd)
	return err
}

func (s *SMBus) Receive(addr uint16, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetAddr(uint8(addr)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	got, err := s.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:got], nil
}

func (s *SMBus) Close() error {
	return s.conn.Close()
}

func (s *SMBus) String() string {
	return fmt.Sprintf("smbus-%d", s.bus)
}
