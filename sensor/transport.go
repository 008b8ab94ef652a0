package sensor

import (
	"fmt"
	"strconv"
)

// Valid 7-bit device addresses; the rest of the range is reserved by the
// I²C specification.
const (
	MinAddr uint16 = 0x08
	MaxAddr uint16 = 0x77
)

// Transport is the byte-level register bus a driver talks through.
//
// Implementations are assumed to be serialized: a driver issues one
// operation at a time and never holds the bus across calls.
type Transport interface {
	// ReadReg reads one byte from register reg.
	ReadReg(addr uint16, reg byte) (byte, error)
	// ReadBlock reads n consecutive registers starting at reg in a single
	// transaction.
	ReadBlock(addr uint16, reg byte, n int) ([]byte, error)
	// WriteReg writes value into register reg.
	WriteReg(addr uint16, reg, value byte) error
	// Send writes a single command byte with no register.
	Send(addr uint16, cmd byte) error
	// Receive reads n bytes without addressing a register first.
	Receive(addr uint16, n int) ([]byte, error)
}

// CheckAddr returns a ConfigError if addr is outside the 7-bit device range.
func CheckAddr(addr uint16) error {
	if addr < MinAddr || addr > MaxAddr {
		return configErrorf("address", fmt.Sprintf("0x%02x", addr), "must be within 0x%02x..0x%02x", MinAddr, MaxAddr)
	}
	return nil
}

// ParseAddr parses a decimal or 0x prefixed hexadecimal address.
func ParseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, configErrorf("address", s, "not a number")
	}
	a := uint16(v)
	if err := CheckAddr(a); err != nil {
		return 0, err
	}
	return a, nil
}

// Scan probes every valid address with a one byte read and returns the ones
// that answered.
func Scan(t Transport) []uint16 {
	var found []uint16
	for a := MinAddr; a <= MaxAddr; a++ {
		if _, err := t.Receive(a, 1); err == nil {
			found = append(found, a)
		}
	}
	return found
}

// Dev is a device on a Transport. It saves from repeating the address and
// reports every failure as a *TransportError.
type Dev struct {
	Bus  Transport
	Addr uint16
}

func (d *Dev) ReadReg(reg byte) (byte, error) {
	v, err := d.Bus.ReadReg(d.Addr, reg)
	return v, d.wrap("read", reg, err)
}

func (d *Dev) ReadBlock(reg byte, n int) ([]byte, error) {
	b, err := d.Bus.ReadBlock(d.Addr, reg, n)
	if err == nil && len(b) != n {
		err = fmt.Errorf("short read: %d of %d bytes", len(b), n)
	}
	return b, d.wrap("read block", reg, err)
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.wrap("write", reg, d.Bus.WriteReg(d.Addr, reg, value))
}

func (d *Dev) Send(cmd byte) error {
	return d.wrap("send", cmd, d.Bus.Send(d.Addr, cmd))
}

func (d *Dev) Receive(n int) ([]byte, error) {
	b, err := d.Bus.Receive(d.Addr, n)
	if err == nil && len(b) != n {
		err = fmt.Errorf("short read: %d of %d bytes", len(b), n)
	}
	return b, d.wrap("receive", 0, err)
}

func (d *Dev) String() string {
	return fmt.Sprintf("0x%02x", d.Addr)
}

func (d *Dev) wrap(op string, reg byte, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*TransportError); ok {
		return err
	}
	return &TransportError{Op: op, Addr: d.Addr, Reg: reg, Err: err}
}
