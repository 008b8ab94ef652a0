// Package bus adapts concrete I²C stacks to sensor.Transport.
//
// Every adapter serializes its own transactions, so several sensors may share
// one from different goroutines.
package bus

import (
	"sync"

	"periph.io/x/conn/v3/i2c"
)

// Periph is a sensor.Transport over a periph.io I²C bus.
type Periph struct {
	mu sync.Mutex
	b  i2c.Bus
}

// NewPeriph wraps b.
func NewPeriph(b i2c.Bus) *Periph {
	return &Periph{b: b}
}

func (p *Periph) ReadReg(addr uint16, reg byte) (byte, error) {
	var r [1]byte
	if err := p.tx(addr, []byte{reg}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (p *Periph) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := p.tx(addr, []byte{reg}, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *Periph) WriteReg(addr uint16, reg, value byte) error {
	return p.tx(addr, []byte{reg, value}, nil)
}

func (p *Periph) Send(addr uint16, cmd byte) error {
	return p.tx(addr, []byte{cmd}, nil)
}

func (p *Periph) Receive(addr uint16, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := p.tx(addr, nil, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the underlying bus when it can be closed.
func (p *Periph) Close() error {
	if c, ok := p.b.(i2c.BusCloser); ok {
		return c.Close()
	}
	return nil
}

func (p *Periph) String() string {
	return p.b.String()
}

func (p *Periph) tx(addr uint16, w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.b.Tx(addr, w, r)
}
