// Package sensortest provides an in-memory register bus for driver tests.
package sensortest

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoDevice is returned for operations on an address nothing answers at.
var ErrNoDevice = errors.New("sensortest: no device at address")

// ErrInjected is the error returned by operations selected with FailOn.
var ErrInjected = errors.New("sensortest: injected failure")

// Kinds of bus operations recorded in Op.
const (
	KindRead    = "read"
	KindBlock   = "block"
	KindWrite   = "write"
	KindSend    = "send"
	KindReceive = "receive"
)

// Op is one operation seen by the Bus.
type Op struct {
	Kind  string
	Addr  uint16
	Reg   byte
	Value byte
	N     int
}

func (o Op) String() string {
	switch o.Kind {
	case KindWrite:
		return fmt.Sprintf("write(0x%02x, 0x%02x, 0x%02x)", o.Addr, o.Reg, o.Value)
	case KindSend:
		return fmt.Sprintf("send(0x%02x, 0x%02x)", o.Addr, o.Value)
	case KindReceive:
		return fmt.Sprintf("receive(0x%02x, %d)", o.Addr, o.N)
	}
	return fmt.Sprintf("%s(0x%02x, 0x%02x, %d)", o.Kind, o.Addr, o.Reg, o.N)
}

// Bus implements sensor.Transport on top of per-address register files.
//
// Writes land in the register file; Receive pops replies queued with Queue,
// or returns zeros when none are queued.
type Bus struct {
	mu      sync.Mutex
	regs    map[uint16]*[256]byte
	replies map[uint16][][]byte

	// FailOn is consulted before every operation; returning true fails it
	// with ErrInjected.
	FailOn func(op Op) bool
	// Ops logs every operation attempted, failed ones included.
	Ops []Op
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{regs: map[uint16]*[256]byte{}, replies: map[uint16][][]byte{}}
}

// Attach makes a device answer at addr.
func (b *Bus) Attach(addr uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device(addr)
}

// Set stores data into consecutive registers starting at reg.
func (b *Bus) Set(addr uint16, reg byte, data ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.device(addr)
	for i, v := range data {
		r[int(reg)+i] = v
	}
}

// Reg returns the current content of a register.
func (b *Bus) Reg(addr uint16, reg byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device(addr)[reg]
}

// Queue appends replies for Receive at addr.
func (b *Bus) Queue(addr uint16, replies ...[]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device(addr)
	b.replies[addr] = append(b.replies[addr], replies...)
}

// Writes returns the write and send operations, in order.
func (b *Bus) Writes() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Op
	for _, o := range b.Ops {
		if o.Kind == KindWrite || o.Kind == KindSend {
			out = append(out, o)
		}
	}
	return out
}

// Reset forgets the operation log.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Ops = nil
}

// Count returns how many operations of kind were attempted.
func (b *Bus) Count(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.Ops {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

func (b *Bus) ReadReg(addr uint16, reg byte) (byte, error) {
	r, err := b.do(Op{Kind: KindRead, Addr: addr, Reg: reg, N: 1})
	if err != nil {
		return 0, err
	}
	return r[reg], nil
}

func (b *Bus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	r, err := b.do(Op{Kind: KindBlock, Addr: addr, Reg: reg, N: n})
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = r[(int(reg)+i)&0xFF]
	}
	return out, nil
}

func (b *Bus) WriteReg(addr uint16, reg, value byte) error {
	r, err := b.do(Op{Kind: KindWrite, Addr: addr, Reg: reg, Value: value})
	if err != nil {
		return err
	}
	b.mu.Lock()
	r[reg] = value
	b.mu.Unlock()
	return nil
}

func (b *Bus) Send(addr uint16, cmd byte) error {
	_, err := b.do(Op{Kind: KindSend, Addr: addr, Value: cmd})
	return err
}

func (b *Bus) Receive(addr uint16, n int) ([]byte, error) {
	if _, err := b.do(Op{Kind: KindReceive, Addr: addr, N: n}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, n)
	if q := b.replies[addr]; len(q) > 0 {
		copy(out, q[0])
		b.replies[addr] = q[1:]
	}
	return out, nil
}

func (b *Bus) do(op Op) (*[256]byte, error) {
	b.mu.Lock()
	b.Ops = append(b.Ops, op)
	fail := b.FailOn
	r, ok := b.regs[op.Addr]
	b.mu.Unlock()
	if fail != nil && fail(op) {
		return nil, ErrInjected
	}
	if !ok {
		return nil, ErrNoDevice
	}
	return r, nil
}

func (b *Bus) device(addr uint16) *[256]byte {
	r, ok := b.regs[addr]
	if !ok {
		r = new([256]byte)
		b.regs[addr] = r
	}
	return r
}

// On fails operations of the given kind touching reg. For send and receive
// reg is ignored.
func On(kind string, reg byte) func(Op) bool {
	return func(o Op) bool {
		if o.Kind != kind {
			return false
		}
		return kind == KindSend || kind == KindReceive || o.Reg == reg
	}
}

// Always fails everything.
func Always(Op) bool { return true }
