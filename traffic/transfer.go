// Package traffic holds the byte counters shared between the capture goroutine
// and the reporter: a global counter, the per-port table and the per-process ledger.
package traffic

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrZeroInterval is returned by Rate when asked to normalise over an empty interval.
var ErrZeroInterval = errors.New("traffic: rate interval must be > 0")

type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// DirectionOf maps a classifier result onto a Direction.
func DirectionOf(incoming bool) Direction {
	if incoming {
		return Incoming
	}
	return Outgoing
}

// Transfer is a pair of byte counters. It only grows until Reset.
type Transfer struct {
	Incoming uint64 `json:"incoming"`
	Outgoing uint64 `json:"outgoing"`
}

func (t *Transfer) IncrIncoming(n uint64) {
	t.Incoming += n
}

func (t *Transfer) IncrOutgoing(n uint64) {
	t.Outgoing += n
}

// Add increments the counter selected by dir.
func (t *Transfer) Add(dir Direction, n uint64) {
	switch dir {
	case Incoming:
		t.IncrIncoming(n)
	case Outgoing:
		t.IncrOutgoing(n)
	}
}

// Merge adds other into t field by field.
func (t *Transfer) Merge(other Transfer) {
	t.Incoming += other.Incoming
	t.Outgoing += other.Outgoing
}

func (t *Transfer) Reset() {
	t.Incoming = 0
	t.Outgoing = 0
}

func (t Transfer) IsZero() bool {
	return t.Incoming == 0 && t.Outgoing == 0
}

func (t Transfer) Total() uint64 {
	return t.Incoming + t.Outgoing
}

// Rate normalises the counters to bytes per second over intervalMS milliseconds.
func (t Transfer) Rate(intervalMS uint64) (in uint64, out uint64, err error) {
	if intervalMS == 0 {
		return 0, 0, ErrZeroInterval
	}
	return t.Incoming * 1000 / intervalMS, t.Outgoing * 1000 / intervalMS, nil
}

// Counter is a Transfer guarded by a mutex, used for the interface-wide total.
type Counter struct {
	mu sync.Mutex
	t  Transfer
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) Add(dir Direction, n uint64) {
	c.mu.Lock()
	c.t.Add(dir, n)
	c.mu.Unlock()
}

// Load returns the live value without resetting it.
func (c *Counter) Load() Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

// Drain returns the current value and zeroes the counter in one critical section.
func (c *Counter) Drain() Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.t
	c.t.Reset()
	return snap
}
