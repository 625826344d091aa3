package traffic

import "sync"

// PortTable accumulates traffic per local transport port, whoever owns the port.
// Entries are created on first traffic and never evicted.
type PortTable struct {
	sync.Mutex

	dict map[uint16]*Transfer
}

func NewPortTable() *PortTable {
	size := 1000
	return &PortTable{
		dict: make(map[uint16]*Transfer, size),
	}
}

func (pt *PortTable) Increment(port uint16, dir Direction, size uint64) {
	pt.Lock()
	defer pt.Unlock()

	t, ok := pt.dict[port]
	if !ok {
		t = new(Transfer)
		pt.dict[port] = t
	}
	t.Add(dir, size)
}

func (pt *PortTable) IncrIncoming(port uint16, size uint64) {
	pt.Increment(port, Incoming, size)
}

func (pt *PortTable) IncrOutgoing(port uint16, size uint64) {
	pt.Increment(port, Outgoing, size)
}

// Get returns the live value for port and whether the port was ever seen.
func (pt *PortTable) Get(port uint16) (Transfer, bool) {
	pt.Lock()
	defer pt.Unlock()

	t, ok := pt.dict[port]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

func (pt *PortTable) Len() int {
	pt.Lock()
	defer pt.Unlock()

	return len(pt.dict)
}

// Drain copies every entry and zeroes the live counters. Known ports stay in the table.
func (pt *PortTable) Drain() map[uint16]Transfer {
	pt.Lock()
	defer pt.Unlock()

	snap := make(map[uint16]Transfer, len(pt.dict))
	for port, t := range pt.dict {
		snap[port] = *t
		t.Reset()
	}
	return snap
}
