package traffic

import (
	"sort"
	"sync"
)

// LedgerEntry is the traffic recorded against one pid during an interval.
// Names keeps every display name seen for the pid, in recording order.
type LedgerEntry struct {
	PID      int32    `json:"pid"`
	Transfer Transfer `json:"transfer"`
	Names    []string `json:"names"`
}

func (e *LedgerEntry) copy() *LedgerEntry {
	names := make([]string, len(e.Names))
	copy(names, e.Names)
	return &LedgerEntry{
		PID:      e.PID,
		Transfer: e.Transfer,
		Names:    names,
	}
}

// Ledger maps pids to their traffic plus a catch-all bucket for traffic
// that could not be attributed to any process.
type Ledger struct {
	sync.RWMutex

	// key -> pid
	dict    map[int32]*LedgerEntry
	unknown Transfer
}

func NewLedger() *Ledger {
	size := 1000
	return &Ledger{
		dict: make(map[int32]*LedgerEntry, size),
	}
}

// Record merges delta into the entry for pid and appends name.
func (l *Ledger) Record(pid int32, delta Transfer, name string) {
	l.Lock()
	defer l.Unlock()

	po, ok := l.dict[pid]
	if !ok {
		l.dict[pid] = &LedgerEntry{
			PID:      pid,
			Transfer: delta,
			Names:    []string{name},
		}
		return
	}

	po.Transfer.Merge(delta)
	po.Names = append(po.Names, name)
}

func (l *Ledger) RecordUnknown(delta Transfer) {
	l.Lock()
	defer l.Unlock()

	l.unknown.Merge(delta)
}

// Get returns a copy of the entry for pid.
func (l *Ledger) Get(pid int32) (*LedgerEntry, bool) {
	l.RLock()
	defer l.RUnlock()

	po, ok := l.dict[pid]
	if !ok {
		return nil, false
	}
	return po.copy(), true
}

func (l *Ledger) Unknown() Transfer {
	l.RLock()
	defer l.RUnlock()

	return l.unknown
}

// LedgerSnapshot is the drained content of a Ledger, processes ordered by
// total bytes, largest first.
type LedgerSnapshot struct {
	Processes []*LedgerEntry `json:"processes"`
	Unknown   Transfer       `json:"unknown"`
}

// Drain returns the ledger content and empties it.
func (l *Ledger) Drain() LedgerSnapshot {
	l.Lock()
	dict, unknown := l.dict, l.unknown
	l.dict = make(map[int32]*LedgerEntry, len(dict))
	l.unknown.Reset()
	l.Unlock()

	pos := make(sortedEntries, 0, len(dict))
	for _, po := range dict {
		pos = append(pos, po)
	}
	sort.Sort(pos)

	return LedgerSnapshot{
		Processes: pos,
		Unknown:   unknown,
	}
}

type sortedEntries []*LedgerEntry

func (s sortedEntries) Len() int {
	return len(s)
}

func (s sortedEntries) Less(i, j int) bool {
	val1 := s[i].Transfer.Total()
	val2 := s[j].Transfer.Total()
	if val1 == val2 {
		return s[i].PID < s[j].PID
	}
	return val1 > val2
}

func (s sortedEntries) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}
