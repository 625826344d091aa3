package process

import (
	"sync"
	"time"
)

// Mapping holds the PortMap of the last successful refresh. A failed
// refresh leaves it untouched, so readers always see a complete map.
type Mapping struct {
	sync.RWMutex

	dict    PortMap
	updated time.Time
}

func NewMapping() *Mapping {
	return &Mapping{
		dict: PortMap{},
	}
}

// Update replaces the current map. The map must not be modified afterwards.
func (m *Mapping) Update(pm PortMap) {
	if pm == nil {
		pm = PortMap{}
	}

	m.Lock()
	defer m.Unlock()

	m.dict = pm
	m.updated = time.Now()
}

func (m *Mapping) Lookup(port uint16) ([]Process, bool) {
	m.RLock()
	defer m.RUnlock()

	procs, ok := m.dict[port]
	return procs, ok
}

// Current returns the shared map; treat it as read-only.
func (m *Mapping) Current() PortMap {
	m.RLock()
	defer m.RUnlock()

	return m.dict
}

func (m *Mapping) Updated() time.Time {
	m.RLock()
	defer m.RUnlock()

	return m.updated
}

func (m *Mapping) Len() int {
	m.RLock()
	defer m.RUnlock()

	return len(m.dict)
}
