package storage

import (
	"strings"
	"sync"
)

// mirror is the in-memory copy shared by the drivers. The poller is the only
// writer; health and metrics read Len concurrently.
type mirror struct {
	mu  sync.RWMutex
	ids IDSet
}

func (m *mirror) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids.Has(id)
}

func (m *mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// add reports whether id was new.
func (m *mirror) add(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = IDSet{}
	}
	if m.ids.Has(id) {
		return false
	}
	m.ids.Add(id)
	return true
}

func (m *mirror) replace(ids IDSet) IDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = ids
	return ids.Clone()
}

func validID(id string) bool {
	return strings.TrimSpace(id) != "" && !strings.ContainsAny(id, "\r\n")
}
