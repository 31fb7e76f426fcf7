package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/freza/core"
)

// Compile-time check that InMemoryStore implements core.MemoryStore.
var _ core.MemoryStore = (*InMemoryStore)(nil)

// InMemoryStore is a naive process‑local MemoryStore.
//
// Concurrency: protected by RWMutex. Suitable only for tests / demos.
type InMemoryStore struct {
	mu        sync.RWMutex
	longTerm  map[string]string              // agent -> document
	shortTerm map[string]core.ShortTermState // instanceID -> state
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		longTerm:  make(map[string]string),
		shortTerm: make(map[string]core.ShortTermState),
	}
}

// ReadLongTerm returns the agent's memory document, or "" when it has none.
func (m *InMemoryStore) ReadLongTerm(agent string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.longTerm[agent], nil
}

// WriteLongTerm replaces the agent's memory document.
func (m *InMemoryStore) WriteLongTerm(agent, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.longTerm[agent] = content
	return nil
}

// AppendLongTerm appends text as a new line.
func (m *InMemoryStore) AppendLongTerm(agent, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.longTerm[agent] = appendLine(m.longTerm[agent], text)
	return nil
}

// PutShortTerm stores state under its instance id.
func (m *InMemoryStore) PutShortTerm(state core.ShortTermState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm[state.InstanceID] = state
	return nil
}

// GetShortTerm returns the state of an instance.
func (m *InMemoryStore) GetShortTerm(instanceID string) (core.ShortTermState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.shortTerm[instanceID]
	return st, ok, nil
}

// DeleteShortTerm removes the state of an instance.
func (m *InMemoryStore) DeleteShortTerm(instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shortTerm, instanceID)
	return nil
}

// ListShortTerm returns every stored state ordered by start time.
func (m *InMemoryStore) ListShortTerm() ([]core.ShortTermState, error) {
	m.mu.RLock()
	out := make([]core.ShortTermState, 0, len(m.shortTerm))
	for _, st := range m.shortTerm {
		out = append(out, st)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt < out[j].StartedAt })
	return out, nil
}

func appendLine(doc, text string) string {
	if doc != "" && !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	text = strings.TrimRight(text, "\n")
	return doc + text + "\n"
}
