package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
)

// Compile-time check that FileStore implements core.MemoryStore.
var _ core.MemoryStore = (*FileStore)(nil)

// FileStore keeps agents/<name>/memory.md and state/short_term/<id>.json.
// Writes are atomic and serialized per agent within the process.
type FileStore struct {
	layout core.Layout
	locks  sync.Map // agent -> *sync.Mutex
}

// NewFileStore returns a store rooted at layout.
func NewFileStore(layout core.Layout) *FileStore {
	return &FileStore{layout: layout}
}

func (s *FileStore) lock(agent string) func() {
	v, _ := s.locks.LoadOrStore(agent, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ReadLongTerm returns the agent's memory document, or "" when it has none.
func (s *FileStore) ReadLongTerm(agent string) (string, error) {
	if err := core.ValidateName(agent); err != nil {
		return "", err
	}
	b, err := os.ReadFile(s.layout.MemoryFile(agent))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read memory of %s: %w", agent, err)
	}
	return string(b), nil
}

// WriteLongTerm replaces the agent's memory document.
func (s *FileStore) WriteLongTerm(agent, content string) error {
	if err := core.ValidateName(agent); err != nil {
		return err
	}
	defer s.lock(agent)()
	return util.WriteFileAtomic(s.layout.MemoryFile(agent), []byte(content), 0o644)
}

// AppendLongTerm appends text as a new line.
func (s *FileStore) AppendLongTerm(agent, text string) error {
	if err := core.ValidateName(agent); err != nil {
		return err
	}
	defer s.lock(agent)()
	doc, err := s.ReadLongTerm(agent)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(s.layout.MemoryFile(agent), []byte(appendLine(doc, text)), 0o644)
}

// InitLongTerm writes the initial memory document unless one exists.
func (s *FileStore) InitLongTerm(agent, description string) error {
	if err := core.ValidateName(agent); err != nil {
		return err
	}
	defer s.lock(agent)()
	if _, err := os.Stat(s.layout.MemoryFile(agent)); err == nil {
		return nil
	}
	doc, err := InitialLongTerm(agent, description)
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(s.layout.MemoryFile(agent), []byte(doc), 0o644)
}

// PutShortTerm stores state under its instance id.
func (s *FileStore) PutShortTerm(state core.ShortTermState) error {
	if state.InstanceID == "" || strings.ContainsAny(state.InstanceID, `/\.`) {
		return fmt.Errorf("invalid instance id %q", state.InstanceID)
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal short-term state: %w", err)
	}
	return util.WriteFileAtomic(s.layout.ShortTermFile(state.InstanceID), b, 0o644)
}

// GetShortTerm returns the state of an instance.
func (s *FileStore) GetShortTerm(instanceID string) (core.ShortTermState, bool, error) {
	b, err := os.ReadFile(s.layout.ShortTermFile(instanceID))
	if errors.Is(err, os.ErrNotExist) {
		return core.ShortTermState{}, false, nil
	}
	if err != nil {
		return core.ShortTermState{}, false, fmt.Errorf("read short-term state: %w", err)
	}
	var st core.ShortTermState
	if err := json.Unmarshal(b, &st); err != nil {
		return core.ShortTermState{}, false, fmt.Errorf("decode short-term state: %w", err)
	}
	return st, true, nil
}

// DeleteShortTerm removes the state of an instance.
func (s *FileStore) DeleteShortTerm(instanceID string) error {
	err := os.Remove(s.layout.ShortTermFile(instanceID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete short-term state: %w", err)
	}
	return nil
}

// ListShortTerm returns every stored state ordered by start time.
func (s *FileStore) ListShortTerm() ([]core.ShortTermState, error) {
	entries, err := os.ReadDir(s.layout.ShortTermDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list short-term dir: %w", err)
	}
	var out []core.ShortTermState
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		st, ok, err := s.GetShortTerm(strings.TrimSuffix(name, ".json"))
		if err != nil || !ok {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt < out[j].StartedAt })
	return out, nil
}
