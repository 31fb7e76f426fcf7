package thread

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
)

const (
	titleRunes   = 40
	untitledText = "(no message)"
)

// keyedMutex hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// reservations tracks thread ids issued before their first turn is stored.
type reservations struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newReservations() *reservations {
	return &reservations{ids: make(map[string]struct{})}
}

func (r *reservations) reserve() string {
	id := util.NewID()
	r.mu.Lock()
	r.ids[id] = struct{}{}
	r.mu.Unlock()
	return id
}

func (r *reservations) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

func (r *reservations) release(id string) {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
}

// Title derives a thread title from its first trigger message.
func Title(firstTrigger string) string {
	s := strings.Join(strings.Fields(firstTrigger), " ")
	if s == "" {
		return untitledText
	}
	return strings.TrimSpace(util.Truncate(s, titleRunes))
}

// summarize builds the list view of th.
func summarize(th *core.Thread) core.ThreadSummary {
	first := ""
	if len(th.Entries) > 0 {
		first = th.Entries[0].TriggerMessage
	}
	return core.ThreadSummary{
		ThreadID:      th.ThreadID,
		Title:         Title(first),
		Agent:         th.Agent,
		Channel:       th.Channel,
		MessageCount:  len(th.Entries),
		CreatedAt:     th.CreatedAt,
		LastTimestamp: th.LastTimestamp,
	}
}

// checkDuplicate fails when turn's invocation already has a turn in entries.
func checkDuplicate(threadID string, entries []core.Turn, turn core.Turn) error {
	if turn.InstanceID == "" {
		return nil
	}
	for _, e := range entries {
		if e.InstanceID == turn.InstanceID {
			return &core.ConcurrencyError{
				ThreadID: threadID,
				Detail:   fmt.Sprintf("instance %s already recorded a turn", turn.InstanceID),
			}
		}
	}
	return nil
}

func normalizeTurn(turn *core.Turn) {
	if turn.ConversationTrace == nil {
		turn.ConversationTrace = []json.RawMessage{}
	}
	if turn.ToolsUsed == nil {
		turn.ToolsUsed = []string{}
	}
}

// stampTurn sets CreatedAt while the thread lock is held so entries stay
// ordered by creation time. A preset time earlier than last is raised to last.
func stampTurn(turn *core.Turn, last time.Time, now func() time.Time) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now()
	}
	turn.CreatedAt = turn.CreatedAt.UTC()
	if turn.CreatedAt.Before(last) {
		turn.CreatedAt = last.UTC()
	}
}

func validThreadID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\.`) || strings.ContainsRune(id, 0) {
		return core.NewNotFound("thread", id)
	}
	return nil
}
