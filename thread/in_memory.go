package thread

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
	"github.com/hupe1980/freza/logging"
)

// Compile-time check that InMemoryStore implements core.ThreadStore.
var _ core.ThreadStore = (*InMemoryStore)(nil)

// InMemoryStore is a process-local ThreadStore. Nothing survives a restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*core.Thread
	reserved *reservations
	opts     StoreOptions
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore(optFns ...func(o *StoreOptions)) *InMemoryStore {
	opts := StoreOptions{Clock: time.Now, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		threads:  make(map[string]*core.Thread),
		reserved: newReservations(),
		opts:     opts,
	}
}

// AppendTurn implements core.ThreadStore.
func (s *InMemoryStore) AppendTurn(ctx context.Context, threadID, agent, channel string, turn core.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalizeTurn(&turn)

	s.mu.Lock()
	defer s.mu.Unlock()

	create := threadID == ""
	if create {
		threadID = util.NewID()
	}
	th, ok := s.threads[threadID]
	switch {
	case !ok && (create || s.reserved.has(threadID)):
		stampTurn(&turn, time.Time{}, s.opts.Clock)
		th = &core.Thread{ThreadID: threadID, Agent: agent, Channel: channel, CreatedAt: turn.CreatedAt}
		s.threads[threadID] = th
		s.reserved.release(threadID)
	case !ok:
		return "", core.NewNotFound("thread", threadID)
	default:
		if err := checkDuplicate(threadID, th.Entries, turn); err != nil {
			return "", err
		}
		stampTurn(&turn, th.LastTimestamp, s.opts.Clock)
	}
	th.Entries = append(th.Entries, turn)
	th.LastTimestamp = turn.CreatedAt
	return threadID, nil
}

// GetThread implements core.ThreadStore. The returned thread is a copy.
func (s *InMemoryStore) GetThread(_ context.Context, threadID string) (*core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[threadID]
	if !ok {
		return nil, core.NewNotFound("thread", threadID)
	}
	cp := *th
	cp.Entries = append([]core.Turn(nil), th.Entries...)
	return &cp, nil
}

// ListThreads implements core.ThreadStore.
func (s *InMemoryStore) ListThreads(_ context.Context) ([]core.ThreadSummary, error) {
	s.mu.RLock()
	out := make([]core.ThreadSummary, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, summarize(th))
	}
	s.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

// Stats implements core.ThreadStore.
func (s *InMemoryStore) Stats(_ context.Context) (core.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := core.NewStatsAccumulator()
	for _, th := range s.threads {
		for _, t := range th.Entries {
			acc.Add(th.Channel, t)
		}
	}
	return acc.Stats(), nil
}

// ReserveThreadID implements core.ThreadStore.
func (s *InMemoryStore) ReserveThreadID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.reserved.reserve(), nil
}

// ReleaseThreadID implements core.ThreadStore.
func (s *InMemoryStore) ReleaseThreadID(threadID string) { s.reserved.release(threadID) }

// Close implements core.ThreadStore.
func (s *InMemoryStore) Close() error { return nil }
