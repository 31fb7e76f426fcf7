package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza/core"
)

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func withTickClock() func(o *StoreOptions) {
	c := &tickClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	return func(o *StoreOptions) { o.Clock = c.Now }
}

func backends(t *testing.T) map[string]func(t *testing.T) core.ThreadStore {
	return map[string]func(t *testing.T) core.ThreadStore{
		"file": func(t *testing.T) core.ThreadStore {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "threads"), withTickClock())
			require.NoError(t, err)
			return s
		},
		"memory": func(t *testing.T) core.ThreadStore {
			return NewInMemoryStore(withTickClock())
		},
		"sqlite": func(t *testing.T) core.ThreadStore {
			s, err := NewGormStore("sqlite", filepath.Join(t.TempDir(), "db", "freza.db"), withTickClock())
			require.NoError(t, err)
			return s
		},
	}
}

func turn(instance, trigger, response string) core.Turn {
	return core.Turn{
		InstanceID:        instance,
		Status:            core.StatusCompleted,
		TriggerMessage:    trigger,
		Response:          response,
		ConversationTrace: []json.RawMessage{json.RawMessage(`{"type":"assistant"}`)},
		CostUSD:           0.01,
		DurationMS:        1500,
		TurnsUsed:         1,
		ToolsUsed:         []string{"Bash"},
	}
}

func TestThreadStores(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("create and append", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				id, err := s.AppendTurn(ctx, "", "default", "web", turn("i1", "Hi", "Hi there"))
				require.NoError(t, err)
				require.NotEmpty(t, id)

				got, err := s.AppendTurn(ctx, id, "default", "web", turn("i2", "again", "ok"))
				require.NoError(t, err)
				assert.Equal(t, id, got)

				th, err := s.GetThread(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, "default", th.Agent)
				assert.Equal(t, "web", th.Channel)
				require.Len(t, th.Entries, 2)
				assert.Equal(t, "Hi there", th.Entries[0].Response)
				assert.Equal(t, "again", th.Entries[1].TriggerMessage)
				assert.Equal(t, []string{"Bash"}, th.Entries[0].ToolsUsed)
				require.Len(t, th.Entries[0].ConversationTrace, 1)
				assert.JSONEq(t, `{"type":"assistant"}`, string(th.Entries[0].ConversationTrace[0]))
			})

			t.Run("unknown thread", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				_, err := s.AppendTurn(ctx, "deadbeefdeadbeef", "default", "", turn("i1", "x", "y"))
				assert.True(t, core.IsNotFound(err))

				_, err = s.GetThread(ctx, "deadbeefdeadbeef")
				assert.True(t, core.IsNotFound(err))
			})

			t.Run("reserved ids", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				id, err := s.ReserveThreadID(ctx)
				require.NoError(t, err)

				_, err = s.GetThread(ctx, id)
				assert.True(t, core.IsNotFound(err))

				got, err := s.AppendTurn(ctx, id, "default", "", turn("i1", "x", "y"))
				require.NoError(t, err)
				assert.Equal(t, id, got)

				released, err := s.ReserveThreadID(ctx)
				require.NoError(t, err)
				s.ReleaseThreadID(released)
				_, err = s.AppendTurn(ctx, released, "default", "", turn("i2", "x", "y"))
				assert.True(t, core.IsNotFound(err))
			})

			t.Run("duplicate instance", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				id, err := s.AppendTurn(ctx, "", "default", "", turn("i1", "x", "y"))
				require.NoError(t, err)
				_, err = s.AppendTurn(ctx, id, "default", "", turn("i1", "x", "y"))
				assert.True(t, core.IsConcurrency(err))
			})

			t.Run("list ordering and titles", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				older, err := s.AppendTurn(ctx, "", "a", "web", turn("i1", "", "y"))
				require.NoError(t, err)
				newer, err := s.AppendTurn(ctx, "", "b", "", turn("i2", "Summarize the quarterly numbers for the board meeting please", "y"))
				require.NoError(t, err)
				_, err = s.AppendTurn(ctx, older, "a", "web", turn("i3", "bump", "y"))
				require.NoError(t, err)

				list, err := s.ListThreads(ctx)
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, older, list[0].ThreadID)
				assert.Equal(t, 2, list[0].MessageCount)
				assert.Equal(t, "(no message)", list[0].Title)
				assert.Equal(t, newer, list[1].ThreadID)
				assert.Equal(t, "Summarize the quarterly numbers for the", list[1].Title)
				assert.Equal(t, "b", list[1].Agent)
			})

			t.Run("stats", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				empty, err := s.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, 0, empty.TotalRuns)

				t1 := turn("i1", "a", "b")
				t1.CostUSD, t1.DurationMS = 0.00123, 1049
				t2 := turn("i2", "a", "b")
				t2.CostUSD, t2.DurationMS = 0.00001, 1
				t3 := turn("i3", "a", "b")
				t3.CostUSD, t3.DurationMS = 0.1, 2010

				id, err := s.AppendTurn(ctx, "", "default", "web", t1)
				require.NoError(t, err)
				_, err = s.AppendTurn(ctx, id, "default", "web", t2)
				require.NoError(t, err)
				_, err = s.AppendTurn(ctx, "", "default", "", t3)
				require.NoError(t, err)

				st, err := s.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, 3, st.TotalRuns)
				assert.InDelta(t, 0.1012, st.TotalCostUSD, 1e-9)
				assert.InDelta(t, 3.1, st.TotalDurationS, 1e-9)
				assert.Equal(t, map[string]int{"web": 2, core.UnknownChannel: 1}, st.ChannelCounts)
			})

			t.Run("concurrent appends", func(t *testing.T) {
				s := open(t)
				defer s.Close()

				id, err := s.AppendTurn(ctx, "", "default", "", turn("seed", "x", "y"))
				require.NoError(t, err)

				var wg sync.WaitGroup
				for i := 0; i < 16; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := s.AppendTurn(ctx, id, "default", "", turn(fmt.Sprintf("i%d", i), "x", "y"))
						assert.NoError(t, err)
					}(i)
				}
				wg.Wait()

				th, err := s.GetThread(ctx, id)
				require.NoError(t, err)
				assert.Len(t, th.Entries, 17)
			})
		})
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "(no message)", Title("   "))
	assert.Equal(t, "hello world", Title("hello\n  world"))
	assert.Equal(t, 40, utf8.RuneCountInString(Title(strings.Repeat("ä", 50))))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}

func TestThreadStoresStampCreationOrder(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			id, err := s.AppendTurn(ctx, "", "default", "web", turn("i1", "first", "a"))
			require.NoError(t, err)

			// a turn carrying a time earlier than the thread's last entry
			stale := turn("i2", "second", "b")
			stale.CreatedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
			_, err = s.AppendTurn(ctx, id, "default", "web", stale)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 3; i <= 6; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.AppendTurn(ctx, id, "default", "web", turn(fmt.Sprintf("i%d", i), "more", "c"))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			th, err := s.GetThread(ctx, id)
			require.NoError(t, err)
			require.Len(t, th.Entries, 6)
			for i := 1; i < len(th.Entries); i++ {
				assert.False(t, th.Entries[i].CreatedAt.Before(th.Entries[i-1].CreatedAt),
					"entry %d stamped before entry %d", i, i-1)
			}
			assert.True(t, th.Entries[0].CreatedAt.Equal(th.Entries[1].CreatedAt))
			assert.True(t, th.LastTimestamp.Equal(th.Entries[5].CreatedAt))
		})
	}
}
