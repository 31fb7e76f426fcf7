package thread

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
	"github.com/hupe1980/freza/logging"
)

const fileExt = ".jsonl"

// Compile-time check that FileStore implements core.ThreadStore.
var _ core.ThreadStore = (*FileStore)(nil)

// StoreOptions configures the file and in-memory stores.
type StoreOptions struct {
	Clock  func() time.Time
	Logger logging.Logger
}

// FileStore keeps one JSONL file per thread under a directory. The first
// line of each file is a header, every further line is one turn.
type FileStore struct {
	dir      string
	locks    *keyedMutex
	reserved *reservations
	opts     StoreOptions
}

type fileHeader struct {
	ThreadID  string    `json:"thread_id"`
	Agent     string    `json:"agent"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(dir string, optFns ...func(o *StoreOptions)) (*FileStore, error) {
	opts := StoreOptions{Clock: time.Now, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread dir: %w", err)
	}
	return &FileStore{
		dir:      dir,
		locks:    newKeyedMutex(),
		reserved: newReservations(),
		opts:     opts,
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

// AppendTurn implements core.ThreadStore.
func (s *FileStore) AppendTurn(ctx context.Context, threadID, agent, channel string, turn core.Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	create := false
	if threadID == "" {
		threadID = util.NewID()
		create = true
	} else if err := validThreadID(threadID); err != nil {
		return "", err
	}
	normalizeTurn(&turn)

	unlock := s.locks.Lock(threadID)
	defer unlock()

	th, clean, err := s.read(threadID)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !create && !s.reserved.has(threadID) {
			return "", core.NewNotFound("thread", threadID)
		}
		stampTurn(&turn, time.Time{}, s.opts.Clock)
		if err := s.create(threadID, agent, channel, turn); err != nil {
			return "", err
		}
		s.reserved.release(threadID)
		return threadID, nil
	case err != nil:
		return "", err
	}

	if err := checkDuplicate(threadID, th.Entries, turn); err != nil {
		return "", err
	}
	stampTurn(&turn, th.LastTimestamp, s.opts.Clock)
	line, err := json.Marshal(turn)
	if err != nil {
		return "", fmt.Errorf("marshal turn: %w", err)
	}
	if !clean {
		// terminate a torn trailing line so the new record starts fresh
		line = append([]byte{'\n'}, line...)
	}
	if err := appendLine(s.path(threadID), line); err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *FileStore) create(id, agent, channel string, turn core.Turn) error {
	header, err := json.Marshal(fileHeader{ThreadID: id, Agent: agent, Channel: channel, CreatedAt: turn.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	body, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')
	if err := util.WriteFileAtomic(s.path(id), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("create thread %s: %w", id, err)
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open thread file: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append turn: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync thread file: %w", err)
	}
	return f.Close()
}

// read loads a thread file. clean reports whether the file ends with a
// complete line. Undecodable turn lines are skipped.
func (s *FileStore) read(id string) (*core.Thread, bool, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	clean := true
	first := true
	th := &core.Thread{ThreadID: id, Entries: []core.Turn{}}

	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			complete := line[len(line)-1] == '\n'
			clean = complete
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				if first {
					var h fileHeader
					if jerr := json.Unmarshal(line, &h); jerr != nil {
						return nil, false, fmt.Errorf("thread %s: corrupt header: %w", id, jerr)
					}
					th.Agent, th.Channel, th.CreatedAt = h.Agent, h.Channel, h.CreatedAt
					first = false
				} else {
					var t core.Turn
					if jerr := json.Unmarshal(line, &t); jerr != nil {
						if complete {
							s.opts.Logger.Warn("skipping corrupt turn line", "thread_id", id, "error", jerr)
						}
					} else {
						th.Entries = append(th.Entries, t)
					}
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("read thread %s: %w", id, err)
		}
	}
	if first {
		return nil, false, fmt.Errorf("thread %s: empty file", id)
	}

	th.LastTimestamp = th.CreatedAt
	if n := len(th.Entries); n > 0 {
		th.LastTimestamp = th.Entries[n-1].CreatedAt
	}
	return th, clean, nil
}

// GetThread implements core.ThreadStore.
func (s *FileStore) GetThread(ctx context.Context, threadID string) (*core.Thread, error) {
	if err := validThreadID(threadID); err != nil {
		return nil, err
	}
	th, _, err := s.read(threadID)
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.NewNotFound("thread", threadID)
	}
	return th, err
}

func (s *FileStore) all(ctx context.Context) ([]*core.Thread, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list thread dir: %w", err)
	}
	var out []*core.Thread
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		th, _, err := s.read(strings.TrimSuffix(name, fileExt))
		if err != nil {
			s.opts.Logger.Warn("skipping unreadable thread", "file", name, "error", err)
			continue
		}
		out = append(out, th)
	}
	return out, nil
}

// ListThreads implements core.ThreadStore.
func (s *FileStore) ListThreads(ctx context.Context) ([]core.ThreadSummary, error) {
	threads, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.ThreadSummary, 0, len(threads))
	for _, th := range threads {
		out = append(out, summarize(th))
	}
	sortSummaries(out)
	return out, nil
}

// Stats implements core.ThreadStore.
func (s *FileStore) Stats(ctx context.Context) (core.Stats, error) {
	threads, err := s.all(ctx)
	if err != nil {
		return core.Stats{}, err
	}
	acc := core.NewStatsAccumulator()
	for _, th := range threads {
		for _, t := range th.Entries {
			acc.Add(th.Channel, t)
		}
	}
	return acc.Stats(), nil
}

// ReserveThreadID implements core.ThreadStore.
func (s *FileStore) ReserveThreadID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.reserved.reserve(), nil
}

// ReleaseThreadID implements core.ThreadStore.
func (s *FileStore) ReleaseThreadID(threadID string) { s.reserved.release(threadID) }

// Close implements core.ThreadStore.
func (s *FileStore) Close() error { return nil }

func sortSummaries(out []core.ThreadSummary) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastTimestamp.Equal(out[j].LastTimestamp) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].LastTimestamp.After(out[j].LastTimestamp)
	})
}
