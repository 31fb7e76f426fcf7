package thread

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreLayoutAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	id, err := s.AppendTurn(ctx, "", "default", "web", turn("i1", "Hi", "Hi there"))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, id+".jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"thread_id":"`+id+`"`)
	assert.Contains(t, lines[1], `"response":"Hi there"`)

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	th, err := reopened.GetThread(ctx, id)
	require.NoError(t, err)
	require.Len(t, th.Entries, 1)
}

func TestFileStoreTornTrailingLine(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	id, err := s.AppendTurn(ctx, "", "default", "", turn("i1", "a", "b"))
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, id+".jsonl"), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"instance_id":"i2","respo`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	th, err := s.GetThread(ctx, id)
	require.NoError(t, err)
	assert.Len(t, th.Entries, 1)

	_, err = s.AppendTurn(ctx, id, "default", "", turn("i3", "c", "d"))
	require.NoError(t, err)

	th, err = s.GetThread(ctx, id)
	require.NoError(t, err)
	require.Len(t, th.Entries, 2)
	assert.Equal(t, "i3", th.Entries[1].InstanceID)
}

func TestFileStoreRejectsPathIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.GetThread(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

func TestSQLiteFilePath(t *testing.T) {
	p, ok := sqliteFilePath("data/freza.db?_pragma=busy_timeout(5000)")
	assert.True(t, ok)
	assert.Equal(t, "data/freza.db", p)

	_, ok = sqliteFilePath(":memory:")
	assert.False(t, ok)

	_, ok = sqliteFilePath("file::memory:?cache=shared")
	assert.False(t, ok)
}
