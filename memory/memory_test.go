package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/freza/core"
)

func stores(t *testing.T) map[string]core.MemoryStore {
	return map[string]core.MemoryStore{
		"memory": NewInMemoryStore(),
		"file":   NewFileStore(core.Layout{BaseDir: t.TempDir()}),
	}
}

func TestLongTerm(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			doc, err := s.ReadLongTerm("default")
			require.NoError(t, err)
			assert.Empty(t, doc)

			require.NoError(t, s.WriteLongTerm("default", "# Memory"))
			require.NoError(t, s.AppendLongTerm("default", "- learned a thing"))
			require.NoError(t, s.AppendLongTerm("default", "- another\n"))

			doc, err = s.ReadLongTerm("default")
			require.NoError(t, err)
			assert.Equal(t, "# Memory\n- learned a thing\n- another\n", doc)
		})
	}
}

func TestShortTerm(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.GetShortTerm("abc")
			require.NoError(t, err)
			assert.False(t, ok)

			st := core.ShortTermState{InstanceID: "abc", Agent: "default", CurrentTask: "thinking", Status: "running", StartedAt: 12.5}
			require.NoError(t, s.PutShortTerm(st))

			got, ok, err := s.GetShortTerm("abc")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, st, got)

			all, err := s.ListShortTerm()
			require.NoError(t, err)
			assert.Equal(t, []core.ShortTermState{st}, all)

			require.NoError(t, s.DeleteShortTerm("abc"))
			require.NoError(t, s.DeleteShortTerm("abc"))
			_, ok, _ = s.GetShortTerm("abc")
			assert.False(t, ok)
		})
	}
}

func TestFileStoreInitAndList(t *testing.T) {
	s := NewFileStore(core.Layout{BaseDir: t.TempDir()})
	require.NoError(t, s.InitLongTerm("helper", "Answers questions."))
	doc, err := s.ReadLongTerm("helper")
	require.NoError(t, err)
	assert.Contains(t, doc, "# Agent Memory - helper")
	assert.Contains(t, doc, "Answers questions.")

	require.NoError(t, s.WriteLongTerm("helper", "custom"))
	require.NoError(t, s.InitLongTerm("helper", "ignored"))
	doc, _ = s.ReadLongTerm("helper")
	assert.Equal(t, "custom", doc)

	_, err = s.ReadLongTerm("../etc")
	assert.Error(t, err)

	require.NoError(t, s.PutShortTerm(core.ShortTermState{InstanceID: "b", StartedAt: 2}))
	require.NoError(t, s.PutShortTerm(core.ShortTermState{InstanceID: "a", StartedAt: 1}))
	list, err := s.ListShortTerm()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].InstanceID)
}

func TestSearchLines(t *testing.T) {
	doc := "alpha\nBeta project\nbeta notes\ngamma"
	assert.Equal(t, []string{"Beta project", "beta notes"}, SearchLines(doc, "beta", 0))
	assert.Equal(t, []string{"Beta project"}, SearchLines(doc, "BETA", 1))
	assert.Empty(t, SearchLines(doc, "", 0))
}
