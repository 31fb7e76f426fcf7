package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModelStreaming(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("Hi", "Hi there friend")

	out, errs := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Text: "Hi"}},
		Stream:   true,
	})

	var partial strings.Builder
	var final Response
	for r := range out {
		if r.Partial {
			partial.WriteString(r.Text)
			continue
		}
		final = r
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "Hi there friend", partial.String())
	assert.Equal(t, "Hi there friend", final.Text)
	assert.Equal(t, "stop", final.FinishReason)
	require.NotNil(t, final.Usage)
}

func TestMockModelNoMessages(t *testing.T) {
	m := NewMockModel("mock", "test")
	out, errs := m.Generate(context.Background(), Request{})
	for range out {
	}
	assert.Error(t, <-errs)
	assert.Equal(t, Info{Name: "mock", Provider: "test"}, m.Info())
}
