package testutil

import (
	"time"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/internal/util"
)

// TurnBuilder helps construct turns with fluent chaining for store tests.
// Example:
//
//	turn := NewTurnBuilder("hello").Response("Hi there").Cost(0.002).Build()
type TurnBuilder struct {
	turn core.Turn
}

// NewTurnBuilder creates a completed turn for trigger with a fresh instance id.
func NewTurnBuilder(trigger string) *TurnBuilder {
	return &TurnBuilder{turn: core.Turn{
		InstanceID:     util.NewID(),
		Mode:           core.ModeDirect,
		Status:         core.StatusCompleted,
		TriggerMessage: trigger,
		TurnsUsed:      1,
		ToolsUsed:      []string{},
	}}
}

// Instance overrides the instance id (chainable).
func (b *TurnBuilder) Instance(id string) *TurnBuilder { b.turn.InstanceID = id; return b }

// Response sets the response text (chainable).
func (b *TurnBuilder) Response(r string) *TurnBuilder { b.turn.Response = r; return b }

// Cost sets the cost in USD (chainable).
func (b *TurnBuilder) Cost(c float64) *TurnBuilder { b.turn.CostUSD = c; return b }

// Duration sets the duration (chainable).
func (b *TurnBuilder) Duration(ms int64) *TurnBuilder { b.turn.DurationMS = ms; return b }

// Tools sets the distinct tools used (chainable).
func (b *TurnBuilder) Tools(names ...string) *TurnBuilder { b.turn.ToolsUsed = names; return b }

// At sets the creation time (chainable).
func (b *TurnBuilder) At(t time.Time) *TurnBuilder { b.turn.CreatedAt = t; return b }

// Build returns the turn.
func (b *TurnBuilder) Build() core.Turn { return b.turn }
