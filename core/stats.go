package core

import "math"

// Stats is a read-only projection over all stored turns.
type Stats struct {
	TotalRuns      int            `json:"total_runs"`
	TotalCostUSD   float64        `json:"total_cost_usd"`
	TotalDurationS float64        `json:"total_duration_s"`
	ChannelCounts  map[string]int `json:"channel_counts"`
}

// UnknownChannel is the bucket for turns that did not arrive via a channel.
const UnknownChannel = "unknown"

// StatsAccumulator folds turns into Stats.
type StatsAccumulator struct {
	runs       int
	cost       float64
	durationMS int64
	channels   map[string]int
}

// NewStatsAccumulator returns an empty accumulator.
func NewStatsAccumulator() *StatsAccumulator {
	return &StatsAccumulator{channels: map[string]int{}}
}

// Add folds a single turn recorded under channel.
func (a *StatsAccumulator) Add(channel string, t Turn) {
	a.AddRaw(channel, 1, t.CostUSD, t.DurationMS)
}

// AddRaw folds pre-aggregated values, used by SQL backends.
func (a *StatsAccumulator) AddRaw(channel string, runs int, costUSD float64, durationMS int64) {
	if channel == "" {
		channel = UnknownChannel
	}
	a.runs += runs
	a.cost += costUSD
	a.durationMS += durationMS
	a.channels[channel] += runs
}

// Stats returns the rounded projection: cost to 4 decimals, duration in
// seconds to 1 decimal.
func (a *StatsAccumulator) Stats() Stats {
	channels := make(map[string]int, len(a.channels))
	for k, v := range a.channels {
		channels[k] = v
	}
	return Stats{
		TotalRuns:      a.runs,
		TotalCostUSD:   round(a.cost, 4),
		TotalDurationS: round(float64(a.durationMS)/1000, 1),
		ChannelCounts:  channels,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
