// Package model defines the provider‑agnostic abstraction used by the
// in-process agent runtimes.
//
// Agents whose runtime is "anthropic" or "openai" are served by calling the
// vendor API directly instead of spawning the agent CLI. Providers implement
// the Model interface so the launcher stays decoupled from vendor SDKs.
// MockModel supports tests.
package model
