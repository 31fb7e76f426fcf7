// Package testutil contains helpers shared by package tests: a scripted
// fake launcher that stands in for an agent runtime, and small builders for
// records and turns. They are not intended for production usage.
package testutil
