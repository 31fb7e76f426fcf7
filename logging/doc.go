// Package logging provides a minimal logging interface and adapters for Freza.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the registry, runner, engine and HTTP surface use for observability.
// Arguments after the message are slog style key/value pairs.
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger with component and instance scoping
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(catalog, router, engine.WithLogger(logger.WithComponent("engine")))
package logging
