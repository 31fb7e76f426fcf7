// Package core provides the domain types and interfaces shared by every Freza
// package:
//
//   - Instances (the registry's record of an in-flight invocation)
//   - Threads and Turns (persisted multi-turn conversations)
//   - Events (the live stream of one invocation)
//   - Agent and channel definitions (read-only lookup tables)
//   - Store and launcher interfaces with the error taxonomy
//
// Implementations live in their own packages (registry, thread, memory,
// launcher) so that callers depend on these small contracts only.
package core
