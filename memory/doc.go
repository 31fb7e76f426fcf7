// Package memory contains concrete core.MemoryStore implementations.
//
// Long-term memory is a markdown document per agent that the agent itself
// edits between invocations. Short-term state is a small JSON record per
// running instance describing what it is doing, read by sibling instances
// when their prompts are built.
//
// FileStore keeps both on disk below the base directory; InMemoryStore is
// process local and meant for tests.
package memory
