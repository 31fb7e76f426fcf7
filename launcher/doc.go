// Package launcher starts agent runtimes and decodes their output into
// invocation events.
//
// CLILauncher runs the agent CLI and decodes its stream-json output.
// ScriptLauncher runs an agent's own invoke executable. ModelLauncher calls
// a model API in process. Router picks one of them per agent.
package launcher
