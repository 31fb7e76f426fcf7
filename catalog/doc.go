// Package catalog loads agent and channel definitions from the workspace.
//
// Every agent lives in agents/<name>/ with an agent.yaml, agent.yml,
// agent.json or agent.toml file; channels follow the same scheme under
// channels/<name>/channel.*. A directory without a definition file is
// ignored. Watch keeps the in-memory view in sync with the disk.
package catalog
