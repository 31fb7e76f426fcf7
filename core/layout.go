package core

import "path/filepath"

// Layout resolves the on-disk locations under a base directory.
//
//	<base>/agents/<name>/{agent.yaml,memory.md,invoke}
//	<base>/channels/<name>/channel.yaml
//	<base>/threads/<thread_id>.jsonl
//	<base>/state/short_term/<instance_id>.json
//	<base>/tools/
type Layout struct {
	BaseDir string
}

func (l Layout) AgentsDir() string { return filepath.Join(l.BaseDir, "agents") }
func (l Layout) AgentDir(name string) string { return filepath.Join(l.AgentsDir(), name) }
func (l Layout) MemoryFile(name string) string { return filepath.Join(l.AgentDir(name), "memory.md") }
func (l Layout) ChannelsDir() string { return filepath.Join(l.BaseDir, "channels") }
func (l Layout) ChannelDir(name string) string { return filepath.Join(l.ChannelsDir(), name) }
func (l Layout) ThreadsDir() string { return filepath.Join(l.BaseDir, "threads") }
func (l Layout) StateDir() string { return filepath.Join(l.BaseDir, "state") }
func (l Layout) ShortTermDir() string { return filepath.Join(l.StateDir(), "short_term") }
func (l Layout) ToolsDir() string { return filepath.Join(l.BaseDir, "tools") }

// ShortTermFile is the state file of one instance.
func (l Layout) ShortTermFile(instanceID string) string {
	return filepath.Join(l.ShortTermDir(), instanceID+".json")
}

// Dirs lists the directories that must exist before the system runs.
func (l Layout) Dirs() []string {
	return []string{l.AgentsDir(), l.ChannelsDir(), l.ThreadsDir(), l.ShortTermDir(), l.ToolsDir()}
}
