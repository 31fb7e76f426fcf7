package core

import (
	"strings"
	"unicode/utf8"
)

// ToolLabel is the pair of human labels shown for a tool while it runs and
// after it finished.
type ToolLabel struct {
	InProgress string `json:"in_progress" mapstructure:"in_progress" yaml:"in_progress"`
	Done       string `json:"done" mapstructure:"done" yaml:"done"`
}

// ToolLabels maps tool identifiers to labels. Unknown tools fall back to the
// tool name itself.
type ToolLabels map[string]ToolLabel

// DefaultToolLabels covers the tools of the default agent runtime.
func DefaultToolLabels() ToolLabels {
	return ToolLabels{
		"Bash":         {InProgress: "Running command", Done: "Ran command"},
		"Read":         {InProgress: "Reading file", Done: "Read file"},
		"Write":        {InProgress: "Writing file", Done: "Wrote file"},
		"Edit":         {InProgress: "Editing file", Done: "Edited file"},
		"MultiEdit":    {InProgress: "Editing file", Done: "Edited file"},
		"Glob":         {InProgress: "Finding files", Done: "Found files"},
		"Grep":         {InProgress: "Searching", Done: "Searched"},
		"WebFetch":     {InProgress: "Fetching page", Done: "Fetched page"},
		"WebSearch":    {InProgress: "Searching the web", Done: "Searched the web"},
		"Task":         {InProgress: "Delegating task", Done: "Delegated task"},
		"TodoWrite":    {InProgress: "Updating plan", Done: "Updated plan"},
		"NotebookEdit": {InProgress: "Editing notebook", Done: "Edited notebook"},
	}
}

// Merge returns a copy of l with overrides applied. Empty override fields
// keep the existing label.
func (l ToolLabels) Merge(overrides ToolLabels) ToolLabels {
	out := make(ToolLabels, len(l)+len(overrides))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range overrides {
		for existing := range l {
			if strings.EqualFold(existing, k) {
				k = existing
				break
			}
		}
		cur := out[k]
		if v.InProgress != "" {
			cur.InProgress = v.InProgress
		}
		if v.Done != "" {
			cur.Done = v.Done
		}
		out[k] = cur
	}
	return out
}

const maxTaskArgLen = 60

// InProgress renders the current_task text for a running tool.
func (l ToolLabels) InProgress(tool, arg string) string {
	label := tool
	if tl, ok := l.lookup(tool); ok && tl.InProgress != "" {
		label = tl.InProgress
	}
	arg = strings.TrimSpace(strings.ReplaceAll(arg, "\n", " "))
	if arg == "" {
		return label
	}
	if utf8.RuneCountInString(arg) > maxTaskArgLen {
		arg = string([]rune(arg)[:maxTaskArgLen-3]) + "..."
	}
	return label + ": " + arg
}

// Done renders the current_task text after a tool finished.
func (l ToolLabels) Done(tool string) string {
	if tl, ok := l.lookup(tool); ok && tl.Done != "" {
		return tl.Done
	}
	return tool
}

// lookup matches exactly first, then case-insensitively; config loaders
// lower-case map keys.
func (l ToolLabels) lookup(tool string) (ToolLabel, bool) {
	if tl, ok := l[tool]; ok {
		return tl, true
	}
	for k, tl := range l {
		if strings.EqualFold(k, tool) {
			return tl, true
		}
	}
	return ToolLabel{}, false
}
