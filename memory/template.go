package memory

import (
	"strings"

	"github.com/hupe1980/freza/internal/util"
)

const longTermTemplate = `# Agent Memory - {{.Name}}

## Identity
I am "{{.Name}}", an autonomous agent. I persist across invocations and maintain this memory.
{{- if .Description}}
{{.Description}}
{{- end}}

## Core Knowledge


## Active Projects


## Notes

`

// InitialLongTerm renders the memory document a new agent starts with.
func InitialLongTerm(name, description string) (string, error) {
	return util.RenderTemplate("memory", longTermTemplate, struct {
		Name        string
		Description string
	}{name, strings.TrimSpace(description)})
}

// SearchLines returns up to limit lines of content containing query,
// compared case-insensitively. A non-positive limit means no limit.
func SearchLines(content, query string, limit int) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	out := []string{}
	if query == "" {
		return out
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(strings.ToLower(line), query) {
			out = append(out, line)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}
