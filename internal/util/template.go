package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderTemplate renders text as a text/template against data. Prompts are
// plain text, so no HTML escaping is applied.
func RenderTemplate(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"inc":   func(i int) int { return i + 1 },
		"join": func(sep string, items []string) string {
			return strings.Join(items, sep)
		},
		"seconds": func(v float64) string {
			return fmt.Sprintf("%.0fs", v)
		},
	}).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
