package resolver

import (
	"fmt"
	"regexp"
	"strings"
)

// templateVarRegex matches {{variable}} placeholders in tool parameters.
var templateVarRegex = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RenderTemplate substitutes {{variable}} placeholders with values from
// args. Unknown placeholders render as empty strings.
func RenderTemplate(template string, args map[string]interface{}) string {
	return templateVarRegex.ReplaceAllStringFunc(template, func(m string) string {
		name := templateVarRegex.FindStringSubmatch(m)[1]
		v, ok := args[name]
		if !ok || v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	})
}

// TemplateVars extracts {{variable}} placeholder names in order of first
// appearance.
func TemplateVars(template string) []string {
	matches := templateVarRegex.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, match := range matches {
		if len(match) > 1 && !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}
	return vars
}

func hasTemplate(s string) bool { return strings.Contains(s, "{{") }
