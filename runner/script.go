package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CypressScript converts a saved run history JSON into a replayable Cypress
// test script. Actions with no page effect (extract, screenshot arguments)
// map to the closest Cypress command or are skipped.
func CypressScript(historyJSON []byte) (string, error) {
	var h runHistory
	if err := json.Unmarshal(historyJSON, &h); err != nil {
		return "", fmt.Errorf("parse run history: %w", err)
	}

	var b strings.Builder
	b.WriteString("// Cypress test generated from an agent run history\n")
	if h.Task != "" {
		b.WriteString("// Task: " + h.Task + "\n")
	}
	b.WriteString("\n")
	b.WriteString("describe('Agent Replay', () => {\n")
	b.WriteString("  it('" + escapeJS(h.Task) + "', () => {\n")

	for _, step := range h.Steps {
		for _, a := range step.Actions {
			if cmd := cypressCommand(a); cmd != "" {
				b.WriteString("    " + cmd + "\n")
			}
		}
	}

	b.WriteString("  })\n")
	b.WriteString("})\n")
	return b.String(), nil
}

func cypressCommand(a actionRecord) string {
	switch a.Name {
	case "navigate":
		if url, _ := a.Args["url"].(string); url != "" {
			return "cy.visit('" + escapeJS(url) + "')"
		}
	case "click":
		if sel, _ := a.Args["selector"].(string); sel != "" {
			return "cy.get('" + escapeJS(sel) + "').click()"
		}
	case "fill":
		sel, _ := a.Args["selector"].(string)
		value, _ := a.Args["value"].(string)
		if sel != "" {
			return "cy.get('" + escapeJS(sel) + "').type('" + escapeJS(value) + "')"
		}
	case "screenshot":
		return "cy.screenshot()"
	}
	return ""
}

func escapeJS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
