package gate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/airlock-labs/airlock/pkg/catalog"
)

// renderPreview builds the confirmation prompt for a sensitive action: what
// will run, with which arguments, and how to answer. Arguments appear in
// catalog declaration order so previews are stable across proposals.
func renderPreview(def catalog.ActionDefinition, args map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "About to %s", def.Name)
	if def.Summary != "" {
		fmt.Fprintf(&b, ": %s", def.Summary)
	}
	b.WriteString("\n")
	for _, spec := range def.Args {
		v, ok := args[spec.Name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %s: %s\n", spec.Name, formatArgValue(v))
	}
	b.WriteString(`Reply "confirm" to proceed or "cancel" to abort.`)
	return b.String()
}

func formatArgValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
