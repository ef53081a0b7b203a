package app

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
)

// print writes v in the --output format. YAML is rendered from the JSON form
// so both formats carry the same fields.
func (a *App) print(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	switch a.flags.Output {
	case "json":
		_, err = fmt.Fprintln(a.out, string(raw))
		return err
	case "yaml", "":
		out, err := yaml.JSONToYAML(raw)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		_, err = a.out.Write(out)
		return err
	default:
		return fmt.Errorf("unknown output format %q", a.flags.Output)
	}
}
