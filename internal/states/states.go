// Package states maps US state and territory names to postal codes.
package states

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed states.yaml
var table []byte

// Table is a case-insensitive name to postal code lookup.
type Table struct {
	codes map[string]string
}

// Load parses the embedded table.
func Load() (*Table, error) {
	return Parse(table)
}

// Parse reads a YAML mapping of name to code.
func Parse(data []byte) (*Table, error) {
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("states: parse table: %w", err)
	}
	codes := make(map[string]string, len(raw))
	for name, code := range raw {
		codes[normalize(name)] = strings.ToUpper(code)
	}
	return &Table{codes: codes}, nil
}

// Abbreviate returns the postal code for a full name. Values that are
// already codes or are unknown come back unchanged.
func (t *Table) Abbreviate(name string) string {
	if code, ok := t.codes[normalize(name)]; ok {
		return code
	}
	return name
}

func (t *Table) Len() int {
	return len(t.codes)
}

func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
