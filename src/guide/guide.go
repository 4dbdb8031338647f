// Package guide maps fault identifiers to remediation hints.
//
// The hint file is YAML keyed by identifier in any spelling:
//
//	"0x0165": check the brake sensor harness
//	"166": |
//	  replace the steering angle sensor
package guide

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"faultscope/src/faultid"
	"faultscope/src/sanitize"
)

// Guide is an immutable lookup table.
type Guide struct {
	hints map[string]string
}

// Empty returns a guide with no hints.
func Empty() *Guide {
	return &Guide{hints: map[string]string{}}
}

// Load reads a YAML hint file. An empty path yields an empty guide.
func Load(path string) (*Guide, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guide %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML hint data. Keys that are not fault identifiers are
// rejected so typos surface at startup.
func Parse(data []byte) (*Guide, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse guide: %w", err)
	}
	g := Empty()
	for key, hint := range raw {
		id, err := faultid.Normalize(key)
		if err != nil {
			return nil, fmt.Errorf("guide key %q: %w", key, err)
		}
		hint = strings.TrimSpace(sanitize.Text(hint))
		if hint == "" {
			continue
		}
		if prev, dup := g.hints[id]; dup && prev != hint {
			return nil, fmt.Errorf("guide has conflicting hints for %s", id)
		}
		g.hints[id] = hint
	}
	return g, nil
}

// Lookup returns the hint for id, accepting any spelling.
func (g *Guide) Lookup(id string) (string, bool) {
	if g == nil {
		return "", false
	}
	norm, err := faultid.Normalize(id)
	if err != nil {
		return "", false
	}
	hint, ok := g.hints[norm]
	return hint, ok
}

// Len returns the number of hints.
func (g *Guide) Len() int {
	if g == nil {
		return 0
	}
	return len(g.hints)
}
