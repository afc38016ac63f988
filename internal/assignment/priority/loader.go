package priority

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads the zone priority configuration
type Loader interface {
	Load(ctx context.Context) (map[string]int, error)
}

// FileLoader reads zone priorities from a file.
//
// Two layouts are accepted: the operator export
//
//	[{"AC_Name": "Zone A", "Priority": 3}, ...]
//
// where Priority may also be a string, or a plain YAML mapping
//
//	Zone A: 3
type FileLoader struct {
	path string
}

// NewFileLoader creates a loader for path
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the priority file
func (l *FileLoader) Load(_ context.Context) (map[string]int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read priority file: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse priority file %s: %w", l.path, err)
	}
	return m, nil
}

type exportEntry struct {
	Name     string    `yaml:"AC_Name"`
	Priority yaml.Node `yaml:"Priority"`
}

// Parse decodes a priority document. Entries without a numeric priority are skipped.
func Parse(data []byte) (map[string]int, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	m := make(map[string]int)
	if len(root.Content) == 0 {
		return m, nil
	}

	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var entries []exportEntry
		if err := doc.Decode(&entries); err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Name == "" {
				continue
			}
			if p, ok := scalarInt(&e.Priority); ok {
				m[e.Name] = p
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			name := doc.Content[i].Value
			if p, ok := scalarInt(doc.Content[i+1]); ok && name != "" {
				m[name] = p
			}
		}
	default:
		return nil, fmt.Errorf("unsupported priority document kind %d", doc.Kind)
	}

	return m, nil
}

func scalarInt(n *yaml.Node) (int, bool) {
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0, false
	}
	p, err := strconv.Atoi(strings.TrimSpace(n.Value))
	if err != nil {
		return 0, false
	}
	return p, true
}
