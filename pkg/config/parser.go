package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration document at path.
// It returns ErrNotFound when the file does not exist and a *ParseError
// when the document violates the two-level structure.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return Parse(path, data)
}

// Parse parses an in-memory configuration document. The path is used only
// for error reporting.
func Parse(path string, data []byte) (*Configuration, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: path, Message: err.Error()}
	}

	cfg := &Configuration{
		path:     path,
		values:   make(map[string]string),
		sections: make(map[string]map[string]string),
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		// Empty document: structurally valid, validation reports the
		// missing fields.
		return cfg, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    path,
			Line:    root.Line,
			Message: "document root must be a mapping of keys to values",
		}
	}

	for i := 0; i < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		key := keyNode.Value

		switch valNode.Kind {
		case yaml.ScalarNode:
			if _, dup := cfg.values[key]; dup {
				return nil, &ParseError{
					Path:    path,
					Line:    keyNode.Line,
					Message: fmt.Sprintf("duplicate key %q", key),
				}
			}
			cfg.values[key] = scalarValue(valNode)

		case yaml.MappingNode:
			section, err := parseSection(path, key, valNode)
			if err != nil {
				return nil, err
			}
			if _, dup := cfg.sections[key]; dup {
				return nil, &ParseError{
					Path:    path,
					Line:    keyNode.Line,
					Message: fmt.Sprintf("duplicate section %q", key),
				}
			}
			cfg.sections[key] = section

		default:
			return nil, &ParseError{
				Path:    path,
				Line:    valNode.Line,
				Message: fmt.Sprintf("key %q: value must be a scalar or a section of scalars", key),
			}
		}
	}

	return cfg, nil
}

// parseSection parses one named section. Sections may only contain scalar
// values; nesting a further section is a structural error, a deliberate
// boundary of the document format.
func parseSection(path, name string, node *yaml.Node) (map[string]string, error) {
	section := make(map[string]string, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		if valNode.Kind != yaml.ScalarNode {
			return nil, &ParseError{
				Path:    path,
				Line:    valNode.Line,
				Message: fmt.Sprintf("section %q: key %q must be a scalar; nested sections are not supported", name, keyNode.Value),
			}
		}
		if _, dup := section[keyNode.Value]; dup {
			return nil, &ParseError{
				Path:    path,
				Line:    keyNode.Line,
				Message: fmt.Sprintf("section %q: duplicate key %q", name, keyNode.Value),
			}
		}
		section[keyNode.Value] = scalarValue(valNode)
	}
	return section, nil
}

// scalarValue normalizes a scalar node. YAML nulls become empty strings so
// that "key:" with no value reads as absent.
func scalarValue(node *yaml.Node) string {
	if node.Tag == "!!null" {
		return ""
	}
	return node.Value
}
