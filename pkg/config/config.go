// Package config loads and validates the deployment configuration document.
// The document is a two-level YAML file: top-level scalar keys plus named
// sections containing their own scalar keys. Deeper nesting is rejected.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrNotFound is returned by Load when the configuration file does not exist.
var ErrNotFound = errors.New("configuration file not found")

// ParseError describes a structural problem in the configuration document.
type ParseError struct {
	// Path is the configuration file path.
	Path string

	// Line is the 1-indexed line of the offending node, 0 when unknown.
	Line int

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Configuration is the immutable two-level configuration tree. Every value
// is a string; boolean-like values are the strings "true" and "false".
// It is constructed once by Load and never mutated.
type Configuration struct {
	path     string
	values   map[string]string
	sections map[string]map[string]string
}

// Path returns the file the configuration was loaded from.
func (c *Configuration) Path() string {
	return c.path
}

// Get returns a top-level value, or a section value for a dotted key
// such as "oidc.client_id". The second return reports presence.
func (c *Configuration) Get(key string) (string, bool) {
	if section, rest, ok := splitKey(key); ok {
		sec, found := c.sections[section]
		if !found {
			return "", false
		}
		v, found := sec[rest]
		return v, found
	}
	v, found := c.values[key]
	return v, found
}

// GetDefault returns the value for key, or def when absent.
func (c *Configuration) GetDefault(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// GetBool interprets a boolean-like value. Absent keys yield false.
// A present value that is not "true"/"false" (or another form accepted by
// strconv.ParseBool) is an error.
func (c *Configuration) GetBool(key string) (bool, error) {
	v, ok := c.Get(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("field %s: %q is not a boolean", key, v)
	}
	return b, nil
}

// Section returns a copy of the named section's key/value pairs.
// The second return reports whether the section exists.
func (c *Configuration) Section(name string) (map[string]string, bool) {
	sec, ok := c.sections[name]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(sec))
	for k, v := range sec {
		out[k] = v
	}
	return out, true
}

// Keys returns all top-level keys in sorted order, sections included.
func (c *Configuration) Keys() []string {
	keys := make([]string, 0, len(c.values)+len(c.sections))
	for k := range c.values {
		keys = append(keys, k)
	}
	for k := range c.sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitKey splits "section.key" into its parts. Keys without a dot are
// top-level.
func splitKey(key string) (section, rest string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
