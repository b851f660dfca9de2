package biophys

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestEntry names a directory or file. Paths nest through ParentKey.
type ManifestEntry struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	Spec      string `json:"spec"`
	ParentKey string `json:"parent_key,omitempty"`
	Format    string `json:"format,omitempty"`
}

// Manifest resolves manifest keys to paths.
type Manifest struct {
	entries map[string]ManifestEntry
}

// NewManifest indexes entries by key. Keys must be unique, types must be dir
// or file, and parents must exist without forming a cycle.
func NewManifest(entries []ManifestEntry) (*Manifest, error) {
	m := &Manifest{entries: make(map[string]ManifestEntry, len(entries))}
	for _, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("manifest entry without key (spec %q)", e.Spec)
		}
		if e.Type != "dir" && e.Type != "file" {
			return nil, fmt.Errorf("manifest entry %s: type must be dir or file, got %q", e.Key, e.Type)
		}
		if _, dup := m.entries[e.Key]; dup {
			return nil, fmt.Errorf("duplicate manifest key %s", e.Key)
		}
		m.entries[e.Key] = e
	}
	for key := range m.entries {
		if _, err := m.Path(key); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Path resolves key by joining the specs of its parent chain. A file entry
// with a format has its verbs expanded with args.
func (m *Manifest) Path(key string, args ...any) (string, error) {
	var parts []string
	seen := map[string]bool{}
	e, ok := m.entries[key]
	if !ok {
		return "", fmt.Errorf("manifest key %s not found", key)
	}
	leaf := e
	for {
		if seen[e.Key] {
			return "", fmt.Errorf("manifest key %s has a parent cycle", key)
		}
		seen[e.Key] = true
		parts = append(parts, e.Spec)
		if e.ParentKey == "" {
			break
		}
		parent, ok := m.entries[e.ParentKey]
		if !ok {
			return "", fmt.Errorf("manifest key %s: parent %s not found", e.Key, e.ParentKey)
		}
		if parent.Type != "dir" {
			return "", fmt.Errorf("manifest key %s: parent %s is not a dir", e.Key, e.ParentKey)
		}
		e = parent
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	p := filepath.Join(parts...)
	if leaf.Format != "" && len(args) > 0 {
		p = filepath.Join(filepath.Dir(p), fmt.Sprintf(leaf.Format, args...))
	}
	return p, nil
}

// Keys lists the manifest keys of the given type ("" for all) in sorted
// order.
func (m *Manifest) Keys(typ string) []string {
	var keys []string
	for k, e := range m.entries {
		if typ == "" || strings.EqualFold(e.Type, typ) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Paths resolves every key of the given type ("" for all) without format
// arguments.
func (m *Manifest) Paths(typ string) (map[string]string, error) {
	out := make(map[string]string)
	for _, k := range m.Keys(typ) {
		p, err := m.Path(k)
		if err != nil {
			return nil, err
		}
		out[k] = p
	}
	return out, nil
}
