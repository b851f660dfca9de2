package biophys

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ManifestSection is the description section holding path entries.
const ManifestSection = "manifest"

// Description accumulates the sections of one or more model files. Each
// section is a list of entries.
type Description struct {
	data map[string][]any
}

// NewDescription returns an empty Description.
func NewDescription() *Description {
	return &Description{data: map[string][]any{}}
}

// Update merges data into the description. Without a section every
// top-level key is a section and its entries are appended (a non-list value
// counts as one entry). With a section the whole document is appended to
// that section as a single entry.
func (d *Description) Update(data any, section string) error {
	if section != "" {
		d.data[section] = append(d.data[section], data)
		return nil
	}

	doc, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("model file without a section must be an object, got %T", data)
	}
	for name, entries := range doc {
		switch v := entries.(type) {
		case []any:
			d.data[name] = append(d.data[name], v...)
		default:
			d.data[name] = append(d.data[name], v)
		}
	}
	return nil
}

// Section returns the entries of name.
func (d *Description) Section(name string) []any {
	return d.data[name]
}

// Sections returns the section names in sorted order.
func (d *Description) Sections() []string {
	names := make([]string, 0, len(d.data))
	for name := range d.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEmpty reports whether nothing has been merged yet.
func (d *Description) IsEmpty() bool { return len(d.data) == 0 }

// Unmarshal decodes the entries of section into out, which should be a
// pointer to a slice.
func (d *Description) Unmarshal(section string, out any) error {
	raw, err := json.Marshal(d.data[section])
	if err != nil {
		return fmt.Errorf("failed to encode section %s: %w", section, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode section %s: %w", section, err)
	}
	return nil
}

// MarshalJSON renders every section.
func (d *Description) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.data)
}

// Manifest builds the path manifest from the manifest section.
func (d *Description) Manifest() (*Manifest, error) {
	var entries []ManifestEntry
	if err := d.Unmarshal(ManifestSection, &entries); err != nil {
		return nil, err
	}
	return NewManifest(entries)
}
