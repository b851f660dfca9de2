package biophys

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ophys.report/internal/fsutil"
)

// Parser decodes model description files by extension: .json, .yaml/.yml
// and .hcl (top-level attributes only).
type Parser struct {
	FS fsutil.FileSystem
}

// Read decodes the file at path and merges it into desc under section (see
// Description.Update).
func (p *Parser) Read(path string, desc *Description, section string) error {
	data, err := fsutil.ReadBounded(p.FS, path, fsutil.MaxConfigSize)
	if err != nil {
		return fmt.Errorf("failed to read model file: %w", err)
	}
	doc, err := Decode(path, data)
	if err != nil {
		return err
	}
	if err := desc.Update(doc, section); err != nil {
		return fmt.Errorf("model file %s: %w", path, err)
	}
	return nil
}

// Decode parses data according to the extension of name.
func Decode(name string, data []byte) (any, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		return doc, nil
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		return doc, nil
	case ".hcl":
		return decodeHCL(name, data)
	default:
		return nil, fmt.Errorf("unsupported model file type %q for %s", ext, name)
	}
}

func decodeHCL(name string, data []byte) (any, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", name, diags)
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to read attributes of %s: %w", name, diags)
	}

	doc := make(map[string]any, len(attrs))
	for attrName, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to evaluate %s in %s: %w", attrName, name, diags)
		}
		raw, err := ctyjson.Marshal(val, val.Type())
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s in %s: %w", attrName, name, err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to convert %s in %s: %w", attrName, name, err)
		}
		doc[attrName] = v
	}
	return doc, nil
}
