package biophys

import (
	"fmt"
	"regexp"
	"strings"
)

const fileScheme = "file:"

var fileRefRegex = regexp.MustCompile(`^file:([^?]*)(\?(.*))?$`)

// ModelRef is one parsed model file reference.
type ModelRef struct {
	Path    string
	Section string
	Params  map[string]string
}

// RefError reports a malformed model file reference.
type RefError struct {
	Ref    string
	Reason string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("malformed model file reference %q: %s", e.Ref, e.Reason)
}

// ParseModelRefs splits a comma-separated list of references of the form
// file:<path>[?key=value(&key=value)*]. The file: scheme is implied when
// absent. The section parameter names the description section the file
// contributes to.
func ParseModelRefs(s string) ([]ModelRef, error) {
	var refs []ModelRef
	for _, raw := range strings.Split(s, ",") {
		ref, err := ParseModelRef(raw)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ParseModelRef parses a single reference.
func ParseModelRef(raw string) (ModelRef, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return ModelRef{}, &RefError{Ref: raw, Reason: "empty reference"}
	}
	if !strings.HasPrefix(ref, fileScheme) {
		ref = fileScheme + ref
	}

	m := fileRefRegex.FindStringSubmatch(ref)
	if m == nil {
		return ModelRef{}, &RefError{Ref: raw, Reason: "does not match file:<path>[?params]"}
	}
	out := ModelRef{Path: m[1], Params: map[string]string{}}
	if out.Path == "" {
		return ModelRef{}, &RefError{Ref: raw, Reason: "empty path"}
	}

	if m[3] != "" {
		for _, kv := range strings.Split(m[3], "&") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return ModelRef{}, &RefError{Ref: raw, Reason: fmt.Sprintf("parameter %q is not key=value", kv)}
			}
			out.Params[k] = v
		}
	}
	out.Section = out.Params["section"]
	return out, nil
}

// String renders the reference back into file: syntax.
func (r ModelRef) String() string {
	var b strings.Builder
	b.WriteString(fileScheme)
	b.WriteString(r.Path)
	if r.Section != "" {
		b.WriteString("?section=")
		b.WriteString(r.Section)
	}
	return b.String()
}
