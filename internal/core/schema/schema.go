// Package schema validates client records against embedded JSON schemas, one
// per writable entity.
package schema

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// FieldError is one schema violation.
type FieldError struct {
	Field       string // JSON property, "(root)" for the record itself
	Kind        string // gojsonschema error type, e.g. "invalid_type", "pattern"
	Description string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Description
}

// Validator holds compiled schemas keyed by name.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// Default is compiled from the embedded schemas at init.
var Default = mustLoad()

func mustLoad() *Validator {
	v, err := NewValidatorFromFS(schemaFS, "schemas")
	if err != nil {
		panic(err)
	}
	return v
}

// NewValidatorFromFS compiles every .json file in dir. A schema's name is its
// file name without the extension.
func NewValidatorFromFS(fsys embed.FS, dir string) (*Validator, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read dir %s: %w", dir, err)
	}

	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := fsys.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("cannot read file %s: %w", e.Name(), err)
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", e.Name(), err)
		}
		v.schemas[strings.TrimSuffix(e.Name(), ".json")] = s
	}
	return v, nil
}

// HasSchema returns true if name is known.
func (v *Validator) HasSchema(name string) bool {
	_, ok := v.schemas[name]
	return ok
}

// Validate checks doc against the named schema. It returns the violations, or
// an error if the schema is unknown or doc cannot be loaded.
func (v *Validator) Validate(name string, doc any) ([]FieldError, error) {
	s, ok := v.schemas[name]
	if !ok {
		return nil, fmt.Errorf("there is no schema %s", name)
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("cannot validate with schema %s: %w", name, err)
	}
	if result.Valid() {
		return nil, nil
	}

	out := make([]FieldError, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		out = append(out, FieldError{
			Field:       e.Field(),
			Kind:        e.Type(),
			Description: e.Description(),
		})
	}
	return out, nil
}
