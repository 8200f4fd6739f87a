// Package typedefs bundles the JSON type definitions used to build catalogs
// for legacy runtimes and validates definition documents against a schema.
package typedefs

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed runtime-default.json
var defaultJSON []byte

//go:embed runtime-peaq.json
var peaqJSON []byte

//go:embed schema.json
var schemaJSON []byte

var (
	schema         *gojsonschema.Schema
	loadSchemaOnce sync.Once
	errLoadSchema  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	loadSchemaOnce.Do(func() {
		schema, errLoadSchema = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
		if errLoadSchema != nil {
			errLoadSchema = fmt.Errorf("failed to load type definition schema: %w", errLoadSchema)
		}
	})

	return schema, errLoadSchema
}

// Default returns the common Substrate type definitions.
func Default() []byte {
	return clone(defaultJSON)
}

// Peaq returns the peaq chain type definitions.
func Peaq() []byte {
	return clone(peaqJSON)
}

// Validate checks a type definition document against the bundled schema.
func Validate(doc []byte) error {
	s, err := loadSchema()
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate type definitions: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}

		return fmt.Errorf("type definitions validation failed: %s", strings.Join(msgs, "; "))
	}

	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)

	return out
}
