package ipc

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError is returned by schema-checked handlers when their input doesn't match the schema.
type ValidationError struct {
	Op         string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for %s: %s", e.Op, strings.Join(e.Violations, "; "))
}

// RegisterWithSchema registers fn behind a JSON Schema check of its input.
// Input that fails validation never reaches fn; the caller gets an error response listing the violations.
func (r *Registry) RegisterWithSchema(name string, schema string, fn HandlerFunc) error {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return fmt.Errorf("compiling schema for %q: %w", name, err)
	}
	r.Register(name, validated(name, s, fn))
	return nil
}

func validated(name string, s *gojsonschema.Schema, fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, in Object, out Object) error {
		res, err := s.Validate(gojsonschema.NewGoLoader(in))
		if err != nil {
			return fmt.Errorf("validating input for %s: %w", name, err)
		}
		if !res.Valid() {
			verr := &ValidationError{Op: name}
			for _, e := range res.Errors() {
				verr.Violations = append(verr.Violations, e.String())
			}
			return verr
		}
		return fn(ctx, in, out)
	}
}
