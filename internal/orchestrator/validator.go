package orchestrator

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// ErrValidation marks request-shape failures. No side effects have happened
// when it is returned.
var ErrValidation = errors.New("validation failed")

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator hard-rejects payloads that don't match the job type's input
// schema before any credits are touched.
type Validator struct {
	schemas map[models.JobType]*jsonschema.Schema
}

// NewValidator compiles the embedded input schema for every job type.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	v := &Validator{schemas: make(map[models.JobType]*jsonschema.Schema, len(entries))}
	for _, e := range entries {
		name := e.Name()
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		jobType := models.JobType(strings.TrimSuffix(name, ".json"))
		v.schemas[jobType] = sch
	}
	return v, nil
}

// ValidateInput checks the payload against the job type's schema.
func (v *Validator) ValidateInput(jobType models.JobType, payload json.RawMessage) error {
	sch, ok := v.schemas[jobType]
	if !ok {
		return fmt.Errorf("%w: unknown job_type %q", ErrValidation, jobType)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
