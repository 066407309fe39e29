// Package validator checks exported documents against embedded CUE
// schemas before they leave the process.
//
// A failed check means the Go side and the schema disagree about the
// contract. Fix whichever is wrong; never relax the schema to make a run
// pass.
package validator

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed facts.cue model.cue report.cue
var schemaFS embed.FS

var schemaFiles = []string{"facts.cue", "model.cue", "report.cue"}

// Schema definitions.
const (
	DefFactTables  = "#FactTables"
	DefDelta       = "#Delta"
	DefModelExport = "#ModelExport"
	DefReport      = "#Report"
)

// Validator validates documents against the embedded schemas.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// New creates a new Validator with the embedded CUE schemas
func New() (*Validator, error) {
	ctx := cuecontext.New()

	var src strings.Builder
	for _, name := range schemaFiles {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("loading embedded schema %s: %w", name, err)
		}
		src.Write(data)
		src.WriteByte('\n')
	}

	schema := ctx.CompileString(src.String())
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", schema.Err())
	}

	return &Validator{
		ctx:    ctx,
		schema: schema,
	}, nil
}

// Validate checks that data conforms to the named definition.
// Returns nil if valid, or a detailed error explaining what failed.
func (v *Validator) Validate(def string, data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}
	return v.ValidateJSON(def, jsonBytes)
}

// ValidateJSON validates JSON bytes directly against the named definition
func (v *Validator) ValidateJSON(def string, jsonBytes []byte) error {
	unified, err := v.unify(def, jsonBytes)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s validation failed: %w", def, err)
	}
	return nil
}

// ValidationErrors returns one message per schema violation.
func (v *Validator) ValidationErrors(def string, data interface{}) []string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}
	unified, err := v.unify(def, jsonBytes)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

func (v *Validator) unify(def string, jsonBytes []byte) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}

	schemaDef := v.schema.LookupPath(cue.ParsePath(def))
	if schemaDef.Err() != nil {
		return cue.Value{}, fmt.Errorf("looking up %s definition: %w", def, schemaDef.Err())
	}

	return schemaDef.Unify(dataValue), nil
}
