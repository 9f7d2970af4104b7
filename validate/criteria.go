// Package validate checks written output files against quality criteria:
// exact record count, required fields, minimum answer length, and optional
// keyword expectations that only warn.
package validate

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/validation"
)

const (
	// DefaultExpectedRecordCount applies when criteria omit the count.
	DefaultExpectedRecordCount = 5
	// MinAnswerLength is the shortest answer that passes.
	MinAnswerLength = 10
)

// Criteria describe what every output file must satisfy.
type Criteria struct {
	ExpectedRecordCount int `json:"expected_record_count" validate:"min=0"`
	// KeywordExpectations maps a record id to a substring its answer should contain.
	KeywordExpectations map[string]string `json:"keyword_expectations,omitempty"`
	// OutputPaths maps an engine name to its output file, relative to the output dir.
	OutputPaths map[string]string `json:"output_paths" validate:"required,min=1,dive,required"`
}

// LoadCriteria reads criteria from a JSON file.
func LoadCriteria(path string) (*Criteria, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError("cannot read validation criteria").
			WithDetail(errors.DetailPath, path).WithCause(err)
	}
	c, err := ParseCriteria(data)
	if err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return nil, appErr.WithDetail(errors.DetailPath, path)
		}
		return nil, err
	}
	return c, nil
}

// ParseCriteria decodes criteria JSON and fills defaults.
func ParseCriteria(data []byte) (*Criteria, error) {
	var raw struct {
		Criteria
		ExpectedRecordCount *int `json:"expected_record_count"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.ConfigError("malformed validation criteria").WithCause(err)
	}
	c := raw.Criteria
	c.ExpectedRecordCount = DefaultExpectedRecordCount
	if raw.ExpectedRecordCount != nil {
		c.ExpectedRecordCount = *raw.ExpectedRecordCount
	}
	if err := validation.Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
