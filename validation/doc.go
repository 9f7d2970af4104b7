// Package validation checks declarative inputs such as workflow documents and
// the run environment before anything executes.
//
// It supports both struct tag validation (using go-playground/validator) and
// programmatic validation with error collection. Both report failures as a
// single CONFIG_ERROR whose details list every offending field.
//
// # Struct Tag Validation
//
//	type NodeSpec struct {
//	    ID     string `json:"id" validate:"required"`
//	    Engine string `json:"engine" validate:"required,oneof=huggingface vllm llama_cpp"`
//	}
//	err := validation.Validate(node)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Unique("nodes.id", ids).Custom(len(ids) > 0, "nodes", "must not be empty")
//	if appErr := v.Validate(); appErr != nil { ... }
package validation
