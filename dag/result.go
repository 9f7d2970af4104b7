package dag

import "time"

// Status is the lifecycle state of a node.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusPartial   Status = "PARTIAL"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusPartial, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Satisfies reports whether a dependency in state s lets its dependents run.
func (s Status) Satisfies() bool {
	return s == StatusSucceeded || s == StatusPartial
}

// Result holds the outcome of a graph execution.
type Result struct {
	NodeResults map[string]NodeResult
	// Order lists node names in the order they were resolved.
	Order    []string
	Duration time.Duration
}

// Succeeded reports whether every node ended SUCCEEDED.
func (r *Result) Succeeded() bool {
	for _, nr := range r.NodeResults {
		if nr.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// WithStatus returns the names of nodes that ended in status s, in execution order.
func (r *Result) WithStatus(s Status) []string {
	var out []string
	for _, name := range r.Order {
		if r.NodeResults[name].Status == s {
			out = append(out, name)
		}
	}
	return out
}

// NodeResult holds the outcome of a single node execution.
type NodeResult struct {
	Name     string
	Status   Status
	Duration time.Duration
	Output   any
	Error    error
	// BlockedBy names the dependency that caused a SKIPPED status.
	BlockedBy string
}
