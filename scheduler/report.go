package scheduler

import (
	"fmt"
	"time"

	"github.com/kbukum/polysome/dag"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/parallel"
	"github.com/kbukum/polysome/validate"
	"github.com/kbukum/polysome/workflow"
)

// NodeReport is the outcome of one node.
type NodeReport struct {
	ID     string
	Engine workflow.EngineKind
	Status dag.Status
	// Output is the written file. Empty when the node wrote nothing.
	Output    string
	Records   int
	Failed    int
	Shards    []parallel.ShardReport
	Duration  time.Duration
	Err       error
	BlockedBy string
	// StartedAt is when the node entered RUNNING. Zero for nodes that never ran.
	StartedAt time.Time
}

// Report is the outcome of a workflow run.
type Report struct {
	Workflow   string
	RunID      string
	Status     dag.Status
	Nodes      []NodeReport
	Duration   time.Duration
	Validation *validate.Report
	// MirrorErr is set when publishing artifacts failed. It does not fail the run.
	MirrorErr error
	err       error
}

// Succeeded reports whether every node SUCCEEDED and validation, if run, passed.
func (r *Report) Succeeded() bool { return r.err == nil }

// Err is the error that decided a failed run, or nil.
func (r *Report) Err() error { return r.err }

// Node returns the report for id.
func (r *Report) Node(id string) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeReport{}, false
}

// decide picks the error for a finished run: the first FAILED node's error,
// then the first SKIPPED or PARTIAL node, then validation.
func (r *Report) decide(validationErr error) {
	r.Status = dag.StatusSucceeded
	for _, n := range r.Nodes {
		if n.Status == dag.StatusFailed {
			r.Status = dag.StatusFailed
			r.err = nodeError(n)
			return
		}
	}
	for _, n := range r.Nodes {
		switch n.Status {
		case dag.StatusSucceeded:
			continue
		case dag.StatusSkipped:
			r.Status = dag.StatusFailed
			r.err = errors.New(errors.ErrCodeInternal, fmt.Sprintf("node %s skipped: dependency %s did not succeed", n.ID, n.BlockedBy)).
				WithDetail(errors.DetailNode, n.ID)
		case dag.StatusPartial:
			r.Status = dag.StatusFailed
			r.err = errors.New(errors.ErrCodeInference, fmt.Sprintf("node %s finished with %d of %d records failed", n.ID, n.Failed, n.Records)).
				WithDetail(errors.DetailNode, n.ID).WithDetail(errors.DetailPath, n.Output)
		default:
			r.Status = dag.StatusFailed
			r.err = errors.Internal(fmt.Errorf("node %s ended %s", n.ID, n.Status))
		}
		return
	}
	if validationErr != nil {
		r.Status = dag.StatusFailed
		r.err = validationErr
	}
}

func nodeError(n NodeReport) error {
	if n.Err == nil {
		return errors.Internal(fmt.Errorf("node %s failed", n.ID))
	}
	appErr := errors.Wrap(n.Err)
	if _, ok := appErr.Details[errors.DetailNode]; !ok {
		appErr = appErr.WithDetail(errors.DetailNode, n.ID)
	}
	return appErr
}
