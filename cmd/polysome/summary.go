package main

import (
	"fmt"
	"strings"

	"github.com/kbukum/polysome/bootstrap"
	"github.com/kbukum/polysome/dag"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/scheduler"
)

const (
	sectionNodes      = "📦 Nodes"
	sectionValidation = "🧪 Validation"
	sectionArtifacts  = "🗄️ Artifacts"
)

// summarize copies the run report into the closing summary. A nil report
// (validate-first failure) adds nothing.
func summarize(s *bootstrap.Summary, r *scheduler.Report) {
	if r == nil {
		return
	}
	s.SetHeadline("%s run %s: %s", r.Workflow, r.RunID, r.Status)

	for _, n := range r.Nodes {
		s.Add(sectionNodes, bootstrap.Entry{Name: n.ID, Status: string(n.Status), Details: nodeDetails(n)})
	}

	if r.Validation != nil {
		for _, f := range r.Validation.Files {
			e := bootstrap.Entry{Name: f.Engine, Status: "passed", Details: f.Path}
			switch {
			case f.Skipped:
				e.Status = "skipped"
				e.Details = f.Path + " missing"
			case !f.Passed():
				e.Status = "failed"
				e.Details = fmt.Sprintf("%s: %d issue(s), first: %s", f.Path, len(f.Issues), f.Issues[0])
			case len(f.Warnings) > 0:
				e.Status = "warning"
				e.Details = fmt.Sprintf("%s: %d keyword warning(s)", f.Path, len(f.Warnings))
			}
			s.Add(sectionValidation, e)
		}
	}

	if r.MirrorErr != nil {
		s.Add(sectionArtifacts, bootstrap.Entry{Name: "mirror", Status: "failed", Details: errors.Diagnostic(r.MirrorErr)})
	}
}

func nodeDetails(n scheduler.NodeReport) string {
	var parts []string
	parts = append(parts, "engine="+string(n.Engine))
	if n.Status == dag.StatusSkipped {
		if n.BlockedBy != "" {
			parts = append(parts, "blocked by "+n.BlockedBy)
		}
		return strings.Join(parts, " ")
	}
	parts = append(parts, fmt.Sprintf("records=%d", n.Records))
	if n.Failed > 0 {
		parts = append(parts, fmt.Sprintf("failed=%d", n.Failed))
	}
	if len(n.Shards) > 1 {
		parts = append(parts, fmt.Sprintf("shards=%d", len(n.Shards)))
	}
	if n.Output != "" {
		parts = append(parts, "output="+n.Output)
	}
	parts = append(parts, fmt.Sprintf("in %.2fs", n.Duration.Seconds()))
	if n.Err != nil && n.Status == dag.StatusFailed {
		parts = append(parts, "error="+errors.Diagnostic(n.Err))
	}
	return strings.Join(parts, " ")
}
