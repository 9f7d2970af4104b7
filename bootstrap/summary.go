package bootstrap

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one line of the summary.
type Entry struct {
	Name    string
	Status  string
	Details string
}

type section struct {
	title   string
	entries []Entry
}

// Summary collects what a task did and renders it as a tree.
type Summary struct {
	mu       sync.Mutex
	name     string
	version  string
	duration time.Duration
	headline string
	sections []*section
}

// NewSummary creates an empty summary.
func NewSummary(name, version string) *Summary {
	return &Summary{name: name, version: version}
}

// SetDuration records how long the task took.
func (s *Summary) SetDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = d
}

// SetHeadline sets the line printed under the header.
func (s *Summary) SetHeadline(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headline = fmt.Sprintf(format, args...)
}

// Add appends e under title. Sections render in first-use order.
func (s *Summary) Add(title string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sec := range s.sections {
		if sec.title == title {
			sec.entries = append(sec.entries, e)
			return
		}
	}
	s.sections = append(s.sections, &section{title: title, entries: []Entry{e}})
}

// Empty reports whether nothing was added.
func (s *Summary) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sections) == 0 && s.headline == ""
}

// Render writes the summary to w.
func (s *Summary) Render(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "🚀 %s v%s finished in %.2fs\n", s.name, s.version, s.duration.Seconds())
	if s.headline != "" {
		fmt.Fprintf(w, "   %s\n", s.headline)
	}
	fmt.Fprintf(w, "\n")

	for _, sec := range s.sections {
		fmt.Fprintf(w, "%s\n", sec.title)
		for i, e := range sec.entries {
			prefix := "├──"
			if i == len(sec.entries)-1 {
				prefix = "└──"
			}
			line := fmt.Sprintf("   %s %s %s (%s)", prefix, statusIcon(e.Status), e.Name, strings.ToLower(e.Status))
			if e.Details != "" {
				line += ": " + e.Details
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "\n")
	}
}

func statusIcon(status string) string {
	switch strings.ToLower(status) {
	case "succeeded", "passed", "ok", "uploaded":
		return "✅"
	case "partial", "warning":
		return "⚠️"
	case "skipped", "disabled":
		return "⏸️"
	case "failed", "error", "cancelled":
		return "❌"
	default:
		return "❓"
	}
}
