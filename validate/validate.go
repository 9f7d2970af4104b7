package validate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
	"github.com/kbukum/polysome/validation"
)

// requiredFields must be present in every record.
var requiredFields = []string{"id", "question", "answer"}

// Issue is one problem found in a file. Record is the zero-based line index
// of the record, or -1 for file-level problems.
type Issue struct {
	Record  int
	ID      string
	Message string
}

func (i Issue) String() string {
	switch {
	case i.ID != "":
		return fmt.Sprintf("record %s: %s", i.ID, i.Message)
	case i.Record >= 0:
		return fmt.Sprintf("record %d: %s", i.Record, i.Message)
	default:
		return i.Message
	}
}

// FileReport is the outcome for one output file.
type FileReport struct {
	Engine   string
	Path     string
	Records  int
	Skipped  bool
	Issues   []Issue
	Warnings []Issue
}

// Passed reports whether the file was checked and had no issues.
func (f *FileReport) Passed() bool { return !f.Skipped && len(f.Issues) == 0 }

// Err returns a VALIDATION_ERROR naming the first issue, or nil.
func (f *FileReport) Err() error {
	if f.Skipped || len(f.Issues) == 0 {
		return nil
	}
	first := f.Issues[0]
	e := errors.ValidationError(fmt.Sprintf("%s failed validation: %s", filepath.Base(f.Path), first)).
		WithDetail(errors.DetailPath, f.Path).
		WithDetail("issues", len(f.Issues))
	if first.ID != "" {
		e = e.WithDetail(errors.DetailCaseID, first.ID)
	}
	return e
}

// ValidateFile checks one JSONL file against the expected count and keyword
// expectations. Unreadable files and malformed lines are issues, not errors.
func ValidateFile(path string, expected int, keywords map[string]string) *FileReport {
	rep := &FileReport{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		rep.Issues = append(rep.Issues, Issue{Record: -1, Message: "cannot read file: " + err.Error()})
		return rep
	}

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(b, &rec); err != nil {
			rep.Issues = append(rep.Issues, Issue{Record: -1, Message: fmt.Sprintf("line %d is not a JSON object: %v", line, err)})
			return rep
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		rep.Issues = append(rep.Issues, Issue{Record: -1, Message: "cannot read file: " + err.Error()})
		return rep
	}
	rep.Records = len(records)

	if len(records) != expected {
		rep.Issues = append(rep.Issues, Issue{Record: -1,
			Message: fmt.Sprintf("expected %d records, found %d", expected, len(records))})
		return rep
	}

	for i, rec := range records {
		present := validation.New()
		for _, f := range requiredFields {
			_, ok := rec[f]
			present.Custom(ok, f, "is missing")
		}
		if present.HasErrors() {
			missing := make([]string, 0, len(requiredFields))
			for _, fe := range present.Errors() {
				missing = append(missing, fe.Field)
			}
			rep.Issues = append(rep.Issues, Issue{Record: i,
				Message: "missing required fields: " + strings.Join(missing, ", ")})
			continue
		}

		id := cast.ToString(rec["id"])
		answer := cast.ToString(rec["answer"])
		v := validation.New().
			Required("id", id).
			MinLength("answer", answer, MinAnswerLength)
		for _, fe := range v.Errors() {
			msg := fe.Field + " " + fe.Message
			if fe.Field == "answer" {
				msg = fmt.Sprintf("answer is empty or shorter than %d characters: %q", MinAnswerLength, answer)
			}
			rep.Issues = append(rep.Issues, Issue{Record: i, ID: id, Message: msg})
		}
		if want, ok := keywords[id]; ok && !strings.Contains(strings.ToLower(answer), strings.ToLower(want)) {
			rep.Warnings = append(rep.Warnings, Issue{Record: i, ID: id,
				Message: fmt.Sprintf("answer does not contain expected keyword %q", want)})
		}
	}
	return rep
}

// Report is the outcome for every output named by the criteria.
type Report struct {
	Files []*FileReport
}

// Checked counts files that existed and were validated.
func (r *Report) Checked() int {
	n := 0
	for _, f := range r.Files {
		if !f.Skipped {
			n++
		}
	}
	return n
}

// Err returns the first failing file's error, a VALIDATION_ERROR when no
// output existed at all, or nil.
func (r *Report) Err() error {
	if r.Checked() == 0 {
		return errors.ValidationError("no outputs found to validate")
	}
	for _, f := range r.Files {
		if err := f.Err(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll checks every output in c.OutputPaths under baseDir, in engine
// name order. Outputs that do not exist are skipped; at least one must exist.
func ValidateAll(ctx context.Context, c *Criteria, baseDir string, log *logger.Logger) (*Report, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanValidate)
	defer span.End()
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("validate")

	engines := make([]string, 0, len(c.OutputPaths))
	for name := range c.OutputPaths {
		engines = append(engines, name)
	}
	sort.Strings(engines)

	rep := &Report{}
	for _, name := range engines {
		path := c.OutputPaths[name]
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		fields := logger.Fields(logger.FieldEngine, name, logger.FieldPath, path)
		if _, err := os.Stat(path); err != nil {
			log.Info("output not found, skipping", fields)
			rep.Files = append(rep.Files, &FileReport{Engine: name, Path: path, Skipped: true})
			continue
		}

		fr := ValidateFile(path, c.ExpectedRecordCount, c.KeywordExpectations)
		fr.Engine = name
		rep.Files = append(rep.Files, fr)
		for _, w := range fr.Warnings {
			log.Warn(w.String(), fields)
		}
		for _, is := range fr.Issues {
			log.Error(is.String(), fields)
		}
		if fr.Passed() {
			log.Info("output passed validation", logger.Fields(logger.FieldEngine, name, logger.FieldRecords, fr.Records))
		}
	}

	observability.SetSpanAttribute(ctx, observability.AttrRecords, rep.Checked())
	if err := rep.Err(); err != nil {
		observability.SetSpanError(ctx, err)
		return rep, err
	}
	return rep, nil
}
