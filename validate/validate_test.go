package validate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
)

const goodFile = `{"id":"1","question":"hi","answer":"hello there friend"}
{"id":"2","question":"bye","answer":"goodbye, see you soon"}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseCriteria(t *testing.T) {
	c, err := ParseCriteria([]byte(`{"output_paths":{"vllm":"vllm/out.jsonl"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if c.ExpectedRecordCount != DefaultExpectedRecordCount {
		t.Errorf("expected default count, got %d", c.ExpectedRecordCount)
	}
	c, err = ParseCriteria([]byte(`{"expected_record_count":0,"output_paths":{"a":"a.jsonl"}}`))
	if err != nil || c.ExpectedRecordCount != 0 {
		t.Errorf("explicit zero should be kept, got %v %v", c, err)
	}

	for _, bad := range []string{`{`, `{"output_paths":{}}`, `{"expected_record_count":-1,"output_paths":{"a":"a"}}`} {
		if _, err := ParseCriteria([]byte(bad)); !errors.IsCode(err, errors.ErrCodeConfig) {
			t.Errorf("%s: expected CONFIG_ERROR, got %v", bad, err)
		}
	}
}

func TestLoadCriteriaMissingFile(t *testing.T) {
	_, err := LoadCriteria(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.IsCode(err, errors.ErrCodeConfig) {
		t.Fatalf("expected CONFIG_ERROR, got %v", err)
	}
}

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		expected  int
		wantPass  bool
		wantIssue string
		wantID    string
	}{
		{"passes", goodFile, 2, true, "", ""},
		{"one record missing", `{"id":"1","question":"hi","answer":"hello there friend"}` + "\n", 2, false, "expected 2 records, found 1", ""},
		{"answer of nine characters", `{"id":"1","question":"hi","answer":"hello the"}` + "\n", 1, false, "shorter than 10", "1"},
		{"answer of ten characters", `{"id":"1","question":"hi","answer":"hello ther"}` + "\n", 1, true, "", ""},
		{"error record", `{"id":"7","question":"hi","answer":"","error":"INFERENCE_ERROR"}` + "\n", 1, false, "empty or shorter", "7"},
		{"missing field", `{"id":"1","answer":"hello there friend"}` + "\n", 1, false, "missing required fields: question", ""},
		{"two missing fields", `{"answer":"hello there friend"}` + "\n", 1, false, "missing required fields: id, question", ""},
		{"blank id", `{"id":"  ","question":"hi","answer":"hello there friend"}` + "\n", 1, false, "id is required", ""},
		{"malformed line", "not json\n", 1, false, "line 1", ""},
		{"multibyte answer", `{"id":"1","question":"q","answer":"ééééééééé"}` + "\n", 1, false, "shorter than 10", "1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "out.jsonl", tc.content)
			rep := ValidateFile(path, tc.expected, nil)
			if rep.Passed() != tc.wantPass {
				t.Fatalf("Passed() = %v, issues %v", rep.Passed(), rep.Issues)
			}
			if tc.wantPass {
				if rep.Err() != nil {
					t.Errorf("unexpected error %v", rep.Err())
				}
				return
			}
			err := rep.Err()
			if !errors.IsCode(err, errors.ErrCodeValidation) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
			if !strings.Contains(errors.Diagnostic(err), tc.wantIssue) {
				t.Errorf("diagnostic %q does not mention %q", errors.Diagnostic(err), tc.wantIssue)
			}
			if tc.wantID != "" {
				appErr, _ := errors.AsAppError(err)
				if appErr.Details[errors.DetailCaseID] != tc.wantID {
					t.Errorf("expected case id %s in details, got %v", tc.wantID, appErr.Details)
				}
			}
		})
	}
}

func TestValidateFileKeywordsOnlyWarn(t *testing.T) {
	path := writeFile(t, t.TempDir(), "out.jsonl", goodFile)
	rep := ValidateFile(path, 2, map[string]string{"1": "HELLO", "2": "pineapple"})
	if !rep.Passed() {
		t.Fatalf("keywords must not fail validation: %v", rep.Issues)
	}
	if len(rep.Warnings) != 1 || rep.Warnings[0].ID != "2" {
		t.Errorf("expected one warning for record 2, got %v", rep.Warnings)
	}
}

func TestValidateAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vllm/out.jsonl", goodFile)
	writeFile(t, dir, "hf/out.jsonl", `{"id":"1","question":"hi","answer":"short"}`+"\n"+`{"id":"2","question":"q","answer":"long enough answer"}`+"\n")

	var buf bytes.Buffer
	log := logger.NewWriter(&buf, "debug")
	c := &Criteria{ExpectedRecordCount: 2, OutputPaths: map[string]string{
		"vllm": "vllm/out.jsonl", "llama_cpp": "llama/out.jsonl",
	}}
	rep, err := ValidateAll(context.Background(), c, dir, log)
	if err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if rep.Checked() != 1 || len(rep.Files) != 2 {
		t.Errorf("checked=%d files=%d", rep.Checked(), len(rep.Files))
	}
	if !strings.Contains(buf.String(), "skipping") {
		t.Error("expected a log line for the skipped output")
	}

	c.OutputPaths["huggingface"] = "hf/out.jsonl"
	_, err = ValidateAll(context.Background(), c, dir, nil)
	if !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if !strings.Contains(errors.Diagnostic(err), "record 1") {
		t.Errorf("diagnostic should name the record: %s", errors.Diagnostic(err))
	}
}

func TestValidateAllNoOutputs(t *testing.T) {
	c := &Criteria{ExpectedRecordCount: 1, OutputPaths: map[string]string{"vllm": "missing.jsonl"}}
	_, err := ValidateAll(context.Background(), c, t.TempDir(), nil)
	if !errors.IsCode(err, errors.ErrCodeValidation) || !strings.Contains(err.Error(), "no outputs") {
		t.Fatalf("expected no outputs VALIDATION_ERROR, got %v", err)
	}
}
