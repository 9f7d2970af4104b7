package data

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kbukum/polysome/errors"
)

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadInputDataDefaultFile(t *testing.T) {
	dir := writeInput(t, DefaultInputFile, `[{"case_id":"1","text":"hi"},{"case_id":2,"text":"bye"}]`)
	ds, err := LoadInputData(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("LoadInputData: %v", err)
	}
	if !reflect.DeepEqual(ds.IDs(), []string{"1", "2"}) {
		t.Errorf("unexpected ids %v", ds.IDs())
	}
	rec, ok := ds.Get("2")
	if !ok || rec.Field("text") != "bye" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(ds.ByID()) != 2 || ds.Len() != 2 {
		t.Errorf("unexpected size")
	}
}

func TestLoadInputDataJSONL(t *testing.T) {
	dir := writeInput(t, "in.jsonl", "{\"id\":\"a\",\"text\":\"x\"}\n\n{\"id\":\"b\",\"text\":\"y\"}\n")
	ds, err := LoadInputData(context.Background(), dir, Options{File: "in.jsonl", IDField: "id"})
	if err != nil {
		t.Fatalf("LoadInputData: %v", err)
	}
	if !reflect.DeepEqual(ds.IDs(), []string{"a", "b"}) {
		t.Errorf("unexpected ids %v", ds.IDs())
	}
}

func TestLoadInputDataFallbackIDField(t *testing.T) {
	dir := writeInput(t, DefaultInputFile, `[{"case_mapping":"test_case_1","some_field":"d1"},{"case_mapping":"test_case_2","some_field":"d2"}]`)
	ds, err := LoadInputData(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("LoadInputData: %v", err)
	}
	if !reflect.DeepEqual(ds.IDs(), []string{"test_case_1", "test_case_2"}) {
		t.Errorf("unexpected ids %v", ds.IDs())
	}
}

func TestLoadInputDataNumericIDs(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		opts    Options
		want    []string
	}{
		{"id fallback", DefaultInputFile, `[{"id":"a","text":"x"},{"id":7,"text":"y"}]`, Options{}, []string{"a", "7"}},
		{"large id in array", DefaultInputFile, `[{"case_id":9007199254740993}]`, Options{}, []string{"9007199254740993"}},
		{"large id in jsonl", "in.jsonl", "{\"case_id\":9007199254740993}\n{\"case_id\":9007199254740995}\n", Options{File: "in.jsonl"}, []string{"9007199254740993", "9007199254740995"}},
		{"large id in object", DefaultInputFile, `{"k":{"case_id":12345678901234567890}}`, Options{}, []string{"12345678901234567890"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeInput(t, tc.file, tc.content)
			ds, err := LoadInputData(context.Background(), dir, tc.opts)
			if err != nil {
				t.Fatalf("LoadInputData: %v", err)
			}
			if !reflect.DeepEqual(ds.IDs(), tc.want) {
				t.Errorf("ids = %v, want %v", ds.IDs(), tc.want)
			}
		})
	}
}

func TestLoadInputDataObjectKeepsOrder(t *testing.T) {
	dir := writeInput(t, DefaultInputFile, `{"z":{"text":"last letter"},"a":{"text":"first letter"},"m":{"case_id":"override","text":"x"}}`)
	ds, err := LoadInputData(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("LoadInputData: %v", err)
	}
	if !reflect.DeepEqual(ds.IDs(), []string{"z", "a", "override"}) {
		t.Errorf("expected source order, got %v", ds.IDs())
	}
}

func TestLoadInputDataDuplicates(t *testing.T) {
	src := `[{"case_id":"1","text":"first"},{"case_id":"2"},{"case_id":"1","text":"second"},{"case_id":"1"}]`

	t.Run("lenient reports", func(t *testing.T) {
		ds, err := LoadInputData(context.Background(), writeInput(t, DefaultInputFile, src), Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ds.Len() != 2 {
			t.Errorf("expected 2 unique records, got %d", ds.Len())
		}
		rec, _ := ds.Get("1")
		if rec.Field("text") != "first" {
			t.Errorf("first occurrence must win, got %q", rec.Field("text"))
		}
		want := []Duplicate{{CaseID: "1", First: 0, Index: 2}, {CaseID: "1", First: 0, Index: 3}}
		if !reflect.DeepEqual(ds.Duplicates, want) {
			t.Errorf("unexpected duplicates %+v", ds.Duplicates)
		}
		if !reflect.DeepEqual(ds.DuplicateIDs(), []string{"1"}) {
			t.Errorf("unexpected duplicate ids %v", ds.DuplicateIDs())
		}
	})

	t.Run("strict fails", func(t *testing.T) {
		_, err := LoadInputData(context.Background(), writeInput(t, DefaultInputFile, src), Options{Strict: true})
		if !errors.IsCode(err, errors.ErrCodeData) {
			t.Fatalf("expected DATA_ERROR, got %v", err)
		}
		if !strings.Contains(err.Error(), "duplicate case ids: 1") {
			t.Errorf("expected duplicate id in message, got %v", err)
		}
	})
}

func TestLoadInputDataErrors(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"missing dir", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
		{"missing file", func(t *testing.T) string { return t.TempDir() }},
		{"malformed", func(t *testing.T) string { return writeInput(t, DefaultInputFile, `[{"case_id":`) }},
		{"scalar document", func(t *testing.T) string { return writeInput(t, DefaultInputFile, `42`) }},
		{"record without id", func(t *testing.T) string { return writeInput(t, DefaultInputFile, `[{"text":"no id"}]`) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadInputData(context.Background(), tc.dir(t), Options{})
			if !errors.IsCode(err, errors.ErrCodeData) {
				t.Fatalf("expected DATA_ERROR, got %v", err)
			}
		})
	}
}

func TestCaseRecordField(t *testing.T) {
	r := CaseRecord{CaseID: "1", Fields: map[string]any{"n": 3.5, "nil": nil}}
	if r.Field("n") != "3.5" || r.Field("nil") != "" || r.Field("absent") != "" {
		t.Errorf("unexpected field rendering")
	}
}
