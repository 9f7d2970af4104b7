// Package output writes and reads inference results as JSON lines.
package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/storage"
	"github.com/kbukum/polysome/storage/local"
)

// Result is one output record. Field order on the wire is id, question,
// answer, then error when the record failed.
type Result struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the record carries an error marker.
func (r Result) Failed() bool { return r.Error != "" }

// Failure builds the error-marked result for a record that produced no answer.
func Failure(id, question string, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = errors.Diagnostic(err)
	}
	return Result{ID: id, Question: question, Error: msg}
}

// Summary counts the results.
func Summary(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.Failed() {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed
}

// Encode writes results to w as compact JSON, one object per line.
func Encode(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range results {
		if err := enc.Encode(&results[i]); err != nil {
			return fmt.Errorf("output: encode record %q: %w", results[i].ID, err)
		}
	}
	return nil
}

// Decode reads JSON lines from r. Blank lines are skipped.
func Decode(r io.Reader) ([]Result, error) {
	var results []Result
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var res Result
		if err := json.Unmarshal(b, &res); err != nil {
			return nil, fmt.Errorf("output: line %d: %w", line, err)
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("output: read: %w", err)
	}
	return results, nil
}

// WriteTo uploads results to key in store.
func WriteTo(ctx context.Context, store storage.Storage, key string, results []Result) error {
	var buf bytes.Buffer
	if err := Encode(&buf, results); err != nil {
		return err
	}
	return store.Upload(ctx, key, &buf)
}

// Write replaces the file at path with results. The file is written to a
// temporary name in the same directory and renamed into place, so a reader
// sees either the previous content or the complete new file.
func Write(ctx context.Context, path string, results []Result) error {
	store, err := local.NewStorage(filepath.Dir(path))
	if err != nil {
		return errors.Internal(err).WithDetail(errors.DetailPath, path)
	}
	if err := WriteTo(ctx, store, filepath.Base(path), results); err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return errors.Cancelled("output write", err).WithDetail(errors.DetailPath, path)
		}
		return errors.Internal(err).WithDetail(errors.DetailPath, path)
	}
	return nil
}

// Read loads every result from the file at path.
func Read(path string) ([]Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
