package data

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/storage"
	"github.com/kbukum/polysome/storage/local"
)

// LoadInputData reads opts.File from dataDir and returns its records keyed
// by case id. A missing or unreadable file, a record without a case id, or a
// duplicate case id under opts.Strict is a DATA_ERROR. Without Strict,
// duplicates are dropped (first occurrence wins) and listed in
// Dataset.Duplicates.
func LoadInputData(ctx context.Context, dataDir string, opts Options) (*Dataset, error) {
	info, err := os.Stat(dataDir)
	if err != nil || !info.IsDir() {
		return nil, errors.DataError("data directory is not readable").
			WithDetail(errors.DetailPath, dataDir).WithCause(err)
	}
	store, err := local.NewStorage(dataDir)
	if err != nil {
		return nil, errors.DataError("cannot open data directory").
			WithDetail(errors.DetailPath, dataDir).WithCause(err)
	}
	return Load(ctx, store, opts)
}

// Load reads opts.File from store. Files ending in .jsonl are read one
// record per line; anything else must hold a JSON array of records or a
// JSON object mapping case id to record.
func Load(ctx context.Context, store storage.Storage, opts Options) (*Dataset, error) {
	opts.applyDefaults()

	rc, err := store.Download(ctx, opts.File)
	if err != nil {
		return nil, errors.DataError("input file is missing or unreadable").
			WithDetail(errors.DetailPath, opts.File).WithCause(err)
	}
	defer rc.Close()

	ds := newDataset(opts.File)
	if strings.EqualFold(filepath.Ext(opts.File), ".jsonl") {
		err = readLines(rc, &opts, ds)
	} else {
		err = readDocument(rc, &opts, ds)
	}
	if err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return nil, appErr.WithDetail(errors.DetailPath, opts.File)
		}
		return nil, errors.DataError("malformed input file").
			WithDetail(errors.DetailPath, opts.File).WithCause(err)
	}

	if opts.Strict && len(ds.Duplicates) > 0 {
		return nil, errors.DataError("duplicate case ids: %s", strings.Join(ds.DuplicateIDs(), ", ")).
			WithDetail(errors.DetailPath, opts.File).
			WithDetail("duplicates", ds.Duplicates)
	}
	return ds, nil
}

func readLines(r io.Reader, opts *Options, ds *Dataset) error {
	positions := make(map[string]int)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	pos := 0
	for line := 1; scanner.Scan(); line++ {
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var fields map[string]any
		if err := decodeRecord(json.NewDecoder(bytes.NewReader(b)), &fields); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := toRecord(fields, opts, pos)
		if err != nil {
			return err
		}
		ds.add(rec, pos, positions)
		pos++
	}
	return scanner.Err()
}

func readDocument(r io.Reader, opts *Options, ds *Dataset) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	positions := make(map[string]int)
	switch tok {
	case json.Delim('['):
		for pos := 0; dec.More(); pos++ {
			var fields map[string]any
			if err := dec.Decode(&fields); err != nil {
				return fmt.Errorf("record %d: %w", pos, err)
			}
			rec, err := toRecord(fields, opts, pos)
			if err != nil {
				return err
			}
			ds.add(rec, pos, positions)
		}
	case json.Delim('{'):
		// object keyed by case id; decoding token by token keeps source order
		for pos := 0; dec.More(); pos++ {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			var fields map[string]any
			if err := dec.Decode(&fields); err != nil {
				return fmt.Errorf("record %q: %w", key, err)
			}
			if fields == nil {
				fields = map[string]any{}
			}
			id, ok := opts.caseID(fields)
			if !ok {
				id = strings.TrimSpace(key)
			}
			ds.add(CaseRecord{CaseID: id, Fields: fields}, pos, positions)
		}
	default:
		return fmt.Errorf("expected a JSON array or object, got %v", tok)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// decodeRecord keeps numbers as json.Number so large numeric ids survive
// without float64 rounding.
func decodeRecord(dec *json.Decoder, fields *map[string]any) error {
	dec.UseNumber()
	return dec.Decode(fields)
}

func toRecord(fields map[string]any, opts *Options, pos int) (CaseRecord, error) {
	id, ok := opts.caseID(fields)
	if !ok {
		return CaseRecord{}, errors.DataError("record %d has no %s", pos, opts.IDField).
			WithDetail(errors.DetailField, opts.IDField)
	}
	return CaseRecord{CaseID: id, Fields: fields}, nil
}
