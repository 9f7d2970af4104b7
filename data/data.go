// Package data loads the input records a workflow runs over and keys them by
// case id.
package data

import (
	"sort"
	"strings"

	"github.com/spf13/cast"
)

const (
	// DefaultInputFile is read from the data dir when a node names no input file.
	DefaultInputFile = "metadata_without_results.json"
	// DefaultIDField holds the case id in each record.
	DefaultIDField = "case_id"
)

// DefaultFallbackIDFields are tried when the id field is absent.
var DefaultFallbackIDFields = []string{"case_mapping", "id"}

// CaseRecord is one input unit. Records are shared read-only after load.
type CaseRecord struct {
	CaseID string         `json:"case_id"`
	Fields map[string]any `json:"fields"`
}

// Field returns fields[name] rendered as a string, "" when absent.
func (r CaseRecord) Field(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// Duplicate describes a record dropped because its case id was already seen.
type Duplicate struct {
	CaseID string `json:"case_id"`
	// First is the position of the kept record, Index of the dropped one.
	First int `json:"first"`
	Index int `json:"index"`
}

// Dataset is the loaded input in source order.
type Dataset struct {
	Source     string
	Records    []CaseRecord
	Duplicates []Duplicate
	byID       map[string]int
}

func newDataset(source string) *Dataset {
	return &Dataset{Source: source, byID: make(map[string]int)}
}

// add appends r unless its id is already present. pos is the record's
// position in the source.
func (d *Dataset) add(r CaseRecord, pos int, positions map[string]int) {
	if first, dup := positions[r.CaseID]; dup {
		d.Duplicates = append(d.Duplicates, Duplicate{CaseID: r.CaseID, First: first, Index: pos})
		return
	}
	positions[r.CaseID] = pos
	d.byID[r.CaseID] = len(d.Records)
	d.Records = append(d.Records, r)
}

// Len returns the number of unique records.
func (d *Dataset) Len() int { return len(d.Records) }

// Get returns the record with the given case id.
func (d *Dataset) Get(caseID string) (CaseRecord, bool) {
	i, ok := d.byID[caseID]
	if !ok {
		return CaseRecord{}, false
	}
	return d.Records[i], true
}

// ByID returns the case id to record mapping.
func (d *Dataset) ByID() map[string]CaseRecord {
	out := make(map[string]CaseRecord, len(d.Records))
	for _, r := range d.Records {
		out[r.CaseID] = r
	}
	return out
}

// IDs returns case ids in source order.
func (d *Dataset) IDs() []string {
	ids := make([]string, len(d.Records))
	for i, r := range d.Records {
		ids[i] = r.CaseID
	}
	return ids
}

// DuplicateIDs returns the distinct duplicated case ids, sorted.
func (d *Dataset) DuplicateIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, dup := range d.Duplicates {
		if !seen[dup.CaseID] {
			seen[dup.CaseID] = true
			ids = append(ids, dup.CaseID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Options controls LoadInputData.
type Options struct {
	// File is the input file name inside the data dir.
	File string
	// IDField is the key holding the case id.
	IDField string
	// FallbackIDFields are tried in order when IDField is absent.
	FallbackIDFields []string
	// Strict turns duplicate case ids into a DataError.
	Strict bool
}

func (o *Options) applyDefaults() {
	if o.File == "" {
		o.File = DefaultInputFile
	}
	if o.IDField == "" {
		o.IDField = DefaultIDField
	}
	if o.FallbackIDFields == nil {
		o.FallbackIDFields = DefaultFallbackIDFields
	}
}

func (o *Options) caseID(fields map[string]any) (string, bool) {
	for _, key := range append([]string{o.IDField}, o.FallbackIDFields...) {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		id := strings.TrimSpace(cast.ToString(v))
		if id != "" {
			return id, true
		}
	}
	return "", false
}
