package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/polysome/dag"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/validation"
)

// Format is the encoding of a workflow source.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension. Unknown extensions are JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads, parses and validates the workflow at path. Every failure is a
// CONFIG_ERROR.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigError("cannot read workflow source").
			WithCause(err).WithDetail(errors.DetailPath, path)
	}
	spec, err := Parse(data, FormatFor(path))
	if err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return nil, appErr.WithDetail(errors.DetailPath, path)
		}
		return nil, err
	}
	return spec, nil
}

// rawNode accepts the discriminator under engine_kind, type or engine.
type rawNode struct {
	ID         string         `json:"id" yaml:"id"`
	EngineKind string         `json:"engine_kind" yaml:"engine_kind"`
	Type       string         `json:"type" yaml:"type"`
	Engine     string         `json:"engine" yaml:"engine"`
	Params     map[string]any `json:"params" yaml:"params"`
	DependsOn  []string       `json:"depends_on" yaml:"depends_on"`
}

type rawSpec struct {
	Name       string    `json:"name" yaml:"name"`
	DataDir    string    `json:"data_dir" yaml:"data_dir"`
	OutputDir  string    `json:"output_dir" yaml:"output_dir"`
	PromptsDir string    `json:"prompts_dir" yaml:"prompts_dir"`
	Nodes      []rawNode `json:"nodes" yaml:"nodes"`
}

// Parse decodes and validates a workflow source.
func Parse(data []byte, format Format) (*Spec, error) {
	var raw rawSpec
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.ConfigError("malformed workflow yaml").WithCause(err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.ConfigError("malformed workflow json").WithCause(err)
		}
	default:
		return nil, errors.ConfigError("unknown workflow format %q", format)
	}

	spec := &Spec{
		Name:       strings.TrimSpace(raw.Name),
		DataDir:    raw.DataDir,
		OutputDir:  raw.OutputDir,
		PromptsDir: raw.PromptsDir,
		Nodes:      make([]NodeSpec, len(raw.Nodes)),
	}
	for i, rn := range raw.Nodes {
		kind := rn.EngineKind
		if kind == "" {
			kind = rn.Type
		}
		if kind == "" {
			kind = rn.Engine
		}
		spec.Nodes[i] = NodeSpec{
			ID:        strings.TrimSpace(rn.ID),
			Engine:    EngineKind(strings.ToLower(strings.TrimSpace(kind))),
			Params:    normalizeNumbers(rn.Params),
			DependsOn: rn.DependsOn,
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks the schema invariants: required fields, unique node ids,
// known dependencies and an acyclic dependency relation.
func (s *Spec) Validate() error {
	if err := validation.Validate(s); err != nil {
		return err
	}

	v := validation.New()
	v.Unique("nodes.id", s.NodeIDs())
	known := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		known[n.ID] = true
	}
	for i, n := range s.Nodes {
		field := fmt.Sprintf("nodes[%d].depends_on", i)
		for _, dep := range n.DependsOn {
			v.Custom(dep != n.ID, field, fmt.Sprintf("node %q depends on itself", n.ID))
			v.Custom(known[dep], field, fmt.Sprintf("unknown node %q", dep))
		}
		if from := n.String(ParamInputFrom, ""); from != "" {
			v.Custom(contains(n.DependsOn, from), fmt.Sprintf("nodes[%d].params.input_from", i),
				fmt.Sprintf("node %q must be listed in depends_on", from))
		}
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}

	if _, err := dag.BuildLevels(s.Graph(nil)); err != nil {
		return errors.ConfigError("cyclic node dependencies").WithCause(err)
	}
	return nil
}

// Graph builds the dependency graph, taking each node from build. A nil
// build leaves node values empty, which is enough for ordering.
func (s *Spec) Graph(build func(NodeSpec) dag.Node) *dag.Graph {
	g := &dag.Graph{Nodes: make(map[string]dag.Node, len(s.Nodes)), Order: s.NodeIDs()}
	for _, n := range s.Nodes {
		var node dag.Node
		if build != nil {
			node = build(n)
		}
		g.Nodes[n.ID] = node
		for _, dep := range n.DependsOn {
			g.Edges = append(g.Edges, dag.Edge{From: dep, To: n.ID})
		}
	}
	return g
}

// normalizeNumbers turns json.Number values into int64 or float64.
func normalizeNumbers(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		return normalizeNumbers(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
