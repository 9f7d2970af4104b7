package workflow

import (
	"strings"

	"github.com/spf13/cast"
)

// EngineKind selects the inference backend a node runs on.
type EngineKind string

const (
	EngineHuggingface EngineKind = "huggingface"
	EngineVLLM        EngineKind = "vllm"
	EngineLlamaCpp    EngineKind = "llama_cpp"
)

// EngineKinds lists every supported backend.
func EngineKinds() []EngineKind {
	return []EngineKind{EngineHuggingface, EngineVLLM, EngineLlamaCpp}
}

// Valid reports whether k is a supported backend.
func (k EngineKind) Valid() bool {
	for _, known := range EngineKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// SupportsDataParallel reports whether nodes of this kind may shard across devices.
func (k EngineKind) SupportsDataParallel() bool { return k == EngineVLLM }

// Param keys understood by the scheduler and engines.
const (
	ParamModelName        = "model_name"
	ParamDataParallelSize = "data_parallel_size"
	ParamFailFast         = "fail_fast"
	ParamShardRetries     = "shard_retries"
	ParamInputFile        = "input_file"
	ParamInputFrom        = "input_from"
	ParamIDField          = "id_field"
	ParamQuestionField    = "question_field"
	ParamPromptFile       = "prompt_file"
	ParamOutputFile       = "output_file"
)

// ModelPrefix marks model paths that live under the environment's model dir.
const ModelPrefix = "/models/"

// Spec is a parsed workflow source. It is immutable after Load; ResolvePaths
// returns a modified copy.
type Spec struct {
	Name       string     `json:"name" yaml:"name" validate:"required"`
	DataDir    string     `json:"data_dir" yaml:"data_dir"`
	OutputDir  string     `json:"output_dir" yaml:"output_dir" validate:"required"`
	PromptsDir string     `json:"prompts_dir" yaml:"prompts_dir"`
	Nodes      []NodeSpec `json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
}

// NodeSpec is one unit of work bound to a single backend.
type NodeSpec struct {
	ID        string         `json:"id" yaml:"id" validate:"required"`
	Engine    EngineKind     `json:"engine_kind" yaml:"engine_kind" validate:"required,oneof=huggingface vllm llama_cpp"`
	Params    map[string]any `json:"params,omitempty" yaml:"params"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on"`
}

// Node returns the node with the given id.
func (s *Spec) Node(id string) (NodeSpec, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// NodeIDs returns node ids in declaration order.
func (s *Spec) NodeIDs() []string {
	ids := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Param returns the raw parameter value.
func (n NodeSpec) Param(key string) (any, bool) {
	v, ok := n.Params[key]
	return v, ok && v != nil
}

// String returns a string parameter or def when unset.
func (n NodeSpec) String(key, def string) string {
	v, ok := n.Param(key)
	if !ok {
		return def
	}
	s := strings.TrimSpace(cast.ToString(v))
	if s == "" {
		return def
	}
	return s
}

// Int returns an integer parameter or def when unset. A value that cannot be
// read as an integer is an error.
func (n NodeSpec) Int(key string, def int) (int, error) {
	v, ok := n.Param(key)
	if !ok {
		return def, nil
	}
	return cast.ToIntE(v)
}

// Bool returns a boolean parameter or def when unset.
func (n NodeSpec) Bool(key string, def bool) (bool, error) {
	v, ok := n.Param(key)
	if !ok {
		return def, nil
	}
	return cast.ToBoolE(v)
}

// DataParallelSize returns params.data_parallel_size, default 1.
func (n NodeSpec) DataParallelSize() (int, error) {
	return n.Int(ParamDataParallelSize, 1)
}

// InputFrom names the node whose output feeds this node. Root nodes return "".
func (n NodeSpec) InputFrom() string {
	if from := n.String(ParamInputFrom, ""); from != "" {
		return from
	}
	if len(n.DependsOn) > 0 {
		return n.DependsOn[0]
	}
	return ""
}

// OutputFile returns the node's output file name relative to the output dir.
func (n NodeSpec) OutputFile() string {
	return n.String(ParamOutputFile, n.ID+".jsonl")
}

func (n NodeSpec) clone() NodeSpec {
	out := n
	out.Params = cloneMap(n.Params)
	if n.DependsOn != nil {
		out.DependsOn = append([]string(nil), n.DependsOn...)
	}
	return out
}

func (s *Spec) clone() *Spec {
	out := *s
	out.Nodes = make([]NodeSpec, len(s.Nodes))
	for i, n := range s.Nodes {
		out.Nodes[i] = n.clone()
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
