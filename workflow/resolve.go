package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/data"
	"github.com/kbukum/polysome/validation"
)

// Overrides replaces directory fields recorded in the source. Empty fields
// leave the source value in place.
type Overrides struct {
	DataDir    string
	OutputDir  string
	PromptsDir string
	// ModelDir replaces the /models/ prefix of node model_name params.
	ModelDir string
}

// OverridesFrom takes the directory overrides from the run environment.
func OverridesFrom(env *config.Environment) Overrides {
	return Overrides{
		DataDir:    env.DataDir,
		OutputDir:  env.OutputDir,
		PromptsDir: env.PromptsDir,
		ModelDir:   env.ModelDir,
	}
}

// ResolvePaths returns a copy of s with the overrides applied. s is not modified.
func (s *Spec) ResolvePaths(o Overrides) *Spec {
	out := s.clone()
	if o.DataDir != "" {
		out.DataDir = o.DataDir
	}
	if o.OutputDir != "" {
		out.OutputDir = o.OutputDir
	}
	if o.PromptsDir != "" {
		out.PromptsDir = o.PromptsDir
	}
	if o.ModelDir != "" {
		for i := range out.Nodes {
			model, ok := out.Nodes[i].Params[ParamModelName].(string)
			if ok && strings.HasPrefix(model, ModelPrefix) {
				out.Nodes[i].Params[ParamModelName] = filepath.Join(o.ModelDir, strings.TrimPrefix(model, ModelPrefix))
			}
		}
	}
	return out
}

// OutputPath returns the absolute output path of node n.
func (s *Spec) OutputPath(n NodeSpec) string {
	return filepath.Join(s.OutputDir, n.OutputFile())
}

// InputPath returns the data file a root node reads.
func (s *Spec) InputPath(n NodeSpec) string {
	return filepath.Join(s.DataDir, n.String(ParamInputFile, data.DefaultInputFile))
}

// CheckNodes is the dry-run check run before any node executes: every node's
// required parameters must be present and well-typed, root inputs and
// prompt files must exist, and its data-parallel request must fit the
// environment. Problems are reported together as one CONFIG_ERROR.
func (s *Spec) CheckNodes(env *config.Environment) error {
	v := validation.New()
	outputs := make(map[string]string, len(s.Nodes))
	for i, n := range s.Nodes {
		v.Merge(fmt.Sprintf("nodes[%d]", i), checkNode(s, n, env))
		if prev, dup := outputs[n.OutputFile()]; dup {
			v.AddError(fmt.Sprintf("nodes[%d].params.output_file", i),
				fmt.Sprintf("output file %q already written by node %q", n.OutputFile(), prev))
		}
		outputs[n.OutputFile()] = n.ID
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func checkNode(s *Spec, n NodeSpec, env *config.Environment) *validation.Validator {
	v := validation.New()
	v.Required("params.model_name", n.String(ParamModelName, ""))

	size, err := n.DataParallelSize()
	switch {
	case err != nil:
		v.AddError("params.data_parallel_size", "must be an integer")
	case size > 1:
		v.Custom(n.Engine.SupportsDataParallel(), "params.data_parallel_size",
			fmt.Sprintf("%s engine has no data-parallel mode", n.Engine))
		v.Custom(env.DataParallelEnabled, "params.data_parallel_size",
			"data-parallel capability is disabled in the environment")
		if devices := len(env.VisibleDevices); devices > 0 {
			v.Range("params.data_parallel_size", size, 1, devices)
		}
	default:
		v.Min("params.data_parallel_size", size, 1)
	}

	if retries, err := n.Int(ParamShardRetries, 1); err != nil {
		v.AddError("params.shard_retries", "must be an integer")
	} else {
		v.Min("params.shard_retries", retries, 0)
	}
	if _, err := n.Bool(ParamFailFast, false); err != nil {
		v.AddError("params.fail_fast", "must be a boolean")
	}

	if prompt := n.String(ParamPromptFile, ""); prompt != "" {
		path := filepath.Join(s.PromptsDir, prompt)
		if _, err := os.Stat(path); err != nil {
			v.AddError("params.prompt_file", fmt.Sprintf("prompt file %s is not readable", path))
		}
	}

	if n.InputFrom() == "" {
		in := s.InputPath(n)
		if _, err := os.Stat(in); err != nil {
			v.AddError("params.input_file", fmt.Sprintf("input file %s is not readable", in))
		}
	}

	out := n.OutputFile()
	v.Custom(filepath.IsLocal(out), "params.output_file", "must be a relative path inside output_dir")
	return v
}
