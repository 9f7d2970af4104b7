package engine

import (
	"context"
	"time"

	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
	"github.com/kbukum/polysome/output"
	"github.com/kbukum/polysome/workflow"
)

// Item is one unit of input for a node.
type Item struct {
	// ID is the case identifier carried through to the result.
	ID string
	// Question is the text recorded as the result's question.
	Question string
	// Fields are the values available to the prompt template.
	Fields map[string]any
	// Err is set when the item already failed upstream. Such items are passed
	// through as failed results without reaching the backend.
	Err string
}

// Engine is the capability set shared by every backend variant.
type Engine interface {
	// Kind reports the backend variant.
	Kind() workflow.EngineKind
	// Initialize acquires the model and its resources. Failures are
	// EngineLoadErrors.
	Initialize(ctx context.Context) error
	// RunInference answers items in order. Per-item backend failures become
	// error-marked results unless the node is fail-fast.
	RunInference(ctx context.Context, items []Item) ([]output.Result, error)
	// Shutdown releases what Initialize acquired. It is safe to call more
	// than once and after a failed Initialize.
	Shutdown(ctx context.Context) error

	sealed()
}

// Deps carries everything an engine needs besides its node definition.
type Deps struct {
	Env *config.Environment
	// PromptsDir is where params.prompt_file is resolved.
	PromptsDir string
	// Devices are the physical devices the engine is pinned to. Empty leaves
	// device selection to the backend.
	Devices []int
	// Shard is the data-parallel shard index, used to offset the server port.
	Shard   int
	Log     *logger.Logger
	Metrics *observability.Metrics
}

// New builds the engine variant selected by node.Engine. Nothing is acquired
// until Initialize.
func New(node workflow.NodeSpec, deps Deps) (Engine, error) {
	if deps.Env == nil {
		deps.Env = &config.Environment{}
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	switch node.Engine {
	case workflow.EngineHuggingface:
		s, err := newServer(node, deps, huggingfaceVariant)
		if err != nil {
			return nil, err
		}
		return &Huggingface{server: s}, nil
	case workflow.EngineVLLM:
		s, err := newServer(node, deps, vllmVariant)
		if err != nil {
			return nil, err
		}
		return &VLLM{server: s}, nil
	case workflow.EngineLlamaCpp:
		s, err := newServer(node, deps, llamaCppVariant)
		if err != nil {
			return nil, err
		}
		return &LlamaCpp{server: s}, nil
	default:
		return nil, errors.ConfigError("unknown engine kind %q", node.Engine).
			WithDetail(errors.DetailNode, node.ID)
	}
}

// Run initializes e, answers items and shuts e down again. Shutdown runs on
// every path, with a fresh deadline when ctx has already ended.
func Run(ctx context.Context, e Engine, items []Item, grace time.Duration) (results []output.Result, err error) {
	defer func() {
		sctx, cancel := shutdownContext(ctx, grace)
		defer cancel()
		if serr := e.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
	}()
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}
	return e.RunInference(ctx, items)
}

func shutdownContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), grace)
}
