package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/llm"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
	"github.com/kbukum/polysome/output"
	"github.com/kbukum/polysome/process"
	"github.com/kbukum/polysome/provider"
	"github.com/kbukum/polysome/resilience"
	"github.com/kbukum/polysome/workflow"

	// transports resolved by name through llm.New
	_ "github.com/kbukum/polysome/llm/ollama"
	_ "github.com/kbukum/polysome/llm/openai"
)

type completer = provider.RequestResponse[llm.CompletionRequest, *llm.CompletionResponse]

// server implements the Engine lifecycle on top of an optional serving
// subprocess and an llm transport.
type server struct {
	variant  variant
	node     workflow.NodeSpec
	params   Params
	env      *config.Environment
	devices  []int
	shard    int
	failFast bool
	prompt   *template.Template
	log      *logger.Logger
	metrics  *observability.Metrics

	mu     sync.Mutex
	proc   *process.Handle
	client llm.Provider
	rr     completer
}

func newServer(node workflow.NodeSpec, deps Deps, v variant) (*server, error) {
	params, err := DecodeParams(node.Params)
	if err != nil {
		return nil, errors.ConfigError("invalid engine params").
			WithDetail(errors.DetailNode, node.ID).WithCause(err)
	}
	params.applyDefaults(v)
	if params.ModelName == "" {
		return nil, errors.ConfigError("%s is required", workflow.ParamModelName).
			WithDetail(errors.DetailNode, node.ID)
	}

	failFast, err := node.Bool(workflow.ParamFailFast, deps.Env.FailFast)
	if err != nil {
		return nil, errors.ConfigError("%s must be a boolean", workflow.ParamFailFast).
			WithDetail(errors.DetailNode, node.ID)
	}

	prompt, err := loadPrompt(deps.PromptsDir, params.PromptFile)
	if err != nil {
		return nil, errors.ConfigError("cannot load prompt").
			WithDetail(errors.DetailNode, node.ID).
			WithDetail(errors.DetailPath, params.PromptFile).WithCause(err)
	}

	devices := append([]int(nil), deps.Devices...)
	if v.maxDevices > 0 && len(devices) > v.maxDevices {
		devices = devices[:v.maxDevices]
	}

	fields := logger.Fields(logger.FieldNode, node.ID, logger.FieldEngine, string(v.kind))
	if len(devices) > 0 {
		fields[logger.FieldDevice] = devices
		fields[logger.FieldShard] = deps.Shard
	}
	return &server{
		variant:  v,
		node:     node,
		params:   params,
		env:      deps.Env,
		devices:  devices,
		shard:    deps.Shard,
		failFast: failFast,
		prompt:   prompt,
		log:      deps.Log.WithComponent("engine").WithFields(fields),
		metrics:  deps.Metrics,
	}, nil
}

// Kind reports the backend variant.
func (s *server) Kind() workflow.EngineKind { return s.variant.kind }

// FailFast reports whether one failed item aborts the batch.
func (s *server) FailFast() bool { return s.failFast }

// Devices returns the physical devices this instance is pinned to.
func (s *server) Devices() []int { return append([]int(nil), s.devices...) }

// Initialize launches the server when this engine owns one, connects the
// transport and waits until the backend answers.
func (s *server) Initialize(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, observability.SpanEngineInit)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrNode, s.node.ID)
	observability.SetSpanAttribute(ctx, observability.AttrEngine, string(s.variant.kind))
	observability.SetSpanAttribute(ctx, observability.AttrDevice, s.devices)

	start := time.Now()
	err := s.initialize(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		observability.SetSpanError(ctx, err)
		s.log.Error("engine failed to load", logger.ErrorFields("initialize", err))
		s.release(ctx)
	} else {
		s.log.Info("engine ready", logger.DurationFields("initialize", time.Since(start)))
	}
	s.metrics.RecordEngineLoad(ctx, string(s.variant.kind), status)
	return err
}

func (s *server) initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rr != nil {
		return nil
	}
	kind := string(s.variant.kind)

	baseURL := s.params.BaseURL
	launch := len(s.params.ServerCommand) > 0 || baseURL == ""
	port := s.params.Port + s.shard
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	}

	if launch {
		if filepath.IsAbs(s.params.ModelName) {
			if _, err := os.Stat(s.params.ModelName); err != nil {
				return s.loadError(fmt.Errorf("model weights: %w", err))
			}
		}
		cmd := s.command(port)
		s.log.Info("launching server", logger.Fields("command", cmd.String()))
		h, err := process.Start(ctx, cmd)
		if err != nil {
			return s.loadError(err)
		}
		s.proc = h
		s.log.Info("server started", logger.Fields("pid", h.Pid()))
	}

	raw := make(map[string]any, len(s.node.Params)+2)
	for k, v := range s.node.Params {
		raw[k] = v
	}
	raw["base_url"] = baseURL
	raw["model"] = s.params.ModelName
	client, err := llm.New(s.params.Transport, raw)
	if err != nil {
		return s.loadError(err)
	}
	// the transport is owned by s only once the backend is ready
	defer func() {
		if s.client != client {
			_ = provider.Close(context.WithoutCancel(ctx), client)
		}
	}()
	if err := provider.Init(ctx, client); err != nil {
		return s.loadError(err)
	}

	wctx, cancel := context.WithTimeout(ctx, s.params.StartupTimeout)
	defer cancel()
	err = resilience.PollUntil(wctx, s.params.PollInterval, func(ctx context.Context) (bool, error) {
		if s.proc != nil && s.proc.Exited() {
			return false, fmt.Errorf("server exited during startup: %s", tailLine(s.proc.Tail()))
		}
		return client.IsAvailable(ctx), nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled(kind+" initialize", ctx.Err())
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("server not ready after %s at %s", s.params.StartupTimeout, baseURL)
		}
		return s.loadError(err)
	}

	s.client = client
	s.rr = provider.Chain(
		provider.WithLogging[llm.CompletionRequest, *llm.CompletionResponse](s.log),
		provider.WithMetrics[llm.CompletionRequest, *llm.CompletionResponse](s.metrics, "engine."+kind),
		provider.WithTracing[llm.CompletionRequest, *llm.CompletionResponse](observability.SpanEngineInfer, kind),
	)(llm.AsRequestResponse(client))
	return nil
}

func (s *server) command(port int) process.Command {
	argv := s.params.ServerCommand
	if len(argv) == 0 {
		argv = s.variant.command(s.params.ModelName, port)
	}
	args := append(append([]string(nil), argv[1:]...), s.params.ServerArgs...)
	cmd := process.Command{
		Binary:      argv[0],
		Args:        args,
		GracePeriod: s.env.ShutdownGrace,
	}
	if s.variant.env != nil {
		cmd.Env = s.variant.env(s)
	}
	if len(s.devices) > 0 {
		cmd = cmd.WithDevices(s.devices...)
	}
	return cmd
}

func (s *server) loadError(err error) error {
	e := errors.EngineLoadError(string(s.variant.kind), err).WithDetail(errors.DetailNode, s.node.ID)
	if len(s.devices) > 0 {
		e = e.WithDetail(errors.DetailDevice, s.devices).WithDetail(errors.DetailShard, s.shard)
	}
	return e
}

// RunInference answers items in input order. Requests run with the variant's
// concurrency; results are placed by index.
func (s *server) RunInference(ctx context.Context, items []Item) ([]output.Result, error) {
	s.mu.Lock()
	rr := s.rr
	s.mu.Unlock()
	if rr == nil {
		return nil, errors.Internal(fmt.Errorf("%s engine used before Initialize", s.variant.kind))
	}

	results := make([]output.Result, len(items))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.MaxConcurrency)
	for i := range items {
		it := items[i]
		if it.Err != "" {
			results[i] = output.Result{ID: it.ID, Question: it.Question, Error: it.Err}
			failed.Add(1)
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			answer, err := s.infer(gctx, rr, it)
			if err == nil {
				results[i] = output.Result{ID: it.ID, Question: it.Question, Answer: answer}
				return nil
			}
			if cerr := gctx.Err(); cerr != nil {
				return errors.Cancelled(string(s.variant.kind)+" inference", cerr)
			}
			ierr := errors.InferenceError(string(s.variant.kind), err).
				WithDetail(errors.DetailNode, s.node.ID).
				WithDetail(errors.DetailCaseID, it.ID)
			if s.failFast {
				return ierr
			}
			s.log.Warn("inference failed for record", logger.MergeWithError(logger.Fields(logger.FieldCaseID, it.ID), err))
			results[i] = output.Failure(it.ID, it.Question, ierr)
			failed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(string(s.variant.kind)+" inference", err)
	}

	if n := failed.Load(); n > 0 {
		s.log.Warn("batch finished with failed records", logger.Fields(logger.FieldRecords, len(items), "failed", n))
	}
	return results, nil
}

func (s *server) infer(ctx context.Context, rr completer, it Item) (string, error) {
	prompt, err := s.render(it)
	if err != nil {
		return "", err
	}
	resp, err := rr.Execute(ctx, llm.CompletionRequest{
		SystemPrompt: s.params.SystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", fmt.Errorf("backend returned an empty answer")
	}
	return answer, nil
}

// Shutdown stops the server process, if any, and closes the transport.
func (s *server) Shutdown(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, observability.SpanEngineShutdown)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrEngine, string(s.variant.kind))
	err := s.release(ctx)
	if err != nil {
		observability.SetSpanError(ctx, err)
	}
	return err
}

func (s *server) release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.client != nil {
		errs = append(errs, provider.Close(ctx, s.client))
		s.client = nil
	}
	s.rr = nil
	if s.proc != nil {
		res, err := s.proc.Stop(ctx)
		if err != nil && !stderrors.Is(err, process.ErrExited) {
			errs = append(errs, err)
		}
		if res != nil {
			s.log.Info("server stopped", logger.MergeWithDuration(logger.Fields("exit_code", res.ExitCode), res.Duration))
		}
		s.proc = nil
	}
	return stderrors.Join(errs...)
}

func tailLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return s
}
