package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/kbukum/polysome/dag"
	"github.com/kbukum/polysome/data"
	"github.com/kbukum/polysome/engine"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
	"github.com/kbukum/polysome/output"
	"github.com/kbukum/polysome/parallel"
	"github.com/kbukum/polysome/runctx"
	"github.com/kbukum/polysome/storage"
	"github.com/kbukum/polysome/validate"
	"github.com/kbukum/polysome/workflow"
)

// DefaultQuestionField holds the question text in input records.
const DefaultQuestionField = "text"

// Options configure a Scheduler.
type Options struct {
	// ValidateFirst checks every node's params before anything runs.
	ValidateFirst bool
	// Criteria, when set, validate the written outputs after the run.
	Criteria *validate.Criteria
	// Artifacts, when set, receives a copy of the output dir after the run,
	// under <ArtifactPrefix>/<workflow>/<run id>.
	Artifacts      storage.Storage
	ArtifactPrefix string
	// Parallel configures the shard coordinator.
	Parallel []parallel.Option
}

// Scheduler runs one workflow. Build it with New; a Scheduler runs once.
type Scheduler struct {
	spec  *workflow.Spec
	rc    *runctx.RunContext
	opts  Options
	coord *parallel.Coordinator
	log   *logger.Logger

	mu       sync.Mutex
	datasets map[string]*data.Dataset
	started  map[string]time.Time
}

// New validates spec and prepares a Scheduler. spec should already carry
// the run's resolved paths.
func New(spec *workflow.Spec, rc *runctx.RunContext, opts Options) (*Scheduler, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	log := rc.Logger().WithComponent("scheduler")
	popts := append([]parallel.Option{parallel.WithMetrics(rc.Metrics())}, opts.Parallel...)
	return &Scheduler{
		spec:     spec,
		rc:       rc,
		opts:     opts,
		coord:    parallel.New(rc.Env(), rc.Logger(), popts...),
		log:      log,
		datasets: make(map[string]*data.Dataset),
		started:  make(map[string]time.Time),
	}, nil
}

// Run executes every node and returns the run report. The error is nil only
// when every node SUCCEEDED and the outputs passed validation. A
// validate-first failure returns a CONFIG_ERROR and no report.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	env := s.rc.Env()
	if env.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.Timeout)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanWorkflow)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrWorkflow, s.spec.Name)
	observability.SetSpanAttribute(ctx, observability.AttrRunID, s.rc.RunID())

	if s.opts.ValidateFirst {
		if err := s.spec.CheckNodes(env); err != nil {
			s.log.Error("workflow failed validation", logger.Fields(logger.FieldError, errors.Diagnostic(err)))
			observability.SetSpanError(ctx, err)
			return nil, err
		}
		s.log.Info("workflow validated", logger.Fields("nodes", len(s.spec.Nodes)))
	}

	state := dag.NewState()
	g := s.spec.Graph(func(n workflow.NodeSpec) dag.Node {
		return dag.WithLogging(&nodeRunner{s: s, node: n}, s.log)
	})
	order, err := dag.TopologicalOrder(g)
	if err != nil {
		return nil, errors.ConfigError("cannot order workflow nodes").WithCause(err)
	}
	s.log.Info("workflow started", logger.Fields("nodes", len(s.spec.Nodes), "order", order, logger.FieldPath, s.spec.OutputDir))

	eng := &dag.Engine{MaxParallel: 1, OnStart: s.onStart, OnFinish: s.onFinish}
	res, err := eng.Execute(ctx, g, state)
	if err != nil {
		return nil, errors.ConfigError("cannot order workflow nodes").WithCause(err)
	}
	for _, st := range []dag.Status{dag.StatusFailed, dag.StatusSkipped, dag.StatusPartial} {
		if names := res.WithStatus(st); len(names) > 0 {
			s.log.Warn("nodes did not succeed", logger.Fields(logger.FieldStatus, string(st), "nodes", names))
		}
	}

	report := s.report(res)

	var validationErr error
	if s.opts.Criteria != nil {
		report.Validation, validationErr = validate.ValidateAll(ctx, s.opts.Criteria, s.spec.OutputDir, s.rc.Logger())
	}
	report.decide(validationErr)
	s.mirror(ctx, report)

	fields := logger.Fields(logger.FieldStatus, string(report.Status), logger.FieldDuration, report.Duration.Milliseconds())
	if report.err != nil {
		fields[logger.FieldError] = errors.Diagnostic(report.err)
		s.log.Error("workflow failed", fields)
		observability.SetSpanError(ctx, report.err)
	} else {
		s.log.Info("workflow succeeded", fields)
	}
	return report, report.err
}

func (s *Scheduler) report(res *dag.Result) *Report {
	report := &Report{
		Workflow: s.spec.Name,
		RunID:    s.rc.RunID(),
		Duration: res.Duration,
	}
	for _, n := range s.spec.Nodes {
		nr := res.NodeResults[n.ID]
		rep := NodeReport{
			ID:        n.ID,
			Engine:    n.Engine,
			Status:    nr.Status,
			Duration:  nr.Duration,
			Err:       normalizeError(n.ID, nr.Error),
			BlockedBy: nr.BlockedBy,
			StartedAt: s.startedAt(n.ID),
		}
		if out, ok := nr.Output.(*NodeOutput); ok && out != nil {
			rep.Output = out.Path
			rep.Records = len(out.Results)
			rep.Failed = out.Failed
			rep.Shards = out.Shards
		}
		report.Nodes = append(report.Nodes, rep)
	}
	return report
}

func (s *Scheduler) startedAt(node string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started[node]
}

func normalizeError(node string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsAppError(err) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Cancelled("node "+node, err).WithDetail(errors.DetailNode, node)
	}
	return errors.Internal(err).WithDetail(errors.DetailNode, node)
}

func (s *Scheduler) onStart(_ context.Context, name string) {
	s.mu.Lock()
	s.started[name] = time.Now()
	s.mu.Unlock()
	s.log.Info("node state", logger.Fields(logger.FieldNode, name, logger.FieldStatus, string(dag.StatusRunning)))
}

func (s *Scheduler) onFinish(_ context.Context, nr dag.NodeResult) {
	if nr.Status == dag.StatusSkipped {
		s.log.Warn("node skipped", logger.Fields(logger.FieldNode, nr.Name, logger.FieldStatus, string(nr.Status), "blocked_by", nr.BlockedBy))
		return
	}
	s.log.Info("node state", logger.Fields(logger.FieldNode, nr.Name, logger.FieldStatus, string(nr.Status)))
}

// mirror publishes the output dir to the artifact store. Failures are logged
// and kept on the report.
func (s *Scheduler) mirror(ctx context.Context, report *Report) {
	if s.opts.Artifacts == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	prefix := path.Join(s.opts.ArtifactPrefix, s.spec.Name, s.rc.RunID())
	keys, err := storage.MirrorDir(ctx, s.opts.Artifacts, s.spec.OutputDir, prefix)
	if err != nil {
		report.MirrorErr = err
		s.log.Warn("artifact mirror failed", logger.Fields(logger.FieldError, err.Error()))
		return
	}
	s.log.Info("artifacts mirrored", logger.Fields("files", len(keys), "prefix", prefix))
}

// NodeOutput is what a node leaves in the run state for its dependents.
type NodeOutput struct {
	Path    string
	Results []output.Result
	Failed  int
	Shards  []parallel.ShardReport
}

// Partial marks the node PARTIAL when any record failed.
func (o *NodeOutput) Partial() bool { return o.Failed > 0 }

func portFor(node string) dag.Port[*NodeOutput] {
	return dag.Port[*NodeOutput]{Key: "node/" + node}
}

type nodeRunner struct {
	s    *Scheduler
	node workflow.NodeSpec
}

func (r *nodeRunner) Name() string { return r.node.ID }

func (r *nodeRunner) Run(ctx context.Context, state *dag.State) (any, error) {
	oc := observability.NewOperationContext(r.s.spec.Name, r.s.rc.RunID(), r.node.ID, string(r.node.Engine), r.s.rc.Metrics())
	ctx, span := oc.StartSpanForOperation(ctx, observability.SpanNode)
	out, err := r.run(ctx, state)
	status := dag.StatusSucceeded
	switch {
	case err != nil:
		status = dag.StatusFailed
	case out.Partial():
		status = dag.StatusPartial
	}
	oc.EndOperation(ctx, span, string(status), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *nodeRunner) run(ctx context.Context, state *dag.State) (*NodeOutput, error) {
	n := r.node
	env := r.s.rc.Env()

	size, err := n.DataParallelSize()
	if err != nil || size < 1 {
		return nil, errors.ConfigError("%s must be a positive integer", workflow.ParamDataParallelSize).
			WithDetail(errors.DetailNode, n.ID)
	}
	if size > 1 && !n.Engine.SupportsDataParallel() {
		return nil, errors.ConfigError("engine %s does not support data-parallel execution", n.Engine).
			WithDetail(errors.DetailNode, n.ID)
	}
	if size > 1 && !env.DataParallelEnabled {
		return nil, errors.ConfigError("data-parallel execution is not enabled in the environment").
			WithDetail(errors.DetailNode, n.ID)
	}
	retries, err := n.Int(workflow.ParamShardRetries, 1)
	if err != nil {
		return nil, errors.ConfigError("%s must be an integer", workflow.ParamShardRetries).
			WithDetail(errors.DetailNode, n.ID)
	}
	failFast, err := n.Bool(workflow.ParamFailFast, env.FailFast)
	if err != nil {
		return nil, errors.ConfigError("%s must be a boolean", workflow.ParamFailFast).
			WithDetail(errors.DetailNode, n.ID)
	}

	items, err := r.s.input(ctx, n, state)
	if err != nil {
		return nil, err
	}

	outcome, err := r.s.coord.Run(ctx, parallel.Request{
		Node:       n,
		Items:      items,
		Size:       size,
		PromptsDir: r.s.spec.PromptsDir,
		Retries:    retries,
		FailFast:   failFast,
	})
	if err != nil {
		return nil, err
	}

	path := r.s.spec.OutputPath(n)
	if err := output.Write(ctx, path, outcome.Results); err != nil {
		return nil, err
	}
	ok, failed := output.Summary(outcome.Results)
	r.s.rc.Metrics().RecordRecords(ctx, n.ID, ok, failed)
	r.s.log.Info("node output written", logger.Fields(logger.FieldNode, n.ID, logger.FieldPath, path,
		logger.FieldRecords, len(outcome.Results), "failed", failed))

	out := &NodeOutput{Path: path, Results: outcome.Results, Failed: failed, Shards: outcome.Shards}
	dag.Write(state, portFor(n.ID), out)
	return out, nil
}

// input builds the node's items: records from the data dir for root nodes,
// the upstream node's results otherwise.
func (s *Scheduler) input(ctx context.Context, n workflow.NodeSpec, state *dag.State) ([]engine.Item, error) {
	field := n.String(workflow.ParamQuestionField, DefaultQuestionField)

	if from := n.InputFrom(); from != "" {
		up, err := dag.Read(state, portFor(from))
		if err != nil {
			return nil, errors.Internal(err).WithDetail(errors.DetailNode, n.ID)
		}
		items := make([]engine.Item, len(up.Results))
		for i, res := range up.Results {
			fields := map[string]any{"id": res.ID, "question": res.Question, "answer": res.Answer}
			question := res.Question
			if v, ok := fields[field]; ok {
				question = fmt.Sprint(v)
			}
			items[i] = engine.Item{ID: res.ID, Question: question, Fields: fields, Err: res.Error}
		}
		return items, nil
	}

	ds, err := s.dataset(ctx, n)
	if err != nil {
		return nil, err
	}
	items := make([]engine.Item, len(ds.Records))
	for i, rec := range ds.Records {
		it := engine.Item{ID: rec.CaseID, Question: rec.Field(field), Fields: rec.Fields}
		if it.Question == "" {
			it.Err = errors.Diagnostic(errors.DataError("record has no %s", field).
				WithDetail(errors.DetailCaseID, rec.CaseID))
		}
		items[i] = it
	}
	return items, nil
}

// dataset loads, once per input file and id field, the records a root node reads.
func (s *Scheduler) dataset(ctx context.Context, n workflow.NodeSpec) (*data.Dataset, error) {
	opts := data.Options{
		File:    n.String(workflow.ParamInputFile, ""),
		IDField: n.String(workflow.ParamIDField, ""),
		Strict:  s.rc.Env().StrictInput,
	}
	key := opts.File + "\x00" + opts.IDField

	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[key]; ok {
		return ds, nil
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanLoadInput)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrNode, n.ID)
	start := time.Now()
	ds, err := data.LoadInputData(ctx, s.spec.DataDir, opts)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return nil, errors.Wrap(err).WithDetail(errors.DetailNode, n.ID)
	}
	observability.SetSpanAttribute(ctx, observability.AttrRecords, ds.Len())
	if dups := ds.DuplicateIDs(); len(dups) > 0 {
		s.log.Warn("duplicate case ids in input, first occurrence kept", logger.Fields(
			logger.FieldPath, ds.Source, "duplicates", dups))
	}
	s.log.Info("input loaded", logger.Fields(logger.FieldNode, n.ID, logger.FieldPath, ds.Source,
		logger.FieldRecords, ds.Len(), logger.FieldDuration, time.Since(start).Milliseconds()))
	s.datasets[key] = ds
	return ds, nil
}
