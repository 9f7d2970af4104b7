package parallel

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/engine"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
	"github.com/kbukum/polysome/output"
	"github.com/kbukum/polysome/resilience"
	"github.com/kbukum/polysome/workflow"
)

// EngineFactory builds an engine for one shard.
type EngineFactory func(node workflow.NodeSpec, deps engine.Deps) (engine.Engine, error)

// Shard statuses reported in ShardReport.
const (
	ShardSucceeded = "succeeded"
	ShardFailed    = "failed"
	ShardEmpty     = "empty"
)

// Coordinator runs a node across its shards. The zero value is not usable;
// build one with New.
type Coordinator struct {
	env       *config.Environment
	log       *logger.Logger
	metrics   *observability.Metrics
	newEngine EngineFactory
	backoff   time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEngineFactory replaces engine.New.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *Coordinator) { c.newEngine = f }
}

// WithMetrics records shard metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRetryBackoff sets the delay before the first shard retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Coordinator) { c.backoff = d }
}

// New creates a Coordinator.
func New(env *config.Environment, log *logger.Logger, opts ...Option) *Coordinator {
	if env == nil {
		env = &config.Environment{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	c := &Coordinator{env: env, log: log.WithComponent("parallel"), newEngine: engine.New}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is one node execution.
type Request struct {
	Node       workflow.NodeSpec
	Items      []engine.Item
	Size       int
	PromptsDir string
	// Retries is how many times a shard is retried after an engine load failure.
	Retries  int
	FailFast bool
}

// ShardReport describes how one shard ended.
type ShardReport struct {
	Shard    Shard
	Device   int
	Status   string
	Attempts int
	Err      error
	Duration time.Duration
}

// Outcome is the merged node output.
type Outcome struct {
	// Results are in input order, one per item.
	Results []output.Result
	Shards  []ShardReport
}

// Failed counts error-marked results.
func (o *Outcome) Failed() int {
	_, failed := output.Summary(o.Results)
	return failed
}

// Run partitions req.Items across req.Size shards, runs them concurrently and
// merges the results by index.
//
// With a single shard an engine load failure fails the node. With several
// shards a failed shard's records are marked failed unless req.FailFast is
// set, in which case the first failure cancels the other shards and is
// returned.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Outcome, error) {
	size := req.Size
	if size < 1 {
		size = 1
	}
	shards := Partition(len(req.Items), size)
	devices := make([]int, len(shards))
	for i := range shards {
		d, err := c.env.Device(i)
		if err != nil {
			return nil, errors.ConfigError("no device for shard %d", i).
				WithDetail(errors.DetailNode, req.Node.ID).WithCause(err)
		}
		devices[i] = d
	}
	pinned := size > 1 || len(c.env.VisibleDevices) > 0

	results := make([]output.Result, len(req.Items))
	reports := make([]ShardReport, len(shards))

	log := c.log.WithFields(logger.Fields(logger.FieldNode, req.Node.ID))
	if size > 1 {
		log.Info("data-parallel run", logger.Fields("shards", size, logger.FieldRecords, len(req.Items), logger.FieldDevice, devices))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(shards))
	for i, sh := range shards {
		if sh.Len() == 0 {
			reports[i] = ShardReport{Shard: sh, Device: devices[i], Status: ShardEmpty}
			continue
		}
		g.Go(func() error {
			var dev []int
			if pinned {
				dev = []int{devices[i]}
			}
			rep, err := c.runShard(gctx, req, sh, devices[i], dev, results)
			reports[i] = rep
			if err == nil {
				return nil
			}
			if req.FailFast || size == 1 || errors.IsCode(err, errors.ErrCodeCancelled) {
				return err
			}
			for j := sh.Start; j < sh.End; j++ {
				it := req.Items[j]
				results[j] = output.Failure(it.ID, it.Question, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled("node "+req.Node.ID, err)
	}
	return &Outcome{Results: results, Shards: reports}, nil
}

// runShard runs one shard with retries and writes its results into out.
func (c *Coordinator) runShard(ctx context.Context, req Request, sh Shard, device int, pin []int, out []output.Result) (ShardReport, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanShard)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrNode, req.Node.ID)
	observability.SetSpanAttribute(ctx, observability.AttrShard, sh.Index)
	observability.SetSpanAttribute(ctx, observability.AttrDevice, device)
	observability.SetSpanAttribute(ctx, observability.AttrRecords, sh.Len())

	log := c.log.WithFields(logger.Fields(logger.FieldNode, req.Node.ID, logger.FieldShard, sh.Index, logger.FieldDevice, device))
	c.metrics.RecordShardStart(ctx)
	start := time.Now()
	rep := ShardReport{Shard: sh, Device: device}

	cfg := resilience.EngineLoadRetryConfig(req.Retries)
	if c.backoff > 0 {
		cfg.InitialBackoff = c.backoff
	}
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		log.Warn("retrying shard", logger.Fields("attempt", attempt, "backoff_ms", backoff.Milliseconds(), logger.FieldError, err.Error()))
	}

	items := req.Items[sh.Start:sh.End]
	results, err := resilience.Retry(ctx, cfg, func() ([]output.Result, error) {
		rep.Attempts++
		eng, err := c.newEngine(req.Node, engine.Deps{
			Env:        c.env,
			PromptsDir: req.PromptsDir,
			Devices:    pin,
			Shard:      sh.Index,
			Log:        c.log,
			Metrics:    c.metrics,
		})
		if err != nil {
			return nil, err
		}
		return engine.Run(ctx, eng, items, c.env.ShutdownGrace)
	})
	rep.Duration = time.Since(start)

	if err == nil && len(results) != len(items) {
		err = errors.Internal(fmt.Errorf("shard %d returned %d results for %d records", sh.Index, len(results), len(items)))
	}
	if err != nil {
		if ctx.Err() != nil && !errors.IsCode(err, errors.ErrCodeCancelled) {
			err = errors.Cancelled(fmt.Sprintf("shard %d", sh.Index), ctx.Err())
		}
		appErr := errors.Wrap(err).
			WithDetail(errors.DetailNode, req.Node.ID).
			WithDetail(errors.DetailShard, sh.Index).
			WithDetail(errors.DetailDevice, device)
		rep.Status, rep.Err = ShardFailed, appErr
		observability.SetSpanError(ctx, appErr)
		log.Error("shard failed", logger.Fields("attempts", rep.Attempts, logger.FieldError, errors.Diagnostic(appErr)))
		c.metrics.RecordShardEnd(ctx, req.Node.ID, device, ShardFailed, rep.Duration)
		return rep, appErr
	}

	copy(out[sh.Start:sh.End], results)
	rep.Status = ShardSucceeded
	log.Info("shard finished", logger.Fields(logger.FieldRecords, len(results), logger.FieldDuration, rep.Duration.Milliseconds()))
	c.metrics.RecordShardEnd(ctx, req.Node.ID, device, ShardSucceeded, rep.Duration)
	return rep, nil
}
