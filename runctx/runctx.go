// Package runctx holds the run-scoped state every stage of a workflow
// execution shares: run identity, log directory, the run logger, and the
// environment. A RunContext is created once per execution and never mutated.
package runctx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
)

// LogTimeLayout is the timestamp layout used in run log file names.
const LogTimeLayout = "20060102_150405"

// RunContext is shared read-only by the scheduler, engines and shard workers.
type RunContext struct {
	runID        string
	workflowName string
	logDir       string
	logFile      string
	startedAt    time.Time

	env     *config.Environment
	log     *logger.Logger
	metrics *observability.Metrics

	closer io.Closer
}

// Option configures New.
type Option func(*options)

type options struct {
	now      func() time.Time
	metrics  *observability.Metrics
	noFile   bool
	consoleW io.Writer
}

// WithClock overrides the start time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics attaches metric instruments shared by every stage.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithoutLogFile skips creating the run log file.
func WithoutLogFile() Option {
	return func(o *options) { o.noFile = true }
}

// WithConsole replaces the console writer with w (JSON lines). Used by tests.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.consoleW = w }
}

// New creates the RunContext for one execution of workflowName. The run log
// is written to <logDir>/<workflow>_<YYYYmmdd_HHMMSS>.log alongside the
// console output.
func New(workflowName, logDir string, env *config.Environment, opts ...Option) (*RunContext, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if env == nil {
		env = &config.Environment{}
	}

	rc := &RunContext{
		runID:        uuid.NewString(),
		workflowName: workflowName,
		logDir:       logDir,
		startedAt:    o.now(),
		env:          env,
		metrics:      o.metrics,
	}

	var sinks []io.Writer
	if !o.noFile {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, errors.ConfigError("cannot create log directory").
				WithCause(err).WithDetail(errors.DetailPath, logDir)
		}
		name := fmt.Sprintf("%s_%s.log", safeName(workflowName), rc.startedAt.Format(LogTimeLayout))
		rc.logFile = filepath.Join(logDir, name)
		f, err := os.OpenFile(rc.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.ConfigError("cannot open run log").
				WithCause(err).WithDetail(errors.DetailPath, rc.logFile)
		}
		rc.closer = f
		sinks = append(sinks, f)
	}

	cfg := env.Logging
	cfg.ApplyDefaults()
	var base *logger.Logger
	if o.consoleW != nil {
		base = logger.NewWriter(io.MultiWriter(append([]io.Writer{o.consoleW}, sinks...)...), cfg.Level)
	} else {
		base = logger.NewWithSinks(&cfg, config.AppName, sinks...)
	}
	rc.log = base.WithFields(map[string]interface{}{
		logger.FieldWorkflow: workflowName,
		logger.FieldRunID:    rc.runID,
	})
	return rc, nil
}

// RunID is the unique id of this execution.
func (rc *RunContext) RunID() string { return rc.runID }

// WorkflowName is the name of the workflow being executed.
func (rc *RunContext) WorkflowName() string { return rc.workflowName }

// LogDir is the directory holding the run log.
func (rc *RunContext) LogDir() string { return rc.logDir }

// LogFile is the run log path, empty when no file was created.
func (rc *RunContext) LogFile() string { return rc.logFile }

// StartedAt is when the run began.
func (rc *RunContext) StartedAt() time.Time { return rc.startedAt }

// Env is the run environment.
func (rc *RunContext) Env() *config.Environment { return rc.env }

// Logger returns the run logger tagged with workflow and run id.
func (rc *RunContext) Logger() *logger.Logger { return rc.log }

// Metrics returns the shared metric instruments. May be nil.
func (rc *RunContext) Metrics() *observability.Metrics { return rc.metrics }

// Close flushes and closes the run log file.
func (rc *RunContext) Close() error {
	if rc.closer == nil {
		return nil
	}
	return rc.closer.Close()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	if s == "" {
		return "workflow"
	}
	return s
}
