// Command polysome runs one workflow and exits 0 only when every node
// succeeded and the outputs passed validation.
//
// Usage:
//
//	polysome [flags] [workflow.json]
//
// The workflow path falls back to $WORKFLOW_PATH, then /workflows/default.json.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/kbukum/polysome/bootstrap"
	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/logger"
	"github.com/kbukum/polysome/observability"
	"github.com/kbukum/polysome/runctx"
	"github.com/kbukum/polysome/scheduler"
	"github.com/kbukum/polysome/storage"
	"github.com/kbukum/polysome/validate"
	"github.com/kbukum/polysome/version"
	"github.com/kbukum/polysome/workflow"

	_ "github.com/kbukum/polysome/storage/local"
	_ "github.com/kbukum/polysome/storage/s3"
)

const defaultWorkflowPath = "/workflows/default.json"

type cliOptions struct {
	workflow      string
	criteria      string
	validateFirst bool
	configFile    string
	envFile       string
	showVersion   bool
	flags         *pflag.FlagSet
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the process exit. It returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if stderrors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, errors.Diagnostic(err))
		return errors.ExitCode(err)
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version.Get().String())
		return 0
	}

	err = execute(ctx, opts, stdout)
	if err != nil {
		fmt.Fprintln(stderr, errors.Diagnostic(err))
	}
	return errors.ExitCode(err)
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := pflag.NewFlagSet("polysome", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.workflow, "workflow", "w", "", "workflow source (.json, .yaml)")
	fs.StringVar(&opts.criteria, "criteria", "", "validation criteria file checked after the run")
	fs.BoolVar(&opts.validateFirst, "validate-first", true, "check every node's params before running anything")
	fs.StringVar(&opts.configFile, "config", "", "environment config file (default: search ./polysome.yml)")
	fs.StringVar(&opts.envFile, "env-file", "", ".env file to load (default: search ./.env)")
	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	config.BindFlags(fs)

	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errors.ConfigError("invalid command line").WithCause(err)
	}
	switch {
	case fs.NArg() > 1:
		return nil, errors.ConfigError("expected at most one workflow path, got %d", fs.NArg())
	case fs.NArg() == 1 && opts.workflow != "":
		return nil, errors.ConfigError("workflow given both as --workflow and as an argument")
	case fs.NArg() == 1:
		opts.workflow = fs.Arg(0)
	}
	if opts.workflow == "" {
		opts.workflow = os.Getenv("WORKFLOW_PATH")
	}
	if opts.workflow == "" {
		opts.workflow = defaultWorkflowPath
	}
	opts.flags = fs
	return opts, nil
}

// execute loads everything a run needs, then hands the scheduler to the
// bootstrap app so signals cancel it and telemetry is flushed on every path.
func execute(ctx context.Context, opts *cliOptions, stdout io.Writer) error {
	env, err := config.LoadEnvironment(
		config.WithConfigFile(opts.configFile),
		config.WithEnvFile(opts.envFile),
		config.WithFlags(opts.flags),
	)
	if err != nil {
		return err
	}

	spec, err := workflow.Load(opts.workflow)
	if err != nil {
		return err
	}
	spec = spec.ResolvePaths(workflow.OverridesFrom(env))

	var criteria *validate.Criteria
	if opts.criteria != "" {
		if criteria, err = validate.LoadCriteria(opts.criteria); err != nil {
			return err
		}
	}

	info := version.Get()
	obs := env.Observability
	obs.ServiceVersion = info.Short()
	bootLog := logger.New(&env.Logging, config.AppName)
	tel, err := observability.Setup(ctx, obs, bootLog)
	if err != nil {
		return errors.ConfigError("cannot set up telemetry").WithCause(err)
	}

	rc, err := runctx.New(spec.Name, env.ResolveLogDir(spec.OutputDir), env, runctx.WithMetrics(tel.Metrics))
	if err != nil {
		_ = tel.Shutdown(ctx)
		return err
	}

	app := bootstrap.NewApp(config.AppName, info.Short(),
		bootstrap.WithLogger(rc.Logger().WithComponent("cli")),
		bootstrap.WithGracefulTimeout(env.ShutdownGrace),
		bootstrap.WithOutput(stdout),
	)
	// stop hooks run in reverse: telemetry flushes before the run log closes
	app.OnStop(func(context.Context) error { return rc.Close() })
	app.OnStop(tel.Shutdown)

	sopts := scheduler.Options{
		ValidateFirst:  opts.validateFirst,
		Criteria:       criteria,
		ArtifactPrefix: env.Artifacts.Prefix,
	}
	app.OnStart(func(ctx context.Context) error {
		if !env.Artifacts.Enabled() {
			return nil
		}
		store, err := storage.New(ctx, env.Artifacts, rc.Logger())
		if err != nil {
			return errors.ConfigError("cannot open artifact storage").WithCause(err)
		}
		sopts.Artifacts = store
		return nil
	})

	return app.RunTask(ctx, func(ctx context.Context) error {
		sched, err := scheduler.New(spec, rc, sopts)
		if err != nil {
			return err
		}
		rc.Logger().Info("workflow starting", logger.Fields(
			"workflow_path", opts.workflow,
			"nodes", len(spec.Nodes),
			"log_file", rc.LogFile(),
		))
		report, err := sched.Run(ctx)
		summarize(app.Summary, report)
		return err
	})
}
