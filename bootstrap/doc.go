// Package bootstrap runs a finite task with signal-driven cancellation,
// lifecycle hooks and a closing summary.
//
// # Quick Start
//
//	app := bootstrap.NewApp("polysome", version.Version,
//	    bootstrap.WithLogger(log),
//	    bootstrap.WithGracefulTimeout(30*time.Second),
//	)
//	app.OnStop(func(ctx context.Context) error { return telemetry.Shutdown(ctx) })
//	err := app.RunTask(ctx, func(ctx context.Context) error {
//	    return run(ctx)
//	})
//
// SIGINT and SIGTERM cancel the task context. Stop hooks always run, under a
// fresh context bounded by the graceful timeout, so they can flush even when
// the task was interrupted.
package bootstrap
