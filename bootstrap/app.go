package bootstrap

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/polysome/logger"
)

// App hosts one finite task: start hooks, the task under a signal-cancelled
// context, the summary, then stop hooks.
type App struct {
	Name    string
	Version string
	Logger  *logger.Logger
	Summary *Summary

	gracefulTimeout time.Duration
	out             io.Writer
	signals         []os.Signal

	onStart []Hook
	onStop  []Hook
}

// NewApp creates an App. Without WithLogger it logs nowhere.
func NewApp(name, version string, opts ...Option) *App {
	o := resolveOptions(opts)
	app := &App{
		Name:            name,
		Version:         version,
		Logger:          o.logger,
		Summary:         NewSummary(name, version),
		gracefulTimeout: 15 * time.Second,
		out:             o.out,
		signals:         o.signals,
	}
	if app.Logger == nil {
		app.Logger = logger.NewNop()
	}
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}
	if app.out == nil {
		app.out = os.Stdout
	}
	if len(app.signals) == 0 {
		app.signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return app
}

// RunTask runs the start hooks, then task. A signal cancels the task's
// context; the task is expected to return promptly once it is done. The
// summary is printed when it has entries, and the stop hooks always run.
// The task's error wins over a stop hook error.
func (a *App) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	start := time.Now()
	a.Logger.Info("Starting "+a.Name, map[string]interface{}{
		"version": a.Version,
	})

	if err := runHooks(ctx, a.onStart); err != nil {
		a.Logger.Error("start hook failed", map[string]interface{}{"error": err.Error()})
		_ = a.stop()
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, a.signals...)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			a.Logger.Warn("Received signal, canceling task", map[string]interface{}{
				"signal": sig.String(),
			})
			cancel()
		case <-taskCtx.Done():
		}
	}()

	taskErr := task(taskCtx)

	a.Summary.SetDuration(time.Since(start))
	if !a.Summary.Empty() {
		a.Summary.Render(a.out)
	}

	if stopErr := a.stop(); stopErr != nil && taskErr == nil {
		return stopErr
	}
	return taskErr
}

// stop runs the stop hooks under a fresh context bounded by the graceful timeout.
func (a *App) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	if err := runStopHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("Shutdown completed with errors", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	a.Logger.Debug("Shutdown complete")
	return nil
}
