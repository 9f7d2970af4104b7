package process

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	defaultGracePeriod = 10 * time.Second
	tailSize           = 8 << 10
)

// ErrExited is returned by Stop when the process had already exited on its own.
var ErrExited = stderrors.New("process: already exited")

// Handle is a running subprocess started with Start.
type Handle struct {
	cmd   *exec.Cmd
	grace time.Duration
	start time.Time
	tail  *tailBuffer

	done   chan struct{}
	result *Result
	err    error

	stopOnce sync.Once
}

// Start launches cmd in its own process group and returns immediately.
// The process lives until it exits or Stop is called; ctx only bounds the
// launch itself.
func Start(ctx context.Context, cmd Command) (*Handle, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grace := cmd.GracePeriod
	if grace == 0 {
		grace = defaultGracePeriod
	}

	c := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec // dynamic args are the purpose of this package
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	tail := newTailBuffer(tailSize)
	var out io.Writer = tail
	if cmd.Output != nil {
		out = io.MultiWriter(tail, cmd.Output)
	}
	c.Stdout = out
	c.Stderr = out

	// Use process group so we can kill the entire tree
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{cmd: c, grace: grace, tail: tail, done: make(chan struct{})}
	h.start = time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("process: start %s: %w", cmd.Binary, err)
	}

	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.result = &Result{
		ExitCode: h.cmd.ProcessState.ExitCode(),
		Duration: time.Since(h.start),
		Tail:     h.tail.Bytes(),
	}
	if err != nil {
		h.err = fmt.Errorf("process: exit code %d: %w", h.result.ExitCode, err)
	}
	close(h.done)
}

// Pid returns the OS process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tail returns the most recent combined output.
func (h *Handle) Tail() []byte { return h.tail.Bytes() }

// Stop sends SIGTERM to the process group, waits up to the grace period (or
// until ctx ends), then sends SIGKILL. It is safe to call more than once.
func (h *Handle) Stop(ctx context.Context) (*Result, error) {
	var stopErr error
	h.stopOnce.Do(func() {
		if h.Exited() {
			stopErr = ErrExited
			return
		}
		pgid := -h.Pid()
		_ = syscall.Kill(pgid, syscall.SIGTERM)

		wctx, cancel := context.WithTimeout(ctx, h.grace)
		defer cancel()
		_, _ = h.Wait(wctx)
		if h.Exited() {
			return
		}
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-h.done
	})
	if stopErr != nil {
		return h.result, stopErr
	}
	<-h.done
	// a non-zero exit after our own signal is the expected outcome
	return h.result, nil
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	env := os.Environ()
	return append(env, extra...)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}
