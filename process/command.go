package process

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DeviceEnvVar is the variable that restricts a child to specific GPUs.
const DeviceEnvVar = "CUDA_VISIBLE_DEVICES"

// Command configures a subprocess to execute.
type Command struct {
	// Binary is the executable path or name (resolved via PATH).
	Binary string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory. If empty, uses the current directory.
	Dir string
	// Env is additional environment variables (key=value). Merged with os.Environ;
	// later entries win.
	Env []string
	// Stdin provides input to the process. May be nil.
	Stdin io.Reader
	// Output, if set, receives stdout and stderr as they are produced.
	Output io.Writer
	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	// Defaults to 10 seconds if zero.
	GracePeriod time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// WithDevices returns a copy of c pinned to the given physical devices.
func (c Command) WithDevices(devices ...int) Command {
	env := make([]string, 0, len(c.Env)+1)
	env = append(env, c.Env...)
	env = append(env, DeviceEnv(devices...))
	c.Env = env
	return c
}

// DeviceEnv renders CUDA_VISIBLE_DEVICES for the given device ids.
func DeviceEnv(devices ...int) string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("%s=%s", DeviceEnvVar, strings.Join(ids, ","))
}
