package process

import "time"

// Result holds the status of an exited subprocess.
type Result struct {
	// ExitCode is the process exit code. -1 if the process was killed by a signal.
	ExitCode int
	// Duration is how long the process ran.
	Duration time.Duration
	// Tail is the last few KiB of combined stdout and stderr.
	Tail []byte
}
