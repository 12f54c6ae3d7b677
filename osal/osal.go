// Package osal is the OS abstraction layer: the thin set of system calls
// the core library needs (clock, UUID generation, process execution)
// expressed as an interface so an embedder can substitute a test double or
// a platform-specific implementation without touching the core package.
package osal

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// System is the OSAL contract.
type System interface {
	Now() time.Time
	NewUUID() string
	// Run execs name with args, capturing stdout and stderr separately and
	// reporting the process's exit code. err is non-nil if the process
	// could not be started or exited non-zero; exitCode still reflects the
	// observed code when the process did run.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// Default is the production System backed directly by the standard
// library and google/uuid.
type Default struct{}

// Now returns the current wall-clock time.
func (Default) Now() time.Time { return time.Now() }

// NewUUID returns a random (v4) UUID string.
func (Default) NewUUID() string { return uuid.NewString() }

// Run executes name with args, capturing stdout/stderr into separate
// buffers and reporting the process's exit code.
func (Default) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return outBuf.Bytes(), errBuf.Bytes(), exitCode, runErr
}
