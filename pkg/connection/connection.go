// Package connection abstracts the way commands reach a site: directly on
// the local host or through the external ssh/scp binaries. All variants
// share a uniform dry-run mode that logs the command line instead of
// running it and reports synthetic success so the surrounding control flow
// proceeds unchanged.
package connection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"troika/pkg/config"
)

// ConnectionError reports an unreachable target or a connect timeout.
type ConnectionError struct {
	Msg string
}

func (e *ConnectionError) Error() string { return e.Msg }

// RemoteCommandError reports a dispatched command that exited nonzero or
// was terminated by a signal.
type RemoteCommandError struct {
	What   string
	Code   int // exit code, or 128+signal when signaled
	Detail string
}

func (e *RemoteCommandError) Error() string {
	msg := fmt.Sprintf("%s failed with exit code %d", e.What, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// CheckExit converts a nonzero exit code into a RemoteCommandError.
func CheckExit(code int, what string) error {
	if code == 0 {
		return nil
	}
	return &RemoteCommandError{What: what, Code: code}
}

// Command describes one command execution through a connection.
type Command struct {
	Argv []string
	// Stdin defaults to /dev/null when nil.
	Stdin io.Reader
	// Stdout defaults to discard when nil.
	Stdout io.Writer
	// Stderr defaults to the Stdout sink when nil.
	Stderr io.Writer
	// Env adds variables on top of the inherited environment.
	Env map[string]string
	// Detach starts the command in its own session and does not reap it.
	Detach bool
}

// Proc is a handle on a started command.
type Proc interface {
	// PID returns the process id of the spawned child (the ssh client for
	// remote commands). Zero under dry-run.
	PID() int
	// Wait blocks until the command finishes and returns its exit code.
	// The error is non-nil only for infrastructure failures; scheduler
	// protocol errors are derived from the exit code by the caller.
	Wait() (int, error)
}

// Connection executes commands and transfers files on a target host.
type Connection interface {
	// IsLocal reports whether local paths are valid through the connection.
	IsLocal() bool
	// DryRun reports whether the connection suppresses real execution.
	DryRun() bool
	// Execute starts the given command.
	Execute(ctx context.Context, cmd Command) (Proc, error)
	// SendFile copies a local file to the target host.
	SendFile(ctx context.Context, src, dst string) error
	// GetFile copies a file from the target host to a local path.
	GetFile(ctx context.Context, src, dst string) error
	// CheckReachable verifies the connection can run commands. A zero
	// timeout means no limit.
	CheckReachable(ctx context.Context, timeout time.Duration) error
	// User returns the remote user name, if any.
	User() string
}

// Factory builds a connection variant from site configuration.
type Factory func(cfg config.SiteConfig, user string, dryrun bool) (Connection, error)

var registry = map[string]Factory{}

// Register adds a connection variant under its configuration key.
// Built-ins register at process start; duplicates panic.
func Register(name string, f Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("connection %q already registered", name))
	}
	registry[name] = f
}

// New builds the connection named in the site configuration. The user
// argument (from the command line) takes precedence over the configured
// one.
func New(cfg config.SiteConfig, user string, dryrun bool) (Connection, error) {
	f, ok := registry[cfg.Connection]
	if !ok {
		return nil, config.Errorf("unknown connection %q", cfg.Connection)
	}
	return f(cfg, user, dryrun)
}

// Output runs a command to completion, capturing stdout and stderr. The
// exit code is returned alongside; err is non-nil only for infrastructure
// failures.
func Output(ctx context.Context, c Connection, argv []string, stdin io.Reader) (stdout, stderr string, code int, err error) {
	var outBuf, errBuf bytes.Buffer
	proc, err := c.Execute(ctx, Command{Argv: argv, Stdin: stdin, Stdout: &outBuf, Stderr: &errBuf})
	if err != nil {
		return "", "", -1, err
	}
	code, err = proc.Wait()
	return outBuf.String(), errBuf.String(), code, err
}
