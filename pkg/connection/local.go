package connection

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"troika/pkg/config"
)

func init() {
	Register("local", func(cfg config.SiteConfig, user string, dryrun bool) (Connection, error) {
		return NewLocal(user, dryrun), nil
	})
}

// Local runs commands as child processes on the local host.
type Local struct {
	user   string
	dryrun bool
}

func NewLocal(user string, dryrun bool) *Local {
	return &Local{user: user, dryrun: dryrun}
}

func (l *Local) IsLocal() bool { return true }

func (l *Local) DryRun() bool { return l.dryrun }

func (l *Local) User() string { return l.user }

func (l *Local) Execute(ctx context.Context, cmd Command) (Proc, error) {
	if l.dryrun {
		zap.L().Info("dry-run: execute", zap.String("command", strings.Join(cmd.Argv, " ")))
		return dryProc{}, nil
	}
	zap.L().Debug("executing", zap.String("command", strings.Join(cmd.Argv, " ")))

	var c *exec.Cmd
	if cmd.Detach {
		// the child must outlive the context of this invocation
		c = exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
		c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	} else {
		c = exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	}
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	if cmd.Stderr != nil {
		c.Stderr = cmd.Stderr
	} else {
		c.Stderr = cmd.Stdout
	}
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, k+"="+v)
		}
		c.Env = env
	}
	if err := c.Start(); err != nil {
		return nil, &RemoteCommandError{What: "start " + cmd.Argv[0], Code: -1, Detail: err.Error()}
	}
	zap.L().Debug("child started", zap.Int("pid", c.Process.Pid))
	return &localProc{cmd: c}, nil
}

type localProc struct {
	cmd *exec.Cmd
}

func (p *localProc) PID() int { return p.cmd.Process.Pid }

func (p *localProc) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// dryProc is the synthetic success handle returned under dry-run.
type dryProc struct{}

func (dryProc) PID() int           { return 0 }
func (dryProc) Wait() (int, error) { return 0, nil }

func (l *Local) SendFile(ctx context.Context, src, dst string) error {
	if l.dryrun {
		zap.L().Info("dry-run: copy", zap.String("src", src), zap.String("dst", dst))
		return nil
	}
	return copyFile(src, dst)
}

func (l *Local) GetFile(ctx context.Context, src, dst string) error {
	if l.dryrun {
		zap.L().Info("dry-run: copy", zap.String("src", src), zap.String("dst", dst))
		return nil
	}
	return copyFile(src, dst)
}

func (l *Local) CheckReachable(ctx context.Context, timeout time.Duration) error {
	if l.dryrun {
		zap.L().Info("dry-run: check local connection")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
