package connection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"troika/pkg/config"
)

func init() {
	Register("ssh", func(cfg config.SiteConfig, user string, dryrun bool) (Connection, error) {
		return NewSSH(cfg, user, dryrun)
	})
}

// SSH reaches a remote host by wrapping the external ssh and scp binaries.
type SSH struct {
	local   *Local
	host    string
	user    string
	ssh     string
	scp     string
	options []string
}

func NewSSH(cfg config.SiteConfig, user string, dryrun bool) (*SSH, error) {
	if cfg.Host == "" {
		return nil, config.Errorf("ssh connection requires a 'host'")
	}
	if user == "" {
		user = cfg.User
	}
	c := &SSH{
		local: NewLocal(user, dryrun),
		host:  cfg.Host,
		user:  user,
		ssh:   cfg.SSHCommand,
		scp:   cfg.SCPCommand,
	}
	if c.ssh == "" {
		c.ssh = "ssh"
	}
	if c.scp == "" {
		c.scp = "scp"
	}
	c.options = append(c.options, cfg.SSHOptions...)
	if cfg.SSHVerbose {
		c.options = append(c.options, "-v")
	}
	if cfg.SSHStrictHostKeyChecking != nil {
		v := "no"
		if *cfg.SSHStrictHostKeyChecking {
			v = "yes"
		}
		c.options = append(c.options, "-oStrictHostKeyChecking="+v)
	}
	if cfg.SSHConnectTimeout > 0 {
		c.options = append(c.options, fmt.Sprintf("-oConnectTimeout=%d", cfg.SSHConnectTimeout))
	}
	return c, nil
}

func (s *SSH) IsLocal() bool { return false }

func (s *SSH) DryRun() bool { return s.local.DryRun() }

func (s *SSH) User() string { return s.user }

func (s *SSH) destination() string {
	if s.user == "" {
		return s.host
	}
	return s.user + "@" + s.host
}

// remoteArgv wraps the command into an ssh invocation. Every remote word
// is shell quoted so the remote shell sees the argv unchanged; environment
// assignments are passed sorted for a stable command line.
func (s *SSH) remoteArgv(cmd Command) []string {
	argv := append([]string{s.ssh}, s.options...)
	argv = append(argv, s.destination())
	envKeys := make([]string, 0, len(cmd.Env))
	for k := range cmd.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		argv = append(argv, quote(k)+"="+quote(cmd.Env[k]))
	}
	return append(argv, quoteAll(cmd.Argv)...)
}

// Execute runs the command on the remote host.
func (s *SSH) Execute(ctx context.Context, cmd Command) (Proc, error) {
	local := cmd
	local.Argv = s.remoteArgv(cmd)
	local.Env = nil
	return s.local.Execute(ctx, local)
}

func (s *SSH) SendFile(ctx context.Context, src, dst string) error {
	argv := append([]string{s.scp}, s.options...)
	argv = append(argv, src, s.destination()+":"+dst)
	proc, err := s.local.Execute(ctx, Command{Argv: argv})
	if err != nil {
		return err
	}
	code, err := proc.Wait()
	if err != nil {
		return err
	}
	return CheckExit(code, "copy")
}

func (s *SSH) GetFile(ctx context.Context, src, dst string) error {
	argv := append([]string{s.scp}, s.options...)
	argv = append(argv, s.destination()+":"+src, dst)
	proc, err := s.local.Execute(ctx, Command{Argv: argv})
	if err != nil {
		return err
	}
	code, err := proc.Wait()
	if err != nil {
		return err
	}
	return CheckExit(code, "copy")
}

// CheckReachable runs `true` on the remote host within the given timeout.
func (s *SSH) CheckReachable(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	proc, err := s.Execute(ctx, Command{Argv: []string{"true"}})
	if err != nil {
		return &ConnectionError{Msg: fmt.Sprintf("cannot reach %s: %v", s.destination(), err)}
	}
	code, err := proc.Wait()
	if err != nil || code != 0 {
		if ctx.Err() != nil {
			return &ConnectionError{Msg: fmt.Sprintf("connection to %s timed out", s.destination())}
		}
		return &ConnectionError{Msg: fmt.Sprintf("connection to %s failed (exit code %d)", s.destination(), code)}
	}
	return nil
}
