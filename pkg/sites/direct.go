package sites

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/connection"
	"troika/pkg/script"
)

func init() {
	Register("direct", newDirect)
}

// directSite runs jobs as plain processes, locally or through ssh, with no
// batch system in between. The job id is the spawned process id.
type directSite struct {
	base
	copyScript bool
	copyJID    bool
	useShell   bool
	shell      []string
}

func newDirect(cfg config.SiteConfig, conn connection.Connection) (Site, error) {
	b, err := newBase(cfg, conn)
	if err != nil {
		return nil, err
	}
	s := &directSite{
		base:       b,
		copyScript: cfg.CopyScript,
		copyJID:    cfg.CopyJID,
		shell:      cfg.Shell,
	}
	if cfg.UseShell != nil {
		s.useShell = *cfg.UseShell
	} else {
		s.useShell = !conn.IsLocal()
	}
	if len(s.shell) == 0 {
		if s.copyScript {
			s.shell = []string{"bash"}
		} else {
			s.shell = []string{"bash", "-s"}
		}
	}
	if !conn.IsLocal() && !s.copyScript && !s.useShell {
		return nil, config.Errorf("copy_script and use_shell cannot both be false for a remote site")
	}
	return s, nil
}

func (s *directSite) NativeParser() *script.NativeParser { return nil }

func (s *directSite) DirectiveTranslation() (string, map[string]script.Renderer) {
	return s.translation("", map[string]script.Renderer{})
}

func (s *directSite) Submit(ctx context.Context, scriptPath, user, output string) (string, error) {
	scriptPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return "", fmt.Errorf("script file %q does not exist", scriptPath)
	}

	scriptRemote := scriptPath
	if s.copyScript && !s.conn.IsLocal() {
		scriptRemote = filepath.Join(filepath.Dir(output), filepath.Base(scriptPath))
		if _, err := EnsureOutputDir(ctx, s.conn, scriptRemote); err != nil {
			return "", err
		}
		if err := s.conn.SendFile(ctx, scriptPath, scriptRemote); err != nil {
			return "", err
		}
	}

	var argv []string
	if s.useShell {
		argv = append(argv, s.shell...)
	}
	if s.copyScript || (s.conn.IsLocal() && !s.useShell) {
		argv = append(argv, scriptRemote)
	}

	var stdin *os.File
	if s.useShell && !s.copyScript {
		stdin, err = os.Open(scriptPath)
		if err != nil {
			return "", err
		}
		defer stdin.Close()
	}

	if _, err := EnsureOutputDir(ctx, s.conn, output); err != nil {
		return "", err
	}
	var outf *os.File
	if !s.conn.DryRun() {
		if _, err := os.Stat(output); err == nil {
			zap.L().Warn("output file already exists, overwriting", zap.String("path", output))
		}
		outf, err = os.Create(output)
		if err != nil {
			return "", err
		}
		defer outf.Close()
	}

	cmd := connection.Command{Argv: argv, Stdout: outf, Detach: true}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	proc, err := s.conn.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	if s.conn.DryRun() {
		return "", nil
	}

	jid := strconv.Itoa(proc.PID())
	if err := WriteJobID(scriptPath, jid); err != nil {
		return "", err
	}
	if s.copyJID {
		remote := filepath.Join(filepath.Dir(output), filepath.Base(JidFile(scriptPath)))
		zap.L().Debug("copying job id file to output directory", zap.String("path", remote))
		if err := s.conn.SendFile(ctx, JidFile(scriptPath), remote); err != nil {
			return jid, err
		}
	}
	return jid, nil
}

func (s *directSite) Monitor(ctx context.Context, scriptPath, user, output, jid string) error {
	jid, err := s.resolveJobID(ctx, scriptPath, output, jid)
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(jid); err != nil {
		return fmt.Errorf("invalid job id: %q", jid)
	}

	var outf *os.File
	if !s.conn.DryRun() {
		outf, err = OpenStatFile(scriptPath)
		if err != nil {
			return err
		}
		defer outf.Close()
	}
	proc, err := s.conn.Execute(ctx, connection.Command{Argv: []string{"ps", "-lyfp", jid}, Stdout: outf})
	if err != nil {
		return err
	}
	// ps exits nonzero for a vanished pid; the raw output is the status
	_, _ = proc.Wait()
	zap.L().Info("status written", zap.String("path", StatFile(scriptPath)))
	return nil
}

func (s *directSite) Kill(ctx context.Context, scriptPath, user, output, jid string) (string, KillStatus, error) {
	jid, err := s.resolveJobID(ctx, scriptPath, output, jid)
	if err != nil {
		return "", "", err
	}
	if _, err := strconv.Atoi(jid); err != nil {
		return "", "", fmt.Errorf("invalid job id: %q", jid)
	}

	steps := s.seq
	if len(steps) == 0 {
		steps = []killStep{{sig: syscall.SIGTERM, explicit: true}}
	}
	esc := &escalation{
		steps: steps,
		alive: func(ctx context.Context) (bool, error) {
			if s.conn.DryRun() {
				return true, nil
			}
			_, _, code, err := connection.Output(ctx, s.conn, []string{"kill", "-0", jid}, nil)
			if err != nil {
				return false, err
			}
			return code == 0, nil
		},
		send: func(ctx context.Context, st killStep) error {
			argv := []string{"kill", fmt.Sprintf("-%d", st.sig), jid}
			stdout, _, code, err := connection.Output(ctx, s.conn, argv, nil)
			if err != nil {
				return err
			}
			if code != 0 {
				return &connection.RemoteCommandError{What: "kill", Code: code, Detail: stdout}
			}
			return nil
		},
	}
	status, err := esc.run(ctx)
	return jid, status, err
}
