package sites

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/connection"
	"troika/pkg/script"
)

func init() {
	Register("sge", newSGE)
}

var (
	sgeDirectiveRE = regexp.MustCompile(`^#\s*\$\s+(.+?)\s*$`)
	sgeKeyRE       = regexp.MustCompile(`^(\S+)`)
	sgeSubmitRE    = regexp.MustCompile(`(Your job )?(\d+)`)
)

var sgeTranslate = map[string]script.Renderer{
	"billing_account":   script.Template("-A %s"),
	"error_file":        script.Template("-e %s"),
	"export_vars":       pbsExportVars,
	"mail_type":         pbsMailType,
	"join_output_error": script.Flag("-j y"),
	"mail_user":         script.Template("-M %s"),
	"name":              script.Template("-N %s"),
	"output_file":       script.Template("-o %s"),
	"priority":          script.Template("-p %s"),
	"queue":             script.Template("-q %s"),
	"walltime":          script.Template("-l h_rt=%s"),
}

// sgeSite submits and manages jobs through the SGE commands qsub, qstat and
// qdel. SGE has no per-signal kill, so a kill is always a single qdel.
type sgeSite struct {
	base
	qsub       string
	qdel       string
	qstat      string
	copyScript bool
	copyJID    bool
}

func newSGE(cfg config.SiteConfig, conn connection.Connection) (Site, error) {
	b, err := newBase(cfg, conn)
	if err != nil {
		return nil, err
	}
	s := &sgeSite{
		base:       b,
		qsub:       cfg.QsubCommand,
		qdel:       cfg.QdelCommand,
		qstat:      cfg.QstatCommand,
		copyScript: cfg.CopyScript,
		copyJID:    cfg.CopyJID,
	}
	if s.qsub == "" {
		s.qsub = "qsub"
	}
	if s.qdel == "" {
		s.qdel = "qdel"
	}
	if s.qstat == "" {
		s.qstat = "qstat"
	}
	return s, nil
}

func (s *sgeSite) NativeParser() *script.NativeParser {
	return script.NewNativeParser(sgeDirectiveRE, sgeKeyRE, []string{"-o", "-e", "-j"})
}

func (s *sgeSite) DirectiveTranslation() (string, map[string]script.Renderer) {
	return s.translation("#$ ", sgeTranslate)
}

func (s *sgeSite) Submit(ctx context.Context, scriptPath, user, output string) (string, error) {
	scriptPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return "", fmt.Errorf("script file %q does not exist", scriptPath)
	}

	argv := []string{s.qsub}
	var stdin io.Reader
	if s.copyScript {
		remote := filepath.Join(filepath.Dir(output), filepath.Base(scriptPath))
		if err := s.conn.SendFile(ctx, scriptPath, remote); err != nil {
			return "", err
		}
		argv = append(argv, remote)
	} else {
		f, err := os.Open(scriptPath)
		if err != nil {
			return "", err
		}
		defer f.Close()
		stdin = f
	}

	stdout, stderr, code, err := connection.Output(ctx, s.conn, argv, stdin)
	if err != nil {
		return "", err
	}
	if s.conn.DryRun() {
		return "", nil
	}
	if code != 0 {
		if stdout != "" {
			zap.L().Error("qsub stdout", zap.String("script", scriptPath), zap.String("output", strings.TrimSpace(stdout)))
		}
		if stderr != "" {
			zap.L().Error("qsub stderr", zap.String("script", scriptPath), zap.String("output", strings.TrimSpace(stderr)))
		}
		return "", connection.CheckExit(code, "submission")
	}

	m := sgeSubmitRE.FindStringSubmatch(strings.TrimSpace(stdout))
	if m == nil {
		return "", fmt.Errorf("could not parse qsub output %q", stdout)
	}
	jid := m[2]
	zap.L().Debug("job submitted", zap.String("jobid", jid))
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

func (s *sgeSite) Monitor(ctx context.Context, scriptPath, user, output, jid string) error {
	jid, err := s.resolveJobID(ctx, scriptPath, output, jid)
	if err != nil {
		return err
	}
	var outf *os.File
	if !s.conn.DryRun() {
		outf, err = OpenStatFile(scriptPath)
		if err != nil {
			return err
		}
		defer outf.Close()
	}
	proc, err := s.conn.Execute(ctx, connection.Command{Argv: []string{s.qstat, "-j", jid}, Stdout: outf})
	if err != nil {
		return err
	}
	_, _ = proc.Wait()
	zap.L().Info("status written", zap.String("path", StatFile(scriptPath)))
	return nil
}

func (s *sgeSite) Kill(ctx context.Context, scriptPath, user, output, jid string) (string, KillStatus, error) {
	jid, err := s.resolveJobID(ctx, scriptPath, output, jid)
	if err != nil {
		return "", "", err
	}

	stdout, _, code, err := connection.Output(ctx, s.conn, []string{s.qdel, jid}, nil)
	if err != nil {
		return "", "", err
	}
	if s.conn.DryRun() {
		return jid, KillKilled, nil
	}
	if code != 0 {
		zap.L().Error("qdel output", zap.String("output", strings.TrimSpace(stdout)))
		return jid, "", connection.CheckExit(code, "kill")
	}
	return jid, KillKilled, nil
}
