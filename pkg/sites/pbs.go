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
	Register("pbs", newPBS)
}

var (
	pbsDirectiveRE = regexp.MustCompile(`^#\s*PBS\s+(.+?)\s*$`)
	pbsKeyRE       = regexp.MustCompile(`^(\S+)`)
)

func pbsExportVars(value string) ([]string, error) {
	switch value {
	case "all":
		return []string{"-V"}, nil
	case "none":
		return nil, nil
	}
	return []string{"-v " + value}, nil
}

var pbsMailTypes = map[string]string{
	"none": "n", "begin": "b", "end": "e", "fail": "a",
}

func pbsMailType(value string) ([]string, error) {
	var out []string
	for _, v := range strings.Split(value, ",") {
		t, ok := pbsMailTypes[strings.ToLower(v)]
		if !ok {
			zap.L().Warn("unknown mail_type value", zap.String("value", v))
			t = v
		}
		out = append(out, t)
	}
	return []string{"-m " + strings.Join(out, "")}, nil
}

var pbsTranslate = map[string]script.Renderer{
	"billing_account":   script.Template("-A %s"),
	"error_file":        script.Template("-e %s"),
	"export_vars":       pbsExportVars,
	"join_output_error": script.Flag("-j oe"),
	"mail_type":         pbsMailType,
	"mail_user":         script.Template("-M %s"),
	"name":              script.Template("-N %s"),
	"output_file":       script.Template("-o %s"),
	"priority":          script.Template("-p %s"),
	"queue":             script.Template("-q %s"),
	"walltime":          script.Template("-l walltime=%s"),
}

// pbsSite submits and manages jobs through the PBS commands qsub, qstat,
// qsig and qdel.
type pbsSite struct {
	base
	qsub       string
	qdel       string
	qsig       string
	qstat      string
	copyScript bool
}

func newPBS(cfg config.SiteConfig, conn connection.Connection) (Site, error) {
	b, err := newBase(cfg, conn)
	if err != nil {
		return nil, err
	}
	s := &pbsSite{
		base:       b,
		qsub:       cfg.QsubCommand,
		qdel:       cfg.QdelCommand,
		qsig:       cfg.QsigCommand,
		qstat:      cfg.QstatCommand,
		copyScript: cfg.CopyScript,
	}
	if s.qsub == "" {
		s.qsub = "qsub"
	}
	if s.qdel == "" {
		s.qdel = "qdel"
	}
	if s.qsig == "" {
		s.qsig = "qsig"
	}
	if s.qstat == "" {
		s.qstat = "qstat"
	}
	return s, nil
}

func (s *pbsSite) NativeParser() *script.NativeParser {
	return script.NewNativeParser(pbsDirectiveRE, pbsKeyRE, []string{"-o", "-e", "-j"})
}

func (s *pbsSite) DirectiveTranslation() (string, map[string]script.Renderer) {
	return s.translation("#PBS ", pbsTranslate)
}

func (s *pbsSite) Submit(ctx context.Context, scriptPath, user, output string) (string, error) {
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

	jid := strings.TrimSpace(stdout)
	zap.L().Debug("job submitted", zap.String("jobid", jid))
	if err := WriteJobID(scriptPath, jid); err != nil {
		return "", err
	}
	return jid, nil
}

func (s *pbsSite) Monitor(ctx context.Context, scriptPath, user, output, jid string) error {
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
	proc, err := s.conn.Execute(ctx, connection.Command{Argv: []string{s.qstat, jid}, Stdout: outf})
	if err != nil {
		return err
	}
	_, _ = proc.Wait()
	zap.L().Info("status written", zap.String("path", StatFile(scriptPath)))
	return nil
}

func (s *pbsSite) Kill(ctx context.Context, scriptPath, user, output, jid string) (string, KillStatus, error) {
	jid, err := s.resolveJobID(ctx, scriptPath, output, jid)
	if err != nil {
		return "", "", err
	}

	steps := s.seq
	if len(steps) == 0 {
		steps = []killStep{{}}
	}
	esc := &escalation{
		steps: steps,
		alive: func(ctx context.Context) (bool, error) {
			if s.conn.DryRun() {
				return true, nil
			}
			_, _, code, err := connection.Output(ctx, s.conn, []string{s.qstat, jid}, nil)
			if err != nil {
				return false, err
			}
			return code == 0, nil
		},
		send: func(ctx context.Context, st killStep) error {
			argv := []string{s.qdel, jid}
			if st.explicit {
				argv = []string{s.qsig, "-s", fmt.Sprintf("%d", st.sig), jid}
			}
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
