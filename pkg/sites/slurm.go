package sites

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/connection"
	"troika/pkg/script"
)

func init() {
	Register("slurm", newSlurm)
}

var (
	slurmDirectiveRE = regexp.MustCompile(`^#\s*SBATCH\s+(.+?)\s*$`)
	slurmKeyRE       = regexp.MustCompile(`^([^\s=]+)`)
	slurmSubmitRE    = regexp.MustCompile(`(?m)^(?:Submitted batch job )?(\d+)$`)
)

func slurmExportVars(value string) ([]string, error) {
	if value == "all" || value == "none" {
		value = strings.ToUpper(value)
	}
	return []string{"--export=" + value}, nil
}

var slurmMailTypes = map[string]string{
	"none": "NONE", "begin": "BEGIN", "end": "END", "fail": "FAIL",
}

func slurmMailType(value string) ([]string, error) {
	var out []string
	for _, v := range strings.Split(value, ",") {
		t, ok := slurmMailTypes[strings.ToLower(v)]
		if !ok {
			zap.L().Warn("unknown mail_type value", zap.String("value", v))
			t = v
		}
		out = append(out, t)
	}
	return []string{"--mail-type=" + strings.Join(out, ",")}, nil
}

var slurmTranslate = map[string]script.Renderer{
	"billing_account":       script.Template("--account=%s"),
	"cpus_per_task":         script.Template("--cpus-per-task=%s"),
	"enable_hyperthreading": script.Branch("--hint=%smultithread", "", "no"),
	"error_file":            script.Template("--error=%s"),
	"export_vars":           slurmExportVars,
	"join_output_error":     script.Ignore,
	"licenses":              script.Template("--licenses=%s"),
	"mail_type":             slurmMailType,
	"mail_user":             script.Template("--mail-user=%s"),
	"memory_per_node":       script.Template("--mem=%s"),
	"memory_per_cpu":        script.Template("--mem-per-cpu=%s"),
	"name":                  script.Template("--job-name=%s"),
	"output_file":           script.Template("--output=%s"),
	"partition":             script.Template("--partition=%s"),
	"priority":              script.Template("--priority=%s"),
	"tasks_per_node":        script.Template("--ntasks-per-node=%s"),
	"threads_per_core":      script.Template("--threads-per-core=%s"),
	"tmpdir_size":           script.Template("--tmp=%s"),
	"total_nodes":           script.Template("--nodes=%s"),
	"total_tasks":           script.Template("--ntasks=%s"),
	"queue":                 script.Template("--qos=%s"),
	"walltime":              script.Template("--time=%s"),
	"working_dir":           script.Template("--chdir=%s"),
}

// slurmSite submits and manages jobs through the Slurm commands sbatch,
// squeue and scancel.
type slurmSite struct {
	base
	sbatch     string
	scancel    string
	squeue     string
	copyScript bool
}

func newSlurm(cfg config.SiteConfig, conn connection.Connection) (Site, error) {
	b, err := newBase(cfg, conn)
	if err != nil {
		return nil, err
	}
	s := &slurmSite{
		base:       b,
		sbatch:     cfg.SbatchCommand,
		scancel:    cfg.ScancelCommand,
		squeue:     cfg.SqueueCommand,
		copyScript: cfg.CopyScript,
	}
	if s.sbatch == "" {
		s.sbatch = "sbatch"
	}
	if s.scancel == "" {
		s.scancel = "scancel"
	}
	if s.squeue == "" {
		s.squeue = "squeue"
	}
	return s, nil
}

func (s *slurmSite) NativeParser() *script.NativeParser {
	return script.NewNativeParser(slurmDirectiveRE, slurmKeyRE,
		[]string{"-o", "--output", "-e", "--error"})
}

func (s *slurmSite) DirectiveTranslation() (string, map[string]script.Renderer) {
	return s.translation("#SBATCH ", slurmTranslate)
}

// getState returns the Slurm state of a job, e.g. PENDING or RUNNING. A job
// that no longer exists yields an empty state. In strict mode, a missing job
// is an error instead.
func (s *slurmSite) getState(ctx context.Context, jid string, strict bool) (string, error) {
	if s.conn.DryRun() {
		return "RUNNING", nil
	}
	argv := []string{s.squeue, "-h", "-o", "%T", "-j", jid}
	stdout, stderr, code, err := connection.Output(ctx, s.conn, argv, nil)
	if err != nil {
		return "", err
	}
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	zap.L().Debug("squeue output", zap.String("jobid", jid), zap.String("output", stdout))
	if code != 0 {
		zap.L().Error("squeue error", zap.String("output", stderr))
		// an intermediary wrapper may report the error on stdout instead
		gone := strings.Contains(stdout, "Invalid job id specified") ||
			strings.Contains(stderr, "Invalid job id specified")
		if strict || !gone {
			return "", connection.CheckExit(code, "get state")
		}
		return "", nil
	}
	if strict && stdout == "" {
		return "", fmt.Errorf("get state for job %s produced no output", jid)
	}
	return stdout, nil
}

func (s *slurmSite) Submit(ctx context.Context, scriptPath, user, output string) (string, error) {
	scriptPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return "", fmt.Errorf("script file %q does not exist", scriptPath)
	}

	argv := []string{s.sbatch}
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
			zap.L().Error("sbatch stdout", zap.String("script", scriptPath), zap.String("output", strings.TrimSpace(stdout)))
		}
		if stderr != "" {
			zap.L().Error("sbatch stderr", zap.String("script", scriptPath), zap.String("output", strings.TrimSpace(stderr)))
		}
		return "", connection.CheckExit(code, "submission")
	}

	m := slurmSubmitRE.FindStringSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("could not parse sbatch output %q", stdout)
	}
	jid := m[1]
	zap.L().Debug("job submitted", zap.String("jobid", jid))
	if err := WriteJobID(scriptPath, jid); err != nil {
		return "", err
	}
	return jid, nil
}

func (s *slurmSite) Monitor(ctx context.Context, scriptPath, user, output, jid string) error {
	jid, err := s.resolveJobID(ctx, scriptPath, output, jid)
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(jid); err != nil {
		return fmt.Errorf("invalid job id: %q", jid)
	}
	if user == "" {
		user = "$USER"
	}

	var outf *os.File
	if !s.conn.DryRun() {
		outf, err = OpenStatFile(scriptPath)
		if err != nil {
			return err
		}
		defer outf.Close()
	}
	proc, err := s.conn.Execute(ctx, connection.Command{
		Argv:   []string{s.squeue, "-u", user, "-j", jid},
		Stdout: outf,
	})
	if err != nil {
		return err
	}
	_, _ = proc.Wait()
	zap.L().Info("status written", zap.String("path", StatFile(scriptPath)))
	return nil
}

func (s *slurmSite) Kill(ctx context.Context, scriptPath, user, output, jid string) (string, KillStatus, error) {
	jid, err := s.resolveJobID(ctx, scriptPath, output, jid)
	if err != nil {
		return "", "", err
	}
	if _, err := strconv.Atoi(jid); err != nil {
		return "", "", fmt.Errorf("invalid job id: %q", jid)
	}

	state, err := s.getState(ctx, jid, false)
	if err != nil {
		return "", "", err
	}
	if state == "" {
		return jid, KillVanished, nil
	}
	if state == "PENDING" {
		status, err := s.cancelPending(ctx, jid)
		if status != "" || err != nil {
			return jid, status, err
		}
		// the job started in the meantime, escalate as a running job
	}

	steps := s.seq
	if len(steps) == 0 {
		steps = []killStep{{}}
	}
	esc := &escalation{
		steps: steps,
		alive: func(ctx context.Context) (bool, error) {
			st, err := s.getState(ctx, jid, false)
			if err != nil {
				return false, err
			}
			return st != "", nil
		},
		send: func(ctx context.Context, st killStep) error {
			argv := []string{s.scancel, jid}
			if st.explicit {
				argv = []string{s.scancel, "-f", "-s", fmt.Sprintf("%d", st.sig), jid}
			}
			return s.runScancel(ctx, argv)
		},
	}
	status, err := esc.run(ctx)
	return jid, status, err
}

// cancelPending cancels a job that has not started. The -t PENDING filter
// keeps scancel from waiting on a job that is just about to run. The
// returned status is empty when the job slipped into a running state and
// the caller should fall back to the signal sequence.
func (s *slurmSite) cancelPending(ctx context.Context, jid string) (KillStatus, error) {
	if err := s.runScancel(ctx, []string{s.scancel, "-t", "PENDING", jid}); err != nil {
		return "", err
	}
	if s.conn.DryRun() {
		return KillCancelled, nil
	}
	state, err := s.getState(ctx, jid, false)
	if err != nil {
		return "", err
	}
	switch state {
	case "", "CANCELLED":
		return KillCancelled, nil
	case "PENDING":
		return "", fmt.Errorf("failed to cancel pending job %s", jid)
	}
	return "", nil
}

func (s *slurmSite) runScancel(ctx context.Context, argv []string) error {
	stdout, _, code, err := connection.Output(ctx, s.conn, argv, nil)
	if err != nil {
		return err
	}
	stdout = strings.TrimSpace(stdout)
	if code != 0 {
		return &connection.RemoteCommandError{What: "kill", Code: code, Detail: stdout}
	}
	if stdout != "" {
		zap.L().Debug("scancel output", zap.String("output", stdout))
	}
	return nil
}
