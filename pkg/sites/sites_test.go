package sites

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"troika/pkg/config"
	"troika/pkg/connection"
)

func boolPtr(b bool) *bool { return &b }

func writeScript(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.sh")
	if err := os.WriteFile(path, []byte(text), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDirectRemoteConfigError(t *testing.T) {
	conn := connection.NewFake()
	conn.Local = false
	cfg := config.SiteConfig{
		Type:       "direct",
		Connection: "ssh",
		UseShell:   boolPtr(false),
		CopyScript: false,
	}
	_, err := newDirect(cfg, conn)
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestDirectSubmitWritesJobID(t *testing.T) {
	conn := connection.NewFake()
	site, err := newDirect(config.SiteConfig{Type: "direct", Connection: "local"}, conn)
	if err != nil {
		t.Fatalf("newDirect: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\necho hi\n")
	output := filepath.Join(filepath.Dir(script), "out", "job.out")

	jid, err := site.Submit(context.Background(), script, "", output)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jid != "4242" {
		t.Fatalf("jid = %q", jid)
	}
	got, err := ReadJobID(script)
	if err != nil || got != "4242" {
		t.Fatalf("jid file = %q, %v", got, err)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("output file not created: %v", err)
	}
}

func TestPBSSubmitAndKill(t *testing.T) {
	conn := connection.NewFake()
	conn.Script("qsub", connection.FakeResult{Stdout: "12345.pbshost\n"})
	site, err := newPBS(config.SiteConfig{Type: "pbs", Connection: "local"}, conn)
	if err != nil {
		t.Fatalf("newPBS: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\necho hi\n")

	jid, err := site.Submit(context.Background(), script, "", filepath.Join(filepath.Dir(script), "job.out"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jid != "12345.pbshost" {
		t.Fatalf("jid = %q", jid)
	}
	if got, _ := ReadJobID(script); got != jid {
		t.Fatalf("jid file = %q", got)
	}

	// no configured sequence: a single qdel
	conn.Script("qstat", connection.FakeResult{Stdout: "Job Id: 12345.pbshost\n"})
	rjid, status, err := site.Kill(context.Background(), script, "", "", "")
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if rjid != jid || status != KillKilled {
		t.Fatalf("kill = %q, %q", rjid, status)
	}
	last := conn.Commands[len(conn.Commands)-1]
	if last != "qdel 12345.pbshost" {
		t.Fatalf("last command = %q", last)
	}
}

func TestPBSKillSequenceUsesQsig(t *testing.T) {
	conn := connection.NewFake()
	cfg := config.SiteConfig{
		Type:         "pbs",
		Connection:   "local",
		KillSequence: [][]any{{0, "SIGTERM"}},
	}
	site, err := newPBS(cfg, conn)
	if err != nil {
		t.Fatalf("newPBS: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\ntrue\n")
	if err := WriteJobID(script, "77"); err != nil {
		t.Fatal(err)
	}

	conn.Script("qstat", connection.FakeResult{Stdout: "Job Id: 77\n"})
	_, status, err := site.Kill(context.Background(), script, "", "", "")
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if status != KillTerminated {
		t.Fatalf("status = %q", status)
	}
	found := false
	for _, cmd := range conn.Commands {
		if cmd == "qsig -s 15 77" {
			found = true
		}
	}
	if !found {
		t.Fatalf("qsig not issued: %v", conn.Commands)
	}
}

func TestSlurmPendingJobUnsignaledScancel(t *testing.T) {
	conn := connection.NewFake()
	conn.Script("squeue", connection.FakeResult{Stdout: "PENDING\n"})
	conn.Script("scancel", connection.FakeResult{})
	conn.Script("squeue", connection.FakeResult{Stdout: ""})
	cfg := config.SiteConfig{
		Type:         "slurm",
		Connection:   "local",
		KillSequence: [][]any{{0, "SIGTERM"}, {5, "KILL"}},
	}
	site, err := newSlurm(cfg, conn)
	if err != nil {
		t.Fatalf("newSlurm: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\ntrue\n")

	jid, status, err := site.Kill(context.Background(), script, "", "", "1001")
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if jid != "1001" || status != KillCancelled {
		t.Fatalf("kill = %q, %q", jid, status)
	}
	// a pending job gets one unsignaled scancel, sequence notwithstanding
	for _, cmd := range conn.Commands {
		if !strings.HasPrefix(cmd, "scancel") {
			continue
		}
		if cmd != "scancel -t PENDING 1001" {
			t.Fatalf("unexpected scancel invocation %q", cmd)
		}
	}
}

func TestSlurmVanishedJob(t *testing.T) {
	conn := connection.NewFake()
	conn.Script("squeue", connection.FakeResult{
		Stderr: "slurm_load_jobs error: Invalid job id specified\n",
		Code:   1,
	})
	site, err := newSlurm(config.SiteConfig{Type: "slurm", Connection: "local"}, conn)
	if err != nil {
		t.Fatalf("newSlurm: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\ntrue\n")

	_, status, err := site.Kill(context.Background(), script, "", "", "1002")
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if status != KillVanished {
		t.Fatalf("status = %q", status)
	}
}

func TestSlurmSubmitParsesJobID(t *testing.T) {
	conn := connection.NewFake()
	conn.Script("sbatch", connection.FakeResult{Stdout: "Submitted batch job 9001\n"})
	site, err := newSlurm(config.SiteConfig{Type: "slurm", Connection: "local"}, conn)
	if err != nil {
		t.Fatalf("newSlurm: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\ntrue\n")

	jid, err := site.Submit(context.Background(), script, "", filepath.Join(filepath.Dir(script), "job.out"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jid != "9001" {
		t.Fatalf("jid = %q", jid)
	}
}

func TestSGESubmitParsesJobID(t *testing.T) {
	conn := connection.NewFake()
	conn.Script("qsub", connection.FakeResult{Stdout: "Your job 4210 (\"job.sh\") has been submitted\n"})
	site, err := newSGE(config.SiteConfig{Type: "sge", Connection: "local"}, conn)
	if err != nil {
		t.Fatalf("newSGE: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\ntrue\n")

	jid, err := site.Submit(context.Background(), script, "", filepath.Join(filepath.Dir(script), "job.out"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jid != "4210" {
		t.Fatalf("jid = %q", jid)
	}
}

func TestSGEKillSingleQdel(t *testing.T) {
	conn := connection.NewFake()
	site, err := newSGE(config.SiteConfig{Type: "sge", Connection: "local"}, conn)
	if err != nil {
		t.Fatalf("newSGE: %v", err)
	}
	script := writeScript(t, "#!/bin/bash\ntrue\n")

	jid, status, err := site.Kill(context.Background(), script, "", "", "31")
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if jid != "31" || status != KillKilled {
		t.Fatalf("kill = %q, %q", jid, status)
	}
	if len(conn.Commands) != 1 || conn.Commands[0] != "qdel 31" {
		t.Fatalf("commands = %v", conn.Commands)
	}
}

func TestDirectiveTranslationOverrides(t *testing.T) {
	conn := connection.NewFake()
	prefix := "#CUSTOM "
	drop := (*string)(nil)
	tmpl := "-Q %s"
	cfg := config.SiteConfig{
		Type:            "pbs",
		Connection:      "local",
		DirectivePrefix: &prefix,
		DirectiveTranslate: map[string]*string{
			"name":  drop,
			"queue": &tmpl,
		},
	}
	site, err := newPBS(cfg, conn)
	if err != nil {
		t.Fatalf("newPBS: %v", err)
	}
	gotPrefix, table := site.DirectiveTranslation()
	if gotPrefix != prefix {
		t.Fatalf("prefix = %q", gotPrefix)
	}
	if lines, err := table["name"]("x"); err != nil || lines != nil {
		t.Fatalf("dropped directive rendered: %q, %v", lines, err)
	}
	if lines, _ := table["queue"]("np"); len(lines) != 1 || lines[0] != "-Q np" {
		t.Fatalf("queue rendered %q", lines)
	}
	// untouched entries keep their stock rendering
	if lines, _ := table["walltime"]("01:00:00"); len(lines) != 1 || lines[0] != "-l walltime=01:00:00" {
		t.Fatalf("walltime rendered %q", lines)
	}
}

func TestResolveJobIDExplicitAndSidecar(t *testing.T) {
	conn := connection.NewFake()
	b, err := newBase(config.SiteConfig{}, conn)
	if err != nil {
		t.Fatal(err)
	}
	script := writeScript(t, "#!/bin/bash\ntrue\n")

	if got, err := b.resolveJobID(context.Background(), script, "", "42"); err != nil || got != "42" {
		t.Fatalf("explicit jid = %q, %v", got, err)
	}
	if _, err := b.resolveJobID(context.Background(), script, "", ""); err == nil {
		t.Fatal("missing jid file accepted")
	}
	if err := WriteJobID(script, "43"); err != nil {
		t.Fatal(err)
	}
	if got, err := b.resolveJobID(context.Background(), script, "", ""); err != nil || got != "43" {
		t.Fatalf("sidecar jid = %q, %v", got, err)
	}
}

func TestListSites(t *testing.T) {
	cfg := &config.Config{Sites: map[string]config.SiteConfig{
		"cluster": {Type: "slurm", Connection: "ssh"},
		"localhost": {
			Type:       "direct",
			Connection: "local",
		},
		"cloud": {Type: "group", Members: []string{"cluster"}},
	}}
	infos, err := List(cfg)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("infos = %v", infos)
	}
	if infos[0].Name != "cloud" || infos[1].Name != "cluster" || infos[2].Name != "localhost" {
		t.Fatalf("order = %v", infos)
	}
	if infos[0].Connection != "-" {
		t.Fatalf("group connection = %q", infos[0].Connection)
	}
}
