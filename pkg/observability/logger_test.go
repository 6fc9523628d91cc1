package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConsoleLevel(t *testing.T) {
	cases := map[int]zapcore.Level{
		3:  zap.DebugLevel,
		2:  zap.DebugLevel,
		1:  zap.InfoLevel,
		0:  zap.WarnLevel,
		-1: zap.ErrorLevel,
		-2: zap.FatalLevel,
		-5: zap.FatalLevel,
	}
	for verbosity, want := range cases {
		if got := consoleLevel(verbosity); got != want {
			t.Errorf("consoleLevel(%d) = %v, want %v", verbosity, got, want)
		}
	}
}

func TestLogfilePath(t *testing.T) {
	if got := LogfilePath("submit", "/tmp/job.sh"); got != "/tmp/job.sh.submitlog" {
		t.Fatalf("LogfilePath = %q", got)
	}
	if got := LogfilePath("kill", ""); got != "troika.killlog" {
		t.Fatalf("LogfilePath = %q", got)
	}
}

func TestSetupFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.sh.submitlog")
	logger, err := Setup(Options{Verbosity: 0, Logfile: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("sink check")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "sink check") {
		t.Fatalf("log file missing debug entry: %q", data)
	}
}

func TestSetupAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "troika.log")
	if err := os.WriteFile(path, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger, err := Setup(Options{Logfile: path, Append: true})
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn("second run")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "previous run") || !strings.Contains(string(data), "second run") {
		t.Fatalf("append mode lost content: %q", data)
	}
}
