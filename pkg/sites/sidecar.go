package sites

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Sidecar files live next to the job script and are the only durable job
// state troika keeps: the scheduler-assigned job id, the raw output of the
// last monitor call, and per-action logs.

// JidFile returns the job-id sidecar path, "<script>.jid".
func JidFile(scriptPath string) string { return scriptPath + ".jid" }

// StatFile returns the status sidecar path, "<script>.stat".
func StatFile(scriptPath string) string { return scriptPath + ".stat" }

// OrigFile returns the backup path of the pre-generation script,
// "<script>.orig".
func OrigFile(scriptPath string) string { return scriptPath + ".orig" }

// lockFile returns the advisory lock path guarding a script's sidecar
// files.
func lockFile(scriptPath string) string { return scriptPath + ".lock" }

// WriteJobID persists the scheduler-assigned job id, overwriting any
// previous one.
func WriteJobID(scriptPath, jid string) error {
	path := JidFile(scriptPath)
	if _, err := os.Stat(path); err == nil {
		zap.L().Warn("job id file already exists, overwriting", zap.String("path", path))
	}
	return os.WriteFile(path, []byte(jid+"\n"), 0o644)
}

// ReadJobID reads back the persisted job id.
func ReadJobID(scriptPath string) (string, error) {
	data, err := os.ReadFile(JidFile(scriptPath))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// OpenStatFile truncates and opens the status sidecar file for the raw
// monitor output.
func OpenStatFile(scriptPath string) (*os.File, error) {
	path := StatFile(scriptPath)
	if _, err := os.Stat(path); err == nil {
		zap.L().Warn("status file already exists, overwriting", zap.String("path", path))
	}
	return os.Create(path)
}

// Lock is an advisory lock on a script's sidecar files, serializing
// conflicting submit/monitor/kill invocations against the same job.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the advisory lock for the given script, waiting until
// it is free or the context expires.
func AcquireLock(ctx context.Context, scriptPath string) (*Lock, error) {
	fl := flock.New(lockFile(scriptPath))
	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("locking %s: not acquired", fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call on a nil receiver.
func (l *Lock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	if err := l.fl.Unlock(); err != nil {
		zap.L().Warn("releasing sidecar lock", zap.Error(err))
	}
}
