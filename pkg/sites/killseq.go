package sites

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// killStep is one escalation step: wait, then send sig. Steps with
// explicit=false issue the site's default cancel action instead of a
// signal.
type killStep struct {
	wait     time.Duration
	sig      syscall.Signal
	explicit bool
}

// ParseKillSequence converts the configured [[delay, signal], ...] list.
// Delays are seconds relative to the previous step; signals are numeric or
// named ("KILL", "SIGKILL", 9). The order is preserved as given.
func ParseKillSequence(raw [][]any) ([]killStep, error) {
	steps := make([]killStep, 0, len(raw))
	for i, entry := range raw {
		if len(entry) != 2 {
			return nil, fmt.Errorf("step %d: expected [delay, signal]", i)
		}
		delay, err := toSeconds(entry[0])
		if err != nil {
			return nil, fmt.Errorf("step %d: invalid delay: %v", i, err)
		}
		sig, err := NormalizeSignal(entry[1])
		if err != nil {
			return nil, fmt.Errorf("step %d: %v", i, err)
		}
		steps = append(steps, killStep{wait: delay, sig: sig, explicit: true})
	}
	return steps, nil
}

func toSeconds(v any) (time.Duration, error) {
	var secs float64
	switch n := v.(type) {
	case int:
		secs = float64(n)
	case int64:
		secs = float64(n)
	case uint64:
		secs = float64(n)
	case float64:
		secs = n
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative delay %v", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// NormalizeSignal resolves a numeric or named signal value.
func NormalizeSignal(v any) (syscall.Signal, error) {
	switch s := v.(type) {
	case int:
		return signalFromNumber(s)
	case int64:
		return signalFromNumber(int(s))
	case uint64:
		return signalFromNumber(int(s))
	case float64:
		return signalFromNumber(int(s))
	case string:
		name := strings.ToUpper(strings.TrimSpace(s))
		if !strings.HasPrefix(name, "SIG") {
			name = "SIG" + name
		}
		sig := unix.SignalNum(name)
		if sig == 0 {
			return 0, fmt.Errorf("invalid signal: %q", s)
		}
		return sig, nil
	}
	return 0, fmt.Errorf("invalid signal: %v", v)
}

func signalFromNumber(n int) (syscall.Signal, error) {
	sig := syscall.Signal(n)
	if n <= 0 || unix.SignalName(sig) == "" {
		return 0, fmt.Errorf("invalid signal: %d", n)
	}
	return sig, nil
}

// escalation drives a kill sequence: steps are processed strictly in
// order, each delay measured from the previous step's completion, with a
// liveness probe before every signal so a job that is already gone is left
// alone. A failed send is logged and escalation continues; the goal is
// eventual termination.
type escalation struct {
	steps []killStep
	// alive polls whether the job still exists; nil skips the probe.
	alive func(ctx context.Context) (bool, error)
	// send delivers one step.
	send func(ctx context.Context, step killStep) error
	// sleep waits between steps; tests inject a recording version.
	sleep func(ctx context.Context, d time.Duration) error
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *escalation) run(ctx context.Context) (KillStatus, error) {
	if e.sleep == nil {
		e.sleep = ctxSleep
	}
	var status KillStatus
	sent := 0
	for _, st := range e.steps {
		if err := e.sleep(ctx, st.wait); err != nil {
			return status, err
		}
		if e.alive != nil {
			ok, err := e.alive(ctx)
			if err != nil {
				zap.L().Error("liveness check failed, continuing escalation", zap.Error(err))
			} else if !ok {
				if status == "" {
					return KillVanished, nil
				}
				return status, nil
			}
		}
		if err := e.send(ctx, st); err != nil {
			zap.L().Error("kill step failed, continuing escalation",
				zap.String("signal", unix.SignalName(st.sig)), zap.Error(err))
			continue
		}
		sent++
		if !st.explicit || st.sig == syscall.SIGKILL {
			status = KillKilled
		} else if status == "" {
			status = KillTerminated
		}
	}
	if sent == 0 {
		return "", fmt.Errorf("no kill step could be delivered")
	}
	return status, nil
}
