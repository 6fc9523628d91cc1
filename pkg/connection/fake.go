package connection

import (
	"context"
	"strings"
	"time"
)

// FakeResult scripts the outcome of one executed command on a Fake
// connection.
type FakeResult struct {
	Stdout string
	Stderr string
	Code   int
}

// Fake is an in-memory Connection for tests. Commands are matched against
// scripted results by their first argv word, or served a default success.
// Every call is recorded.
type Fake struct {
	Local bool
	Dry   bool
	// Results maps a command name (argv[0]) to a queue of outcomes.
	Results map[string][]FakeResult

	// Commands records every executed argv, joined with spaces.
	Commands []string
	// Sent and Fetched record file transfers as "src -> dst".
	Sent    []string
	Fetched []string
	// ReachableErr is returned from CheckReachable.
	ReachableErr error
}

func NewFake() *Fake {
	return &Fake{Local: true, Results: make(map[string][]FakeResult)}
}

// Script queues an outcome for the next command starting with name.
func (f *Fake) Script(name string, res FakeResult) {
	f.Results[name] = append(f.Results[name], res)
}

func (f *Fake) IsLocal() bool { return f.Local }
func (f *Fake) DryRun() bool  { return f.Dry }
func (f *Fake) User() string  { return "" }

func (f *Fake) Execute(ctx context.Context, cmd Command) (Proc, error) {
	f.Commands = append(f.Commands, strings.Join(cmd.Argv, " "))
	res := FakeResult{}
	if queue := f.Results[cmd.Argv[0]]; len(queue) > 0 {
		res = queue[0]
		f.Results[cmd.Argv[0]] = queue[1:]
	}
	if cmd.Stdout != nil && res.Stdout != "" {
		_, _ = cmd.Stdout.Write([]byte(res.Stdout))
	}
	stderr := cmd.Stderr
	if stderr == nil {
		stderr = cmd.Stdout
	}
	if stderr != nil && res.Stderr != "" {
		_, _ = stderr.Write([]byte(res.Stderr))
	}
	return fakeProc{code: res.Code}, nil
}

type fakeProc struct {
	code int
}

func (p fakeProc) PID() int           { return 4242 }
func (p fakeProc) Wait() (int, error) { return p.code, nil }

func (f *Fake) SendFile(ctx context.Context, src, dst string) error {
	f.Sent = append(f.Sent, src+" -> "+dst)
	return nil
}

func (f *Fake) GetFile(ctx context.Context, src, dst string) error {
	f.Fetched = append(f.Fetched, src+" -> "+dst)
	return nil
}

func (f *Fake) CheckReachable(ctx context.Context, timeout time.Duration) error {
	return f.ReachableErr
}
