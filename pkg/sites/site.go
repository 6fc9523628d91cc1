// Package sites implements the scheduler adapters. A Site owns the
// submit/monitor/kill protocol against one scheduling backend and talks to
// it through a Connection; variants (direct, pbs, slurm, sge, group) are
// registered by kind and built from configuration.
package sites

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/connection"
	"troika/pkg/script"
)

// KillStatus describes how a job ended up after a kill request.
type KillStatus string

const (
	// KillCancelled: the job was cancelled before it started.
	KillCancelled KillStatus = "CANCELLED"
	// KillKilled: the job was removed without a catchable signal.
	KillKilled KillStatus = "KILLED"
	// KillTerminated: the job received a catchable signal and is expected
	// to clean up on its own.
	KillTerminated KillStatus = "TERMINATED"
	// KillVanished: the job had already disappeared.
	KillVanished KillStatus = "VANISHED"
)

// SiteProtocolError reports scheduler output that could not be parsed.
type SiteProtocolError struct {
	Msg string
}

func (e *SiteProtocolError) Error() string { return e.Msg }

// Site is a state-free adapter for one scheduling backend.
type Site interface {
	// Submit sends the generated script to the scheduler and returns the
	// assigned job id, which is also persisted in the script's jid sidecar
	// file. Under dry-run the job id is empty.
	Submit(ctx context.Context, scriptPath, user, output string) (string, error)
	// Monitor queries the scheduler and writes the raw output to the
	// script's stat sidecar file. The status is derived fresh every call.
	Monitor(ctx context.Context, scriptPath, user, output, jid string) error
	// Kill terminates the job, running the configured kill sequence if
	// any, and reports how the job ended.
	Kill(ctx context.Context, scriptPath, user, output, jid string) (string, KillStatus, error)
	// CheckConnection verifies the site is reachable.
	CheckConnection(ctx context.Context, timeout time.Duration) error

	// NativeParser recognizes the site's own directive syntax; nil if the
	// site has none.
	NativeParser() *script.NativeParser
	// DirectiveTranslation returns the directive prefix and rendering
	// table, with configuration overrides applied.
	DirectiveTranslation() (string, map[string]script.Renderer)

	Connection() connection.Connection
	Config() config.SiteConfig
}

// Factory builds a site variant from its configuration and connection.
type Factory func(cfg config.SiteConfig, conn connection.Connection) (Site, error)

var registry = map[string]Factory{}

// Register adds a site variant under its configuration type key.
// Built-ins register at process start; duplicates panic.
func Register(kind string, f Factory) {
	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("site type %q already registered", kind))
	}
	registry[kind] = f
}

// New builds the named site from the global configuration. The user
// argument overrides the configured remote user. Group sites are resolved
// recursively; definition cycles are rejected.
func New(global *config.Config, name, user string, dryrun bool) (Site, error) {
	b := &builder{global: global, user: user, dryrun: dryrun, visiting: map[string]bool{}}
	return b.build(name)
}

type builder struct {
	global   *config.Config
	user     string
	dryrun   bool
	visiting map[string]bool
}

func (b *builder) build(name string) (Site, error) {
	if b.visiting[name] {
		return nil, config.Errorf("site group cycle involving %q", name)
	}
	cfg, err := b.global.Site(name)
	if err != nil {
		return nil, err
	}
	if cfg.Type == "" {
		return nil, config.Errorf("site %q has no 'type'", name)
	}
	if cfg.Type == "group" {
		b.visiting[name] = true
		defer delete(b.visiting, name)
		return newGroup(b, name, cfg)
	}
	f, ok := registry[cfg.Type]
	if !ok {
		return nil, config.Errorf("site %q has unknown type %q", name, cfg.Type)
	}
	if cfg.Connection == "" {
		return nil, config.Errorf("site %q has no 'connection'", name)
	}
	conn, err := connection.New(cfg, b.user, b.dryrun)
	if err != nil {
		return nil, err
	}
	site, err := f(cfg, conn)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("site created", zap.String("site", name), zap.String("type", cfg.Type))
	return site, nil
}

// Info describes one configured site for listings.
type Info struct {
	Name       string
	Type       string
	Connection string
}

// List returns all configured sites sorted by name.
func List(global *config.Config) ([]Info, error) {
	if len(global.Sites) == 0 {
		return nil, config.Errorf("no 'sites' defined in configuration")
	}
	out := make([]Info, 0, len(global.Sites))
	for name, sc := range global.Sites {
		if sc.Type == "" {
			return nil, config.Errorf("site %q has no 'type'", name)
		}
		conn := sc.Connection
		if sc.Type == "group" {
			conn = "-"
		} else if conn == "" {
			return nil, config.Errorf("site %q has no 'connection'", name)
		}
		out = append(out, Info{Name: name, Type: sc.Type, Connection: conn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// base carries the pieces shared by every concrete site variant.
type base struct {
	cfg  config.SiteConfig
	conn connection.Connection
	seq  []killStep
}

func newBase(cfg config.SiteConfig, conn connection.Connection) (base, error) {
	seq, err := ParseKillSequence(cfg.KillSequence)
	if err != nil {
		return base{}, config.Errorf("invalid kill sequence: %v", err)
	}
	return base{cfg: cfg, conn: conn, seq: seq}, nil
}

func (b *base) Connection() connection.Connection { return b.conn }

func (b *base) Config() config.SiteConfig { return b.cfg }

func (b *base) CheckConnection(ctx context.Context, timeout time.Duration) error {
	return b.conn.CheckReachable(ctx, timeout)
}

// translation merges the configured directive_prefix and
// directive_translate overrides into the variant's built-in table. A null
// override drops the directive without warning.
func (b *base) translation(prefix string, table map[string]script.Renderer) (string, map[string]script.Renderer) {
	if b.cfg.DirectivePrefix != nil {
		prefix = *b.cfg.DirectivePrefix
	}
	merged := make(map[string]script.Renderer, len(table)+len(b.cfg.DirectiveTranslate))
	for name, r := range table {
		merged[name] = r
	}
	for name, format := range b.cfg.DirectiveTranslate {
		if format == nil {
			merged[script.Canonical(name)] = script.Ignore
		} else {
			merged[script.Canonical(name)] = script.Template(*format)
		}
	}
	return prefix, merged
}

// resolveJobID returns the explicit job id or falls back to the jid
// sidecar file, fetching it back from the output directory when copy_jid
// is in effect and the local copy is gone.
func (b *base) resolveJobID(ctx context.Context, scriptPath, output, jid string) (string, error) {
	if jid != "" {
		zap.L().Debug("using specified job id", zap.String("jid", jid))
		return jid, nil
	}
	jid, err := ReadJobID(scriptPath)
	if err != nil {
		if b.cfg.CopyJID && output != "" {
			remote := filepath.Join(filepath.Dir(output), filepath.Base(JidFile(scriptPath)))
			if gerr := b.conn.GetFile(ctx, remote, JidFile(scriptPath)); gerr == nil {
				return ReadJobID(scriptPath)
			}
		}
		return "", fmt.Errorf("could not read the job id: %w", err)
	}
	zap.L().Debug("read job id from sidecar file", zap.String("jid", jid))
	return jid, nil
}

// EnsureOutputDir creates the parent directory of path on the connection's
// target host.
func EnsureOutputDir(ctx context.Context, conn connection.Connection, path string) (string, error) {
	dir := filepath.Dir(path)
	if conn.IsLocal() {
		if conn.DryRun() {
			zap.L().Info("dry-run: ensure directory exists", zap.String("dir", dir))
			return dir, nil
		}
		return dir, os.MkdirAll(dir, 0o755)
	}
	proc, err := conn.Execute(ctx, connection.Command{Argv: []string{"mkdir", "-p", dir}})
	if err != nil {
		return dir, err
	}
	code, err := proc.Wait()
	if err != nil {
		return dir, err
	}
	return dir, connection.CheckExit(code, "create directory")
}
