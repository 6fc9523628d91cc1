// Package hook runs site-configured actions around the main job
// operations. Hooks are registered by name per stage and bound to a site
// through its configuration.
package hook

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/sites"
)

// HookError reports a failed hook.
type HookError struct {
	Stage string
	Name  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook %q: %s", e.Stage, e.Name, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Context carries the information hooks act on. Fields irrelevant to a
// stage are left at their zero value.
type Context struct {
	Action     string
	Site       sites.Site
	ScriptPath string
	Output     string
	User       string
	JobID      string
	KillStatus sites.KillStatus
	Success    bool
	Logfile    string
	Timeout    time.Duration
}

// StartupFunc runs before the action body. An error aborts the action.
type StartupFunc func(ctx context.Context, hc *Context) error

// PreSubmitFunc runs between script generation and submission.
type PreSubmitFunc func(ctx context.Context, hc *Context) error

// PostKillFunc runs after a successful kill.
type PostKillFunc func(ctx context.Context, hc *Context) error

// ExitFunc always runs last, receiving the action outcome.
type ExitFunc func(ctx context.Context, hc *Context) error

var (
	startupFuncs   = map[string]StartupFunc{}
	preSubmitFuncs = map[string]PreSubmitFunc{}
	postKillFuncs  = map[string]PostKillFunc{}
	exitFuncs      = map[string]ExitFunc{}
)

// RegisterStartup adds a named at_startup hook. Duplicate names panic.
func RegisterStartup(name string, f StartupFunc) {
	if _, dup := startupFuncs[name]; dup {
		panic(fmt.Sprintf("hook: duplicate at_startup hook %q", name))
	}
	startupFuncs[name] = f
}

// RegisterPreSubmit adds a named pre_submit hook. Duplicate names panic.
func RegisterPreSubmit(name string, f PreSubmitFunc) {
	if _, dup := preSubmitFuncs[name]; dup {
		panic(fmt.Sprintf("hook: duplicate pre_submit hook %q", name))
	}
	preSubmitFuncs[name] = f
}

// RegisterPostKill adds a named post_kill hook. Duplicate names panic.
func RegisterPostKill(name string, f PostKillFunc) {
	if _, dup := postKillFuncs[name]; dup {
		panic(fmt.Sprintf("hook: duplicate post_kill hook %q", name))
	}
	postKillFuncs[name] = f
}

// RegisterExit adds a named at_exit hook. Duplicate names panic.
func RegisterExit(name string, f ExitFunc) {
	if _, dup := exitFuncs[name]; dup {
		panic(fmt.Sprintf("hook: duplicate at_exit hook %q", name))
	}
	exitFuncs[name] = f
}

type named[F any] struct {
	name string
	f    F
}

// Set holds the hooks enabled for one site.
type Set struct {
	startup   []named[StartupFunc]
	preSubmit []named[PreSubmitFunc]
	postKill  []named[PostKillFunc]
	exit      []named[ExitFunc]
}

// NewSet resolves the hook names bound in the site configuration. An
// unknown name is a configuration error.
func NewSet(cfg config.SiteConfig) (*Set, error) {
	s := &Set{}
	for _, name := range cfg.AtStartup {
		f, ok := startupFuncs[name]
		if !ok {
			return nil, config.Errorf("unknown at_startup hook %q", name)
		}
		s.startup = append(s.startup, named[StartupFunc]{name, f})
	}
	for _, name := range cfg.PreSubmit {
		f, ok := preSubmitFuncs[name]
		if !ok {
			return nil, config.Errorf("unknown pre_submit hook %q", name)
		}
		s.preSubmit = append(s.preSubmit, named[PreSubmitFunc]{name, f})
	}
	for _, name := range cfg.PostKill {
		f, ok := postKillFuncs[name]
		if !ok {
			return nil, config.Errorf("unknown post_kill hook %q", name)
		}
		s.postKill = append(s.postKill, named[PostKillFunc]{name, f})
	}
	for _, name := range cfg.AtExit {
		f, ok := exitFuncs[name]
		if !ok {
			return nil, config.Errorf("unknown at_exit hook %q", name)
		}
		s.exit = append(s.exit, named[ExitFunc]{name, f})
	}
	return s, nil
}

// AtStartup runs the enabled startup hooks. The first failure aborts.
func (s *Set) AtStartup(ctx context.Context, hc *Context) error {
	for _, h := range s.startup {
		zap.L().Debug("running at_startup hook", zap.String("hook", h.name))
		if err := h.f(ctx, hc); err != nil {
			return &HookError{Stage: "at_startup", Name: h.name, Err: err}
		}
	}
	return nil
}

// PreSubmit runs the enabled pre-submit hooks. The first failure aborts.
func (s *Set) PreSubmit(ctx context.Context, hc *Context) error {
	for _, h := range s.preSubmit {
		zap.L().Debug("running pre_submit hook", zap.String("hook", h.name))
		if err := h.f(ctx, hc); err != nil {
			return &HookError{Stage: "pre_submit", Name: h.name, Err: err}
		}
	}
	return nil
}

// PostKill runs the enabled post-kill hooks. Failures are logged; every
// hook still runs.
func (s *Set) PostKill(ctx context.Context, hc *Context) {
	for _, h := range s.postKill {
		zap.L().Debug("running post_kill hook", zap.String("hook", h.name))
		if err := h.f(ctx, hc); err != nil {
			zap.L().Error("post_kill hook failed", zap.String("hook", h.name), zap.Error(err))
		}
	}
}

// AtExit runs the enabled exit hooks. Failures are logged and never mask
// the action outcome.
func (s *Set) AtExit(ctx context.Context, hc *Context) {
	for _, h := range s.exit {
		zap.L().Debug("running at_exit hook", zap.String("hook", h.name))
		if err := h.f(ctx, hc); err != nil {
			zap.L().Error("at_exit hook failed", zap.String("hook", h.name), zap.Error(err))
		}
	}
}

func init() {
	RegisterStartup("check_connection", checkConnection)
	RegisterPreSubmit("create_output_dir", createOutputDir)
	RegisterPreSubmit("copy_orig_script", copyOrigScript)
	RegisterExit("copy_submit_logfile", copySubmitLogfile)
	RegisterExit("copy_kill_logfile", copyKillLogfile)
}

func checkConnection(ctx context.Context, hc *Context) error {
	return hc.Site.CheckConnection(ctx, hc.Timeout)
}

func createOutputDir(ctx context.Context, hc *Context) error {
	_, err := sites.EnsureOutputDir(ctx, hc.Site.Connection(), hc.Output)
	return err
}

func copyOrigScript(ctx context.Context, hc *Context) error {
	dir, err := sites.EnsureOutputDir(ctx, hc.Site.Connection(), hc.Output)
	if err != nil {
		return err
	}
	orig := sites.OrigFile(hc.ScriptPath)
	return hc.Site.Connection().SendFile(ctx, orig, filepath.Join(dir, filepath.Base(orig)))
}

func copySubmitLogfile(ctx context.Context, hc *Context) error {
	if hc.Action != "submit" || hc.Logfile == "" {
		return nil
	}
	dir, err := sites.EnsureOutputDir(ctx, hc.Site.Connection(), hc.Output)
	if err != nil {
		return err
	}
	return hc.Site.Connection().SendFile(ctx, hc.Logfile, filepath.Join(dir, filepath.Base(hc.Logfile)))
}

func copyKillLogfile(ctx context.Context, hc *Context) error {
	if hc.Action != "kill" || hc.Logfile == "" {
		return nil
	}
	if hc.Output == "" {
		return fmt.Errorf("copy_kill_logfile hook requires the output argument")
	}
	dir, err := sites.EnsureOutputDir(ctx, hc.Site.Connection(), hc.Output)
	if err != nil {
		return err
	}
	return hc.Site.Connection().SendFile(ctx, hc.Logfile, filepath.Join(dir, filepath.Base(hc.Logfile)))
}
