// Package controller drives one job action end to end: resolve the site,
// run the lifecycle hooks, process the script and dispatch to the
// scheduler adapter.
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/hook"
	"troika/pkg/script"
	"troika/pkg/sites"
	"troika/pkg/translator"
)

// Controller runs actions against one configured site.
type Controller struct {
	cfg     *config.Config
	site    sites.Site
	hooks   *hook.Set
	policy  script.UnknownPolicy
	pre     []script.Preprocessor
	name    string
	user    string
	logfile string
}

// New resolves the named site and its hooks from the configuration.
func New(cfg *config.Config, siteName, user string, dryrun bool, logfile string) (*Controller, error) {
	site, err := sites.New(cfg, siteName, user, dryrun)
	if err != nil {
		return nil, err
	}
	hooks, err := hook.NewSet(site.Config())
	if err != nil {
		return nil, err
	}
	policy, err := script.ParsePolicy(site.Config().UnknownDirective)
	if err != nil {
		return nil, config.Errorf("site %q: %s", siteName, err)
	}
	pre, err := script.PreprocessChain(site.Config().Preprocess)
	if err != nil {
		return nil, config.Errorf("site %q: %s", siteName, err)
	}
	return &Controller{
		cfg:     cfg,
		site:    site,
		hooks:   hooks,
		policy:  policy,
		pre:     pre,
		name:    siteName,
		user:    user,
		logfile: logfile,
	}, nil
}

// Site returns the resolved site adapter.
func (c *Controller) Site() sites.Site { return c.site }

// Submit processes and submits a job script, returning the job id.
func (c *Controller) Submit(ctx context.Context, scriptPath, output, user string, defines []string) (jid string, err error) {
	scriptPath, err = filepath.Abs(scriptPath)
	if err != nil {
		return "", err
	}
	lock, err := sites.AcquireLock(ctx, scriptPath)
	if err != nil {
		return "", err
	}
	defer lock.Release()

	hc := &hook.Context{
		Action:     "submit",
		Site:       c.site,
		ScriptPath: scriptPath,
		Output:     output,
		User:       user,
		Logfile:    c.logfile,
	}
	defer func() {
		hc.Success = err == nil
		c.hooks.AtExit(ctx, hc)
	}()
	if err = c.hooks.AtStartup(ctx, hc); err != nil {
		return "", err
	}

	if err = c.generate(scriptPath, output, defines); err != nil {
		return "", err
	}
	if err = c.hooks.PreSubmit(ctx, hc); err != nil {
		return "", err
	}
	jid, err = c.site.Submit(ctx, scriptPath, user, output)
	if err != nil {
		return "", err
	}
	hc.JobID = jid
	return jid, nil
}

// Monitor fetches the job status into the script's stat sidecar file.
func (c *Controller) Monitor(ctx context.Context, scriptPath, output, user, jid string) (err error) {
	scriptPath, err = filepath.Abs(scriptPath)
	if err != nil {
		return err
	}
	lock, err := sites.AcquireLock(ctx, scriptPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	hc := &hook.Context{
		Action:     "monitor",
		Site:       c.site,
		ScriptPath: scriptPath,
		Output:     output,
		User:       user,
		JobID:      jid,
		Logfile:    c.logfile,
	}
	defer func() {
		hc.Success = err == nil
		c.hooks.AtExit(ctx, hc)
	}()
	if err = c.hooks.AtStartup(ctx, hc); err != nil {
		return err
	}
	return c.site.Monitor(ctx, scriptPath, user, output, jid)
}

// Kill terminates the job and reports its job id and final status.
func (c *Controller) Kill(ctx context.Context, scriptPath, output, user, jid string) (rjid string, status sites.KillStatus, err error) {
	scriptPath, err = filepath.Abs(scriptPath)
	if err != nil {
		return "", "", err
	}
	lock, err := sites.AcquireLock(ctx, scriptPath)
	if err != nil {
		return "", "", err
	}
	defer lock.Release()

	hc := &hook.Context{
		Action:     "kill",
		Site:       c.site,
		ScriptPath: scriptPath,
		Output:     output,
		User:       user,
		JobID:      jid,
		Logfile:    c.logfile,
	}
	defer func() {
		hc.Success = err == nil
		c.hooks.AtExit(ctx, hc)
	}()
	if err = c.hooks.AtStartup(ctx, hc); err != nil {
		return "", "", err
	}

	rjid, status, err = c.site.Kill(ctx, scriptPath, user, output, jid)
	if err != nil {
		return "", "", err
	}
	hc.JobID, hc.KillStatus = rjid, status
	c.hooks.PostKill(ctx, hc)
	return rjid, status, nil
}

// CheckConnection verifies the site can execute commands.
func (c *Controller) CheckConnection(ctx context.Context, timeout time.Duration) (err error) {
	hc := &hook.Context{
		Action:  "check-connection",
		Site:    c.site,
		Logfile: c.logfile,
		Timeout: timeout,
	}
	defer func() {
		hc.Success = err == nil
		c.hooks.AtExit(ctx, hc)
	}()
	if err = c.hooks.AtStartup(ctx, hc); err != nil {
		return err
	}
	return c.site.CheckConnection(ctx, timeout)
}

// siteContext adapts the site configuration for directive translators.
type siteContext struct {
	cfg config.SiteConfig
}

func (s siteContext) ExtraDirectives() map[string]string { return s.cfg.ExtraDirectives }

// generate parses the script, applies overrides and translators, and
// rewrites the script in the site's native directive syntax. The original
// is preserved next to it with an .orig suffix.
func (c *Controller) generate(scriptPath, output string, defines []string) error {
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return err
	}
	lines := script.Preprocess(c.pre, strings.Split(string(raw), "\n"))

	siteCfg := c.site.Config()
	prefix, translate := c.site.DirectiveTranslation()
	// a site with no translation table (like direct) takes any directive
	// and drops it at rendering time
	var vocab map[string]bool
	if len(translate) > 0 {
		vocab = make(map[string]bool, len(translate))
		for name := range translate {
			vocab[name] = true
		}
	}

	parsed, err := script.Parse(strings.Join(lines, "\n"), script.ParseOptions{
		Vocabulary: vocab,
		Unknown:    c.policy,
		Native:     c.site.NativeParser(),
	})
	if err != nil {
		return fmt.Errorf("in %s: %w", scriptPath, err)
	}

	overrides, err := script.ParseDefines(defines)
	if err != nil {
		return err
	}
	for _, kv := range overrides {
		parsed.Directives.Set(kv[0], kv[1], script.OriginOverride)
	}
	parsed.Directives.Set("output_file", output, script.OriginOverride)

	chain, err := translator.Chain(siteCfg.Translators)
	if err != nil {
		return err
	}
	if err := translator.Apply(chain, parsed, siteContext{cfg: siteCfg}); err != nil {
		return err
	}

	gen := &script.Generator{
		Prefix:         prefix,
		Translate:      translate,
		Unknown:        c.policy,
		DefaultShebang: siteCfg.DefaultShebang,
	}
	text, err := gen.Generate(parsed)
	if err != nil {
		return err
	}
	return replaceScript(scriptPath, text)
}

// replaceScript writes the generated text next to the script, backs the
// original up as <script>.orig and atomically renames the new version in
// place, preserving the file mode.
func replaceScript(scriptPath, text string) error {
	info, err := os.Stat(scriptPath)
	if err != nil {
		return err
	}
	tmp := scriptPath + "." + uuid.NewString()
	if err := os.WriteFile(tmp, []byte(text), info.Mode()); err != nil {
		return err
	}
	orig := sites.OrigFile(scriptPath)
	if _, err := os.Stat(orig); err == nil {
		zap.L().Warn("backup script file already exists, overwriting", zap.String("path", orig))
	}
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.WriteFile(orig, raw, info.Mode()); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, scriptPath); err != nil {
		os.Remove(tmp)
		return err
	}
	zap.L().Debug("script generated", zap.String("script", scriptPath), zap.String("backup", orig))
	return nil
}

// ListSites returns the configured sites for listings.
func ListSites(cfg *config.Config) ([]sites.Info, error) {
	return sites.List(cfg)
}
