package sites

import (
	"context"
	"time"

	"go.uber.org/zap"

	"troika/pkg/config"
	"troika/pkg/connection"
	"troika/pkg/script"
)

// groupSite delegates every operation to the first member site whose
// connection check succeeds. Selection happens once, at build time.
type groupSite struct {
	name     string
	cfg      config.SiteConfig
	selected Site
}

func newGroup(b *builder, name string, cfg config.SiteConfig) (Site, error) {
	if len(cfg.Members) == 0 {
		return nil, config.Errorf("site group %q has no 'sites'", name)
	}
	for _, member := range cfg.Members {
		zap.L().Debug("trying group member", zap.String("group", name), zap.String("site", member))
		site, err := b.build(member)
		if err != nil {
			return nil, err
		}
		if err := site.CheckConnection(context.Background(), 0); err != nil {
			zap.L().Warn("group member not available",
				zap.String("group", name), zap.String("site", member), zap.Error(err))
			continue
		}
		zap.L().Debug("group member selected", zap.String("group", name), zap.String("site", member))
		return &groupSite{name: name, cfg: cfg, selected: site}, nil
	}
	return nil, config.Errorf("no site available in group %q", name)
}

func (g *groupSite) Submit(ctx context.Context, scriptPath, user, output string) (string, error) {
	return g.selected.Submit(ctx, scriptPath, user, output)
}

func (g *groupSite) Monitor(ctx context.Context, scriptPath, user, output, jid string) error {
	return g.selected.Monitor(ctx, scriptPath, user, output, jid)
}

func (g *groupSite) Kill(ctx context.Context, scriptPath, user, output, jid string) (string, KillStatus, error) {
	return g.selected.Kill(ctx, scriptPath, user, output, jid)
}

func (g *groupSite) CheckConnection(ctx context.Context, timeout time.Duration) error {
	return g.selected.CheckConnection(ctx, timeout)
}

func (g *groupSite) NativeParser() *script.NativeParser { return g.selected.NativeParser() }

func (g *groupSite) DirectiveTranslation() (string, map[string]script.Renderer) {
	return g.selected.DirectiveTranslation()
}

func (g *groupSite) Connection() connection.Connection { return g.selected.Connection() }

func (g *groupSite) Config() config.SiteConfig { return g.selected.Config() }
