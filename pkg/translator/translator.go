// Package translator holds the directive translators that run between the
// command-line override merge and site-specific rendering. Translators are
// pure transforms over the directive mapping: they may add or normalize
// directives but must not overwrite values that are already set, which makes
// the chain idempotent.
package translator

import (
	"fmt"
	"sort"
	"strconv"

	"troika/pkg/script"
)

// SiteContext exposes the pieces of site configuration translators consume.
type SiteContext interface {
	// ExtraDirectives returns the configured extra-directives mapping.
	ExtraDirectives() map[string]string
}

// Translator mutates the script's directive mapping in place.
type Translator func(s *script.Script, site SiteContext) error

var registry = map[string]Translator{}

// Register adds a translator under a configuration key. Built-ins register
// at process start; external extensions may call this before the chain is
// built. Duplicate keys panic.
func Register(name string, t Translator) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("translator %q already registered", name))
	}
	registry[name] = t
}

// Chain resolves an ordered list of translator names from configuration.
func Chain(names []string) ([]Translator, error) {
	out := make([]Translator, 0, len(names))
	for _, name := range names {
		t, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown translator %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// Apply runs the chain in order.
func Apply(chain []Translator, s *script.Script, site SiteContext) error {
	for _, t := range chain {
		if err := t(s, site); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Register("join_output_error", JoinOutputError)
	Register("extra_directives", ExtraDirectives)
	Register("enable_hyperthreading", EnableHyperthreading)
}

// JoinOutputError requests joined output and error streams when the script
// does not redirect errors on its own.
func JoinOutputError(s *script.Script, _ SiteContext) error {
	if !s.Directives.Has("error_file") {
		s.Directives.SetDefault("join_output_error", "", script.OriginTranslator)
	}
	return nil
}

// ExtraDirectives fills in directives from the site's extra_directives
// mapping, never overriding an existing value.
func ExtraDirectives(s *script.Script, site SiteContext) error {
	extra := site.ExtraDirectives()
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Directives.SetDefault(name, extra[name], script.OriginTranslator)
	}
	return nil
}

// EnableHyperthreading derives the enable_hyperthreading directive from
// threads_per_core: true iff more than one thread per core was requested.
func EnableHyperthreading(s *script.Script, _ SiteContext) error {
	if s.Directives.Has("enable_hyperthreading") {
		return nil
	}
	enable := false
	if raw, ok := s.Directives.Get("threads_per_core"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid threads_per_core value %q: %w", raw, err)
		}
		enable = n > 1
	}
	value := "false"
	if enable {
		value = "true"
	}
	s.Directives.SetDefault("enable_hyperthreading", value, script.OriginTranslator)
	return nil
}
