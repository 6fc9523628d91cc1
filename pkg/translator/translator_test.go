package translator

import (
	"testing"

	"troika/pkg/script"
)

type fakeSite struct {
	extra map[string]string
}

func (f fakeSite) ExtraDirectives() map[string]string { return f.extra }

func TestJoinOutputError(t *testing.T) {
	s := script.NewScript()
	if err := JoinOutputError(s, fakeSite{}); err != nil {
		t.Fatalf("JoinOutputError: %v", err)
	}
	if !s.Directives.Has("join_output_error") {
		t.Fatal("join_output_error not set")
	}

	s = script.NewScript()
	s.Directives.Set("error_file", "err.txt", script.OriginScript)
	if err := JoinOutputError(s, fakeSite{}); err != nil {
		t.Fatalf("JoinOutputError: %v", err)
	}
	if s.Directives.Has("join_output_error") {
		t.Fatal("join_output_error set despite error_file")
	}
}

func TestExtraDirectives(t *testing.T) {
	s := script.NewScript()
	s.Directives.Set("queue", "fromscript", script.OriginScript)
	site := fakeSite{extra: map[string]string{"queue": "np", "billing_account": "proj1"}}
	if err := ExtraDirectives(s, site); err != nil {
		t.Fatalf("ExtraDirectives: %v", err)
	}
	if got, _ := s.Directives.Get("queue"); got != "fromscript" {
		t.Fatalf("queue overridden: %q", got)
	}
	if got, _ := s.Directives.Get("billing_account"); got != "proj1" {
		t.Fatalf("billing_account = %q", got)
	}
}

func TestEnableHyperthreading(t *testing.T) {
	s := script.NewScript()
	s.Directives.Set("threads_per_core", "2", script.OriginScript)
	if err := EnableHyperthreading(s, fakeSite{}); err != nil {
		t.Fatalf("EnableHyperthreading: %v", err)
	}
	if got, _ := s.Directives.Get("enable_hyperthreading"); got != "true" {
		t.Fatalf("enable_hyperthreading = %q", got)
	}

	s = script.NewScript()
	if err := EnableHyperthreading(s, fakeSite{}); err != nil {
		t.Fatalf("EnableHyperthreading: %v", err)
	}
	if got, _ := s.Directives.Get("enable_hyperthreading"); got != "false" {
		t.Fatalf("enable_hyperthreading = %q", got)
	}

	s = script.NewScript()
	s.Directives.Set("enable_hyperthreading", "true", script.OriginScript)
	s.Directives.Set("threads_per_core", "1", script.OriginScript)
	if err := EnableHyperthreading(s, fakeSite{}); err != nil {
		t.Fatalf("EnableHyperthreading: %v", err)
	}
	if got, _ := s.Directives.Get("enable_hyperthreading"); got != "true" {
		t.Fatalf("explicit value overridden: %q", got)
	}
}

func TestChainIdempotent(t *testing.T) {
	chain, err := Chain([]string{"join_output_error", "extra_directives", "enable_hyperthreading"})
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	s := script.NewScript()
	s.Directives.Set("name", "j1", script.OriginScript)
	site := fakeSite{extra: map[string]string{"queue": "np"}}

	if err := Apply(chain, s, site); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	first := snapshot(s)
	if err := Apply(chain, s, site); err != nil {
		t.Fatalf("Apply twice: %v", err)
	}
	second := snapshot(s)
	if len(first) != len(second) {
		t.Fatalf("chain not idempotent: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chain not idempotent: %v vs %v", first, second)
		}
	}
}

func TestChainUnknown(t *testing.T) {
	if _, err := Chain([]string{"no_such_translator"}); err == nil {
		t.Fatal("unknown translator accepted")
	}
}

func snapshot(s *script.Script) []string {
	var out []string
	for _, name := range s.Directives.Names() {
		v, _ := s.Directives.Get(name)
		out = append(out, name+"="+v)
	}
	return out
}
