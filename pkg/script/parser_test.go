package script

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestParseDirectives(t *testing.T) {
	text := strings.Join([]string{
		"#!/bin/bash",
		"#TROIKA name=myjob",
		"# troika queue = np",
		"#troika walltime=01:00:00",
		"echo hi",
	}, "\n")
	s, err := Parse(text, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Shebang != "#!/bin/bash" {
		t.Fatalf("shebang = %q", s.Shebang)
	}
	for _, c := range []struct{ name, want string }{
		{"name", "myjob"},
		{"queue", "np"},
		{"walltime", "01:00:00"},
	} {
		got, ok := s.Directives.Get(c.name)
		if !ok || got != c.want {
			t.Errorf("directive %s = %q, %v; want %q", c.name, got, ok, c.want)
		}
	}
	if len(s.Body) != 1 || s.Body[0] != "echo hi" {
		t.Fatalf("body = %q", s.Body)
	}
}

func TestParseAliases(t *testing.T) {
	text := strings.Join([]string{
		"#!/bin/sh",
		"#troika job_name=j1",
		"#troika time=02:00:00",
		"#troika error=err.txt",
		"#troika output=out.txt",
	}, "\n")
	s, err := Parse(text, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for alias, canon := range map[string]string{
		"job_name": "name",
		"time":     "walltime",
		"error":    "error_file",
		"output":   "output_file",
	} {
		if !s.Directives.Has(canon) {
			t.Errorf("alias %s did not resolve to %s", alias, canon)
		}
	}
	if got := s.Directives.Names(); len(got) != 4 {
		t.Fatalf("names = %q", got)
	}
}

func TestParseAliasCollisionLastWins(t *testing.T) {
	text := strings.Join([]string{
		"#!/bin/sh",
		"#troika time=01:00:00",
		"#troika walltime=02:00:00",
		"#troika output=a.txt",
		"#troika output_file=b.txt",
		"true",
	}, "\n")
	s, err := Parse(text, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, _ := s.Directives.Get("walltime"); got != "02:00:00" {
		t.Fatalf("walltime = %q", got)
	}
	if got, _ := s.Directives.Get("output_file"); got != "b.txt" {
		t.Fatalf("output_file = %q", got)
	}
	// the alias and its canonical spelling share one entry
	if got := s.Directives.Names(); len(got) != 2 {
		t.Fatalf("names = %q", got)
	}
}

func TestParseBlankLinesAboveShebang(t *testing.T) {
	text := "\n\n#!/bin/bash\necho hi"
	s, err := Parse(text, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Shebang != "#!/bin/bash" {
		t.Fatalf("shebang = %q", s.Shebang)
	}
	if len(s.Body) != 3 {
		t.Fatalf("body = %q", s.Body)
	}
}

func TestParseNoShebangAfterContent(t *testing.T) {
	text := "echo first\n#!/bin/bash"
	s, err := Parse(text, ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Shebang != "" {
		t.Fatalf("shebang = %q, want none", s.Shebang)
	}
	if len(s.Body) != 2 {
		t.Fatalf("body = %q", s.Body)
	}
}

func TestParseMalformedDirective(t *testing.T) {
	_, err := Parse("#troika not a pair", ParseOptions{})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if perr.Line != 1 {
		t.Fatalf("line = %d", perr.Line)
	}
}

func TestParseUnknownPolicies(t *testing.T) {
	vocab := map[string]bool{"name": true}
	text := "#!/bin/sh\n#troika name=ok\n#troika mystery=1"

	if _, err := Parse(text, ParseOptions{Vocabulary: vocab, Unknown: UnknownFail}); err == nil {
		t.Fatal("fail policy accepted unknown directive")
	} else {
		var uerr *UnknownDirectiveError
		if !errors.As(err, &uerr) || uerr.Name != "mystery" {
			t.Fatalf("err = %v", err)
		}
	}

	for _, policy := range []UnknownPolicy{UnknownWarn, UnknownIgnore} {
		s, err := Parse(text, ParseOptions{Vocabulary: vocab, Unknown: policy})
		if err != nil {
			t.Fatalf("policy %v: %v", policy, err)
		}
		if s.Directives.Has("mystery") {
			t.Fatalf("policy %v kept unknown directive", policy)
		}
		if len(s.Native) != 1 || s.Native[0] != "#troika mystery=1" {
			t.Fatalf("policy %v native = %q", policy, s.Native)
		}
	}
}

func TestParseNativeDirectives(t *testing.T) {
	np := NewNativeParser(
		regexp.MustCompile(`^#\s*PBS\s+(.+?)\s*$`),
		regexp.MustCompile(`^(\S+)`),
		[]string{"-o", "-e", "-j"},
	)
	text := strings.Join([]string{
		"#!/bin/bash",
		"#PBS -q np",
		"#PBS -o dropped.txt",
		"#troika name=j1",
		"echo hi",
	}, "\n")
	s, err := Parse(text, ParseOptions{Native: np})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Native) != 1 || s.Native[0] != "#PBS -q np" {
		t.Fatalf("native = %q", s.Native)
	}
	if len(s.Body) != 1 || s.Body[0] != "echo hi" {
		t.Fatalf("body = %q", s.Body)
	}
}

func TestParseDefines(t *testing.T) {
	defs, err := ParseDefines([]string{"job_name=j2", "queue=express"})
	if err != nil {
		t.Fatalf("ParseDefines: %v", err)
	}
	if len(defs) != 2 || defs[0] != [2]string{"name", "j2"} || defs[1] != [2]string{"queue", "express"} {
		t.Fatalf("defines = %v", defs)
	}
	if _, err := ParseDefines([]string{"oops"}); err == nil {
		t.Fatal("malformed define accepted")
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]UnknownPolicy{
		"":       UnknownWarn,
		"warn":   UnknownWarn,
		"fail":   UnknownFail,
		"IGNORE": UnknownIgnore,
	} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Fatal("invalid policy accepted")
	}
}

func TestParseBoolValue(t *testing.T) {
	for in, want := range map[string]bool{
		"":      true,
		"yes":   true,
		"1":     true,
		"TRUE":  true,
		"on":    true,
		"true":  true,
		"On":    true,
		"no":    false,
		"0":     false,
		"off":   false,
		"false": false,
		"FALSE": false,
		"Off":   false,
	} {
		got, err := ParseBoolValue(in)
		if err != nil || got != want {
			t.Errorf("ParseBoolValue(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseBoolValue("maybe"); err == nil {
		t.Fatal("invalid boolean accepted")
	}
}
