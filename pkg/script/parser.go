package script

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// UnknownPolicy controls what happens when a directive does not belong to
// the site vocabulary: abort, warn and keep the line as native passthrough,
// or keep it silently.
type UnknownPolicy int

const (
	UnknownWarn UnknownPolicy = iota
	UnknownFail
	UnknownIgnore
)

// ParsePolicy converts the configuration value for unknown_directive.
// The empty string selects the default (warn).
func ParsePolicy(s string) (UnknownPolicy, error) {
	switch strings.ToLower(s) {
	case "", "warn":
		return UnknownWarn, nil
	case "fail":
		return UnknownFail, nil
	case "ignore":
		return UnknownIgnore, nil
	}
	return UnknownWarn, fmt.Errorf("invalid unknown_directive value %q, should be 'fail', 'warn', or 'ignore'", s)
}

var (
	directiveRE = regexp.MustCompile(`(?i)^#\s*troika\s+(.+?)\s*$`)
	keyValRE    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*)$`)
)

// NativeParser recognizes scheduler-specific directive lines (e.g. "#PBS -q
// np") and collects them verbatim, except for options in its drop set which
// would conflict with rendered directives.
type NativeParser struct {
	directive *regexp.Regexp
	key       *regexp.Regexp
	drop      map[string]struct{}
	lines     []string
}

// NewNativeParser builds a native directive parser. directive must capture
// the option text after the scheduler marker, key must capture the option
// name at the start of that text.
func NewNativeParser(directive, key *regexp.Regexp, dropKeys []string) *NativeParser {
	drop := make(map[string]struct{}, len(dropKeys))
	for _, k := range dropKeys {
		drop[k] = struct{}{}
	}
	return &NativeParser{directive: directive, key: key, drop: drop}
}

// Feed consumes a line if it is a native directive. Dropped options are
// consumed but not kept.
func (p *NativeParser) Feed(line string) bool {
	m := p.directive.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	if km := p.key.FindStringSubmatch(strings.TrimSpace(m[1])); km != nil {
		if _, dropped := p.drop[km[1]]; dropped {
			return true
		}
	}
	p.lines = append(p.lines, line)
	return true
}

// Lines returns the collected native directive lines in order.
func (p *NativeParser) Lines() []string {
	return p.lines
}

// ParseOptions configures a Parse run.
type ParseOptions struct {
	// Vocabulary is the set of canonical directive names the target site
	// understands. When nil, every well-formed directive is accepted.
	Vocabulary map[string]bool
	// Unknown is the policy for directives outside the vocabulary.
	Unknown UnknownPolicy
	// Native recognizes the site's own directive syntax; may be nil.
	Native *NativeParser
}

// Parse scans the raw script text line by line, classifying each line as
// shebang, troika directive, native scheduler directive, or body. Only a
// malformed troika directive line (bad key or missing '=') is an error;
// out-of-vocabulary directives go through the unknown_directive policy.
func Parse(text string, opts ParseOptions) (*Script, error) {
	s := NewScript()
	sawContent := false

	for i, line := range strings.Split(text, "\n") {
		if dm := directiveRE.FindStringSubmatch(line); dm != nil {
			kvm := keyValRE.FindStringSubmatch(dm[1])
			if kvm == nil {
				return nil, &ParseError{Line: i + 1, Msg: fmt.Sprintf("invalid key-value pair: %q", dm[1])}
			}
			key := Canonical(kvm[1])
			if opts.Vocabulary != nil && !opts.Vocabulary[key] {
				switch opts.Unknown {
				case UnknownFail:
					return nil, &UnknownDirectiveError{Name: key}
				case UnknownWarn:
					zap.L().Warn("unknown directive, keeping line as-is",
						zap.String("directive", key))
					fallthrough
				case UnknownIgnore:
					s.Native = append(s.Native, line)
					continue
				}
			}
			s.Directives.Set(key, kvm[2], OriginScript)
			continue
		}
		if opts.Native != nil && opts.Native.Feed(line) {
			continue
		}
		if !sawContent {
			if strings.TrimSpace(line) == "" {
				// blank line above the shebang
				s.Body = append(s.Body, line)
				continue
			}
			sawContent = true
			if strings.HasPrefix(line, "#!") {
				s.Shebang = line
				continue
			}
		}
		s.Body = append(s.Body, line)
	}

	if opts.Native != nil {
		s.Native = append(s.Native, opts.Native.Lines()...)
	}
	return s, nil
}

// ParseDefines processes command-line name=value directive overrides. Keys
// are canonicalized; the caller merges the result over script directives.
func ParseDefines(defines []string) ([][2]string, error) {
	out := make([][2]string, 0, len(defines))
	for _, def := range defines {
		m := keyValRE.FindStringSubmatch(def)
		if m == nil {
			return nil, &ParseError{Msg: fmt.Sprintf("invalid key-value pair: %q", def)}
		}
		out = append(out, [2]string{Canonical(m[1]), m[2]})
	}
	return out, nil
}
