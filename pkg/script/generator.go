package script

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Renderer turns a canonical directive value into zero or more native
// directive lines (without the site prefix). A nil slice omits the
// directive.
type Renderer func(value string) ([]string, error)

// Template renders a directive through a printf-style format with a single
// %s verb, e.g. Template("-A %s").
func Template(format string) Renderer {
	return func(value string) ([]string, error) {
		return []string{fmt.Sprintf(format, value)}, nil
	}
}

// Ignore drops the directive without warning.
func Ignore(string) ([]string, error) { return nil, nil }

// Flag renders a fixed line when the directive's boolean value resolves to
// true, and omits it otherwise.
func Flag(line string) Renderer {
	return func(value string) ([]string, error) {
		on, err := ParseBoolValue(value)
		if err != nil {
			return nil, err
		}
		if !on {
			return nil, nil
		}
		return []string{line}, nil
	}
}

// Branch renders a boolean directive whose native form encodes both truth
// values, e.g. Branch("--hint=%smultithread", "", "no"). The line is always
// emitted, with the word matching the resolved boolean.
func Branch(format, trueWord, falseWord string) Renderer {
	return func(value string) ([]string, error) {
		on, err := ParseBoolValue(value)
		if err != nil {
			return nil, err
		}
		word := falseWord
		if on {
			word = trueWord
		}
		return []string{fmt.Sprintf(format, word)}, nil
	}
}

// Generator reassembles a script from its parsed model and a site's
// directive translation table.
type Generator struct {
	// Prefix is prepended to every rendered directive line, e.g. "#PBS ".
	// An empty prefix with an empty table produces no directive lines.
	Prefix string
	// Translate maps canonical directive names to renderers.
	Translate map[string]Renderer
	// Unknown is the policy for directives with no table entry.
	Unknown UnknownPolicy
	// DefaultShebang is used when the script had no shebang line.
	DefaultShebang string
}

// Generate produces the final script text: shebang, rendered directives,
// native passthrough lines, extra translator lines, then the body,
// byte-for-byte as parsed.
func (g *Generator) Generate(s *Script) (string, error) {
	var lines []string

	shebang := s.Shebang
	if shebang == "" {
		shebang = g.DefaultShebang
	}
	if shebang != "" {
		lines = append(lines, shebang)
	}

	// a site without native directives consumes the parsed ones silently
	dropAll := g.Prefix == "" && len(g.Translate) == 0

	for _, name := range s.Directives.Names() {
		value, _ := s.Directives.Get(name)
		r, ok := g.Translate[name]
		if !ok {
			if dropAll {
				continue
			}
			switch g.Unknown {
			case UnknownFail:
				return "", &UnknownDirectiveError{Name: name}
			case UnknownWarn:
				zap.L().Warn("unknown directive, dropped", zap.String("directive", name))
			}
			continue
		}
		rendered, err := r(value)
		if err != nil {
			return "", fmt.Errorf("directive %q: %w", name, err)
		}
		for _, line := range rendered {
			lines = append(lines, g.Prefix+line)
		}
	}

	lines = append(lines, s.Native...)

	if len(s.Extra) > 0 {
		lines = append(lines, "")
		lines = append(lines, s.Extra...)
	}

	lines = append(lines, s.Body...)
	return strings.Join(lines, "\n"), nil
}
