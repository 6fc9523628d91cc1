package script

import (
	"fmt"
	"strings"
)

// Preprocessor rewrites the raw script lines before parsing. Preprocessors
// run in configuration order, each consuming the previous one's output.
type Preprocessor func(lines []string) []string

var preprocessors = map[string]Preprocessor{}

// RegisterPreprocessor adds a preprocessor under a configuration key.
// Built-ins register at process start; duplicate keys panic.
func RegisterPreprocessor(name string, p Preprocessor) {
	if _, exists := preprocessors[name]; exists {
		panic(fmt.Sprintf("preprocessor %q already registered", name))
	}
	preprocessors[name] = p
}

// PreprocessChain resolves an ordered list of preprocessor names from
// configuration.
func PreprocessChain(names []string) ([]Preprocessor, error) {
	out := make([]Preprocessor, 0, len(names))
	for _, name := range names {
		p, ok := preprocessors[name]
		if !ok {
			return nil, fmt.Errorf("unknown preprocessor %q", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// Preprocess runs the chain in order over the script lines.
func Preprocess(chain []Preprocessor, lines []string) []string {
	for _, p := range chain {
		lines = p(lines)
	}
	return lines
}

func init() {
	RegisterPreprocessor("remove_top_blank_lines", RemoveTopBlankLines)
}

// RemoveTopBlankLines drops blank lines at the top of the script so the
// shebang ends up on the first line.
func RemoveTopBlankLines(lines []string) []string {
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			return lines[i:]
		}
	}
	return nil
}
