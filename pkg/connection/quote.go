package connection

import (
	"regexp"
	"strings"
)

var safeWordRE = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// quote escapes a single word for a POSIX shell, the way the remote side of
// an ssh invocation will re-parse it.
func quote(word string) string {
	if word == "" {
		return "''"
	}
	if safeWordRE.MatchString(word) {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'"'"'`) + "'"
}

// quoteAll escapes every word of a remote command line.
func quoteAll(argv []string) []string {
	out := make([]string, len(argv))
	for i, w := range argv {
		out[i] = quote(w)
	}
	return out
}
