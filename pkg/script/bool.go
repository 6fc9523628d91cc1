package script

import (
	"fmt"
	"strings"
)

// ParseBoolValue parses a boolean directive value. True literals are "yes",
// "1", "true" and "on", false literals "no", "0", "false" and "off", all
// case-insensitive. An empty value means the directive was given as a bare
// flag and counts as true.
func ParseBoolValue(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return true, nil
	case "yes", "1", "true", "on":
		return true, nil
	case "no", "0", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("cannot parse boolean %q", s)
}
