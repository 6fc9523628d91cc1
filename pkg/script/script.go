// Package script implements the job script model: parsing a raw script into
// a shebang line, a set of canonical directives, native scheduler directive
// lines carried verbatim, and an untouched body, plus regenerating a valid
// script from that model after translation.
package script

import "strings"

// Origin records where a directive value came from. Later writes for the
// same canonical key win regardless of origin; translators are expected to
// only fill absent keys.
type Origin int

const (
	OriginScript Origin = iota
	OriginOverride
	OriginTranslator
)

func (o Origin) String() string {
	switch o {
	case OriginScript:
		return "script"
	case OriginOverride:
		return "override"
	case OriginTranslator:
		return "translator"
	default:
		return "unknown"
	}
}

// aliases maps alternate directive spellings to their canonical name.
var aliases = map[string]string{
	"error":    "error_file",
	"job_name": "name",
	"output":   "output_file",
	"time":     "walltime",
}

// Canonical case-folds a directive name and resolves aliases. Applying it
// twice yields the same result.
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canon, ok := aliases[name]; ok {
		return canon
	}
	return name
}

type directiveEntry struct {
	value  string
	origin Origin
}

// Directives is a name-unique, insertion-ordered directive mapping. Names
// are canonicalized at insertion time.
type Directives struct {
	order  []string
	values map[string]directiveEntry
}

func NewDirectives() *Directives {
	return &Directives{values: make(map[string]directiveEntry)}
}

// Set stores a value for the canonical form of name, replacing any previous
// entry while keeping its position.
func (d *Directives) Set(name, value string, origin Origin) {
	key := Canonical(name)
	if _, ok := d.values[key]; !ok {
		d.order = append(d.order, key)
	}
	d.values[key] = directiveEntry{value: value, origin: origin}
}

// SetDefault stores a value only if the canonical key is absent. Returns
// true if the value was stored.
func (d *Directives) SetDefault(name, value string, origin Origin) bool {
	key := Canonical(name)
	if _, ok := d.values[key]; ok {
		return false
	}
	d.order = append(d.order, key)
	d.values[key] = directiveEntry{value: value, origin: origin}
	return true
}

func (d *Directives) Get(name string) (string, bool) {
	e, ok := d.values[Canonical(name)]
	return e.value, ok
}

func (d *Directives) Has(name string) bool {
	_, ok := d.values[Canonical(name)]
	return ok
}

func (d *Directives) Origin(name string) (Origin, bool) {
	e, ok := d.values[Canonical(name)]
	return e.origin, ok
}

// Names returns the canonical keys in insertion order.
func (d *Directives) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Directives) Len() int { return len(d.order) }

// Script is the parsed representation of a job script. Lines are stored
// without their terminators; the body is never modified by translation.
type Script struct {
	// Shebang is the interpreter line, empty if the script had none.
	Shebang string
	// Directives holds the canonical troika directives.
	Directives *Directives
	// Native holds scheduler-specific directive lines carried verbatim.
	Native []string
	// Extra holds lines produced by translators, emitted after the native
	// directives and before the body.
	Extra []string
	// Body holds the remaining script lines, untouched.
	Body []string
}

func NewScript() *Script {
	return &Script{Directives: NewDirectives()}
}
