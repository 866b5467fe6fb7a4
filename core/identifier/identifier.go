// Package identifier implements the naming grammar for organization apps.
//
// Two forms address an installed app:
//
//	name[.registry][:index]   app identifier, index defaults to 0
//	name[.registry]:label     labeled identifier, label is not numeric
//
// Names and registry labels are lowercase alphanumerics and hyphens, 1-63
// characters. Names may not start or end with a hyphen. The default registry
// (aragonpm.eth) is written without a suffix; any other "<x>.aragonpm.eth"
// registry is written as ".x".
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultRegistry is the ENS name of the registry used when none is given.
const DefaultRegistry = "aragonpm.eth"

// ErrInvalidIdentifier is returned for names that match neither grammar.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var (
	appPattern     = regexp.MustCompile(`^([a-z0-9-]{1,63})(?:\.([a-z0-9-]{1,63}))?(?::([0-9]{1,18}))?$`)
	labeledPattern = regexp.MustCompile(`^([a-z0-9-]{1,63})(?:\.([a-z0-9-]{1,63}))?:([a-z0-9-]{1,63})$`)
)

// Parts is a parsed identifier.
type Parts struct {
	Name     string
	Registry string // short registry label, empty for the default registry
	Index    int    // -1 when absent or labeled
	Label    string // empty unless labeled
}

// RegistryENS returns the full ENS name of the registry.
func (p Parts) RegistryENS() string {
	if p.Registry == "" {
		return DefaultRegistry
	}
	return p.Registry + "." + DefaultRegistry
}

// IsLabeled reports whether the identifier carries a label.
func (p Parts) IsLabeled() bool { return p.Label != "" }

// String renders the identifier in canonical form.
func (p Parts) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Registry != "" {
		b.WriteString(".")
		b.WriteString(p.Registry)
	}
	switch {
	case p.Label != "":
		b.WriteString(":")
		b.WriteString(p.Label)
	case p.Index >= 0:
		b.WriteString(":")
		b.WriteString(strconv.Itoa(p.Index))
	}
	return b.String()
}

// IsAppIdentifier reports whether s matches name[.registry][:index].
func IsAppIdentifier(s string) bool {
	m := appPattern.FindStringSubmatch(s)
	return m != nil && validName(m[1])
}

// IsLabeledAppIdentifier reports whether s matches name[.registry]:label
// with a label that is not purely numeric.
func IsLabeledAppIdentifier(s string) bool {
	m := labeledPattern.FindStringSubmatch(s)
	return m != nil && validName(m[1]) && !isNumeric(m[3])
}

// Parse splits an identifier of either form.
func Parse(s string) (Parts, error) {
	if m := appPattern.FindStringSubmatch(s); m != nil && validName(m[1]) {
		p := Parts{Name: m[1], Registry: m[2], Index: -1}
		if m[3] != "" {
			idx, err := strconv.Atoi(m[3])
			if err != nil {
				return Parts{}, fmt.Errorf("%w %q: index out of range", ErrInvalidIdentifier, s)
			}
			p.Index = idx
		}
		return p, nil
	}
	if m := labeledPattern.FindStringSubmatch(s); m != nil && validName(m[1]) && !isNumeric(m[3]) {
		return Parts{Name: m[1], Registry: m[2], Index: -1, Label: m[3]}, nil
	}
	return Parts{}, fmt.Errorf("%w %q", ErrInvalidIdentifier, s)
}

// Resolve canonicalizes an identifier: a bare app identifier gets index 0,
// indexed and labeled identifiers are returned unchanged.
func Resolve(s string) (string, error) {
	if IsAppIdentifier(s) {
		m := appPattern.FindStringSubmatch(s)
		if m[3] == "" {
			return s + ":0", nil
		}
		return s, nil
	}
	if IsLabeledAppIdentifier(s) {
		return s, nil
	}
	return "", fmt.Errorf("%w %q", ErrInvalidIdentifier, s)
}

// ParseLabeled splits a labeled identifier into name, registry ENS name and
// label.
func ParseLabeled(s string) (name, registryENS, label string, err error) {
	if !IsLabeledAppIdentifier(s) {
		return "", "", "", fmt.Errorf("%w: labeled identifier %q", ErrInvalidIdentifier, s)
	}
	m := labeledPattern.FindStringSubmatch(s)
	p := Parts{Name: m[1], Registry: m[2], Label: m[3]}
	return p.Name, p.RegistryENS(), p.Label, nil
}

// ParseRegistry maps a registry ENS name to its identifier suffix.
// A three-label name yields "." plus its first label; anything else,
// including the empty string, denotes the default registry and yields "".
func ParseRegistry(registryENS string) string {
	if registryENS == "" {
		return ""
	}
	parts := strings.Split(registryENS, ".")
	if len(parts) == 3 {
		return "." + parts[0]
	}
	return ""
}

// Build renders the identifier of the counter-th app named name in the
// given registry.
func Build(name, registryENS string, counter int) string {
	return fmt.Sprintf("%s%s:%d", name, ParseRegistry(registryENS), counter)
}

func validName(name string) bool {
	return !strings.HasPrefix(name, "-") && !strings.HasSuffix(name, "-")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
