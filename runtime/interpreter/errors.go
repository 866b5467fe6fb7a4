package interpreter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/opal-lang/evmcl/core/ast"
)

var (
	// ErrCommandNotFound is returned for a command no loaded module defines.
	ErrCommandNotFound = errors.New("command not found")
	// ErrHelperNotFound is returned for a helper no loaded module defines.
	ErrHelperNotFound = errors.New("helper not found")
	// ErrModuleNotFound is returned when loading an unregistered module or
	// qualifying a command with a module that is not loaded.
	ErrModuleNotFound = errors.New("module not found")
	// ErrVariableNotFound is returned when reading an unset $variable.
	ErrVariableNotFound = errors.New("variable not defined")
	// ErrArgumentCount is returned for a call with too few or too many
	// arguments.
	ErrArgumentCount = errors.New("wrong number of arguments")
	// ErrNotConnected is returned when a command needs the connect header.
	ErrNotConnected = errors.New("no organization connected")
	// ErrChainMismatch is returned when switching to a chain the signer or
	// the connected organization is not on.
	ErrChainMismatch = errors.New("chain mismatch")
)

// Error is a fatal interpretation error attributed to a source position.
type Error struct {
	Kind       string // "command", "helper", "variable", "connect"
	Module     string // contextual module name, empty when unknown
	Pos        ast.Position
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		fmt.Fprintf(&b, "%s: ", e.Pos)
	}
	b.WriteString(e.Message)
	if e.Suggestion != "" {
		b.WriteString("\n")
		b.WriteString(e.Suggestion)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// findClosestMatch finds the closest string match using fuzzy matching
func findClosestMatch(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	best := ranks[0]
	for _, r := range ranks[1:] {
		if r.Distance < best.Distance {
			best = r
		}
	}
	return best.Target
}
