package parser

import (
	"fmt"
	"strings"

	"github.com/opal-lang/evmcl/core/ast"
)

// ParseError represents a parsing error with location and context information
type ParseError struct {
	Type        ErrorType
	Message     string
	Pos         ast.Position
	Input       string
	Context     string        // "helper arguments", "array", ...
	OpenedAt    *ast.Position // For bracket mismatch errors
	Suggestions []string      // Possible fixes
}

// BracketTracker tracks opening brackets and their context for better error reporting
type BracketTracker struct {
	stack []BracketInfo
}

type BracketInfo struct {
	Type    TokenType // LPAREN, LSQUARE
	Token   Token     // Opening token with position
	Context string    // "helper arguments", "array"
}

// Push adds an opening bracket to the tracker
func (bt *BracketTracker) Push(tok Token, context string) {
	bt.stack = append(bt.stack, BracketInfo{Type: tok.Type, Token: tok, Context: context})
}

// Pop removes the last opening bracket, returns error if mismatch
func (bt *BracketTracker) Pop(closing Token) error {
	if len(bt.stack) == 0 {
		return fmt.Errorf("unexpected %s - no matching opening bracket", closing.Type)
	}

	top := bt.stack[len(bt.stack)-1]
	bt.stack = bt.stack[:len(bt.stack)-1]

	if !isMatchingBracket(top.Type, closing.Type) {
		return fmt.Errorf("mismatched brackets: %s opened at %s but %s found",
			top.Type, top.Token.Position, closing.Type)
	}
	return nil
}

// Innermost returns the most recent unclosed bracket.
func (bt *BracketTracker) Innermost() (BracketInfo, bool) {
	if len(bt.stack) == 0 {
		return BracketInfo{}, false
	}
	return bt.stack[len(bt.stack)-1], true
}

// IsEmpty returns true if all brackets are closed
func (bt *BracketTracker) IsEmpty() bool {
	return len(bt.stack) == 0
}

// Reset forgets every open bracket.
func (bt *BracketTracker) Reset() {
	bt.stack = bt.stack[:0]
}

func isMatchingBracket(opening, closing TokenType) bool {
	switch opening {
	case LPAREN:
		return closing == RPAREN
	case LSQUARE:
		return closing == RSQUARE
	default:
		return false
	}
}

// ErrorType represents different categories of parsing errors
type ErrorType int

const (
	ErrorSyntax ErrorType = iota
	ErrorUnexpected
	ErrorMissing
	ErrorInvalid
)

func (e ErrorType) String() string {
	switch e {
	case ErrorSyntax:
		return "syntax error"
	case ErrorUnexpected:
		return "unexpected token"
	case ErrorMissing:
		return "missing"
	case ErrorInvalid:
		return "invalid"
	default:
		return "error"
	}
}

// Error returns the formatted error message with line/column and code snippet
func (e ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Type, e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, " in %s", e.Context)
	}
	if e.OpenedAt != nil {
		fmt.Fprintf(&b, " (opened at %s)", e.OpenedAt)
	}
	if snippet := e.createCodeSnippet(); snippet != "" {
		b.WriteString("\n")
		b.WriteString(snippet)
	}
	for _, s := range e.Suggestions {
		fmt.Fprintf(&b, "\n   = help: %s", s)
	}
	return b.String()
}

// createCodeSnippet creates a code snippet showing the error location
func (e ParseError) createCodeSnippet() string {
	if e.Input == "" || e.Pos.Line == 0 {
		return ""
	}

	lines := strings.Split(e.Input, "\n")
	if e.Pos.Line > len(lines) {
		return ""
	}
	lineContent := lines[e.Pos.Line-1]

	var snippet strings.Builder
	snippet.WriteString(fmt.Sprintf("  --> %d:%d\n", e.Pos.Line, e.Pos.Column))
	snippet.WriteString("   |\n")
	snippet.WriteString(fmt.Sprintf("%2d | %s\n", e.Pos.Line, lineContent))
	snippet.WriteString("   | ")
	if e.Pos.Column > 0 && e.Pos.Column <= len(lineContent)+1 {
		snippet.WriteString(strings.Repeat(" ", e.Pos.Column-1) + "^")
	}
	return snippet.String()
}

func (p *parser) errorAt(typ ErrorType, tok Token, format string, args ...any) {
	p.errors = append(p.errors, ParseError{
		Type:    typ,
		Message: fmt.Sprintf(format, args...),
		Pos:     tok.Position,
		Input:   p.input,
	})
}

// unexpected records an error for a token that cannot appear here.
func (p *parser) unexpected(expected string, got Token) {
	if got.Type == ILLEGAL {
		// Already reported by the lexer.
		return
	}
	p.errorAt(ErrorUnexpected, got, "expected %s, got %s", expected, describe(got))
}

// unclosed records an error for a bracket left open at got.
func (p *parser) unclosed(got Token) {
	info, ok := p.brackets.Innermost()
	if !ok {
		p.unexpected("a closing bracket", got)
		return
	}
	opened := info.Token.Position
	closer := ")"
	if info.Type == LSQUARE {
		closer = "]"
	}
	p.errors = append(p.errors, ParseError{
		Type:        ErrorMissing,
		Message:     fmt.Sprintf("expected %q, got %s", closer, describe(got)),
		Pos:         got.Position,
		Input:       p.input,
		Context:     info.Context,
		OpenedAt:    &opened,
		Suggestions: []string{fmt.Sprintf("close the %s opened at %s", info.Context, opened)},
	})
}

func describe(t Token) string {
	switch t.Type {
	case EOF, NEWLINE:
		return t.Type.String()
	}
	return fmt.Sprintf("%s %q", t.Type, t.String())
}
