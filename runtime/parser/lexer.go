package parser

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opal-lang/evmcl/core/ast"
)

// lexer splits a script into tokens. Line breaks end statements, even
// inside brackets.
type lexer struct {
	input     string
	pos       int
	line      int
	lineStart int

	tokens []Token
	errors []ParseError
	logger *slog.Logger
}

func newLexer(input string) *lexer {
	logLevel := slog.LevelInfo
	if os.Getenv("EVMCL_DEBUG_LEXER") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	return &lexer{input: input, line: 1, logger: logger}
}

func (l *lexer) position() ast.Position {
	return ast.Position{Line: l.line, Column: l.pos - l.lineStart + 1, Offset: l.pos}
}

func (l *lexer) emit(typ TokenType, text string, pos ast.Position) {
	l.logger.Debug("token", "type", typ.String(), "text", text, "pos", pos.String())
	l.tokens = append(l.tokens, Token{Type: typ, Text: text, Position: pos})
}

func (l *lexer) errorf(pos ast.Position, format string, args ...any) {
	l.errors = append(l.errors, ParseError{
		Type:    ErrorSyntax,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
		Input:   l.input,
	})
	l.emit(ILLEGAL, "", pos)
}

func (l *lexer) newline() {
	l.pos++
	l.line++
	l.lineStart = l.pos
}

func (l *lexer) run() ([]Token, []ParseError) {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		pos := l.position()

		switch {
		case c == '\n':
			l.emit(NEWLINE, "\n", pos)
			l.newline()
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		case c == '(':
			l.pos++
			l.emit(LPAREN, "(", pos)
		case c == '[':
			l.pos++
			l.emit(LSQUARE, "[", pos)
		case c == ')' || c == ']':
			l.pos++
			if c == ')' {
				l.emit(RPAREN, ")", pos)
			} else {
				l.emit(RSQUARE, "]", pos)
			}
		case c == ',':
			l.pos++
			l.emit(COMMA, ",", pos)
		case c == '"' || c == '\'':
			l.lexString(c, pos)
		case c == '$' || c == '@':
			l.pos++
			name := l.scanName()
			if name == "" {
				l.errorf(pos, "expected a name after '%c'", c)
				continue
			}
			if c == '$' {
				l.emit(VARIABLE, name, pos)
			} else {
				l.emit(HELPER, name, pos)
			}
		default:
			l.lexWord(pos)
		}
	}
	l.emit(EOF, "", l.position())
	return l.tokens, l.errors
}

// scanName reads a variable or helper name: letters, digits, '_', '-', '.'
// and ':' (for module-scoped names such as $aragonos.foo).
func (l *lexer) scanName() string {
	start := l.pos
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isAlnum(c) || c == '_' || c == '-' || c == '.' || c == ':' {
			l.pos++
			continue
		}
		break
	}
	return l.input[start:l.pos]
}

func (l *lexer) lexString(quote byte, pos ast.Position) {
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == quote:
			l.pos++
			l.emit(STRING, b.String(), pos)
			return
		case c == '\\' && l.pos+1 < len(l.input):
			next := l.input[l.pos+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(next)
			}
			l.pos += 2
		case c == '\n':
			l.errorf(pos, "unterminated string")
			return
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	l.errorf(pos, "unterminated string")
}

// lexWord reads a bare word. A '(' directly inside a word opens a balanced
// group that is part of the word, so signatures such as
// transfer(address,uint256) stay one token.
func (l *lexer) lexWord(pos ast.Position) {
	start := l.pos
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '(' {
			if !l.skipGroup(pos) {
				return
			}
			continue
		}
		if isSpace(c) || c == ')' || c == '[' || c == ']' || c == ',' || c == '"' || c == '\'' {
			break
		}
		l.pos++
	}
	l.emit(WORD, l.input[start:l.pos], pos)
}

func (l *lexer) skipGroup(pos ast.Position) bool {
	depth := 0
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				l.pos++
				return true
			}
		case '\n':
			l.errorf(pos, "unclosed '(' in %q", l.input[pos.Offset:l.pos])
			return false
		}
		l.pos++
	}
	l.errorf(pos, "unclosed '(' in %q", l.input[pos.Offset:l.pos])
	return false
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
