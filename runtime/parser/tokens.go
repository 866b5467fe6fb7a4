package parser

import "github.com/opal-lang/evmcl/core/ast"

// TokenType represents lexical tokens of the script language.
type TokenType int

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL
	NEWLINE // statements end at line breaks

	// Punctuation
	LPAREN  // (
	RPAREN  // )
	LSQUARE // [
	RSQUARE // ]
	COMMA   // ,

	// Literals and content
	WORD     // bare word: names, identifiers, numbers, signatures
	STRING   // "quoted" or 'quoted' content, unescaped
	VARIABLE // $name, text excludes the sigil
	HELPER   // @name, text excludes the sigil
)

func (t TokenType) String() string {
	switch t {
	case EOF:
		return "end of input"
	case ILLEGAL:
		return "illegal"
	case NEWLINE:
		return "newline"
	case LPAREN:
		return "'('"
	case RPAREN:
		return "')'"
	case LSQUARE:
		return "'['"
	case RSQUARE:
		return "']'"
	case COMMA:
		return "','"
	case WORD:
		return "word"
	case STRING:
		return "string"
	case VARIABLE:
		return "variable"
	case HELPER:
		return "helper"
	default:
		return "unknown"
	}
}

// Token represents a lexical token.
type Token struct {
	Type     TokenType
	Text     string
	Position ast.Position
}

func (t Token) String() string {
	switch t.Type {
	case VARIABLE:
		return "$" + t.Text
	case HELPER:
		return "@" + t.Text
	case LPAREN, RPAREN, LSQUARE, RSQUARE, COMMA:
		return t.Type.String()[1:2]
	}
	return t.Text
}
