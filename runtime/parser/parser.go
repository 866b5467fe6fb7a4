// Package parser turns script source into an ast.Program.
//
// The surface is line oriented: one statement per line, blank lines and
// '#' comments ignored. A statement is a command name, optionally qualified
// by its module ("aragonos:install"), followed by arguments: bare words,
// "quoted strings", $variables, @helper(arg, ...) calls and [array, literals].
// An optional first statement `connect <org> [forwarder...] [--context <text>]`
// sets the organization and the default forwarder path.
//
// Errors never stop the parse: each bad line is reported and skipped, so a
// script with several problems shows all of them at once.
package parser

import (
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/opal-lang/evmcl/core/ast"
	"github.com/opal-lang/evmcl/core/invariant"
)

// Tree is the result of a parse.
type Tree struct {
	Source      string
	Program     *ast.Program
	Errors      []ParseError
	Telemetry   *ParseTelemetry
	DebugEvents []DebugEvent
}

// Err combines every parse error, or returns nil.
func (t *Tree) Err() error {
	if len(t.Errors) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, e := range t.Errors {
		result = multierror.Append(result, e)
	}
	result.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return strings.Join(msgs, "\n\n")
	}
	return result
}

// Parse parses a script.
func Parse(source []byte, opts ...ParserOpt) *Tree {
	config := &ParserConfig{}
	for _, opt := range opts {
		opt(config)
	}

	var telemetry *ParseTelemetry
	var startTotal time.Time
	if config.telemetry >= TelemetryBasic {
		telemetry = &ParseTelemetry{}
		if config.telemetry >= TelemetryTiming {
			startTotal = time.Now()
		}
	}

	input := string(source)
	startLex := time.Now()
	tokens, lexErrors := newLexer(input).run()
	invariant.Postcondition(len(tokens) > 0 && tokens[len(tokens)-1].Type == EOF, "token stream ends with EOF")
	if telemetry != nil {
		telemetry.TokenCount = len(tokens)
		if config.telemetry >= TelemetryTiming {
			telemetry.LexTime = time.Since(startLex)
		}
	}

	p := &parser{
		tokens: tokens,
		input:  input,
		errors: lexErrors,
		config: config,
	}
	if config.debug > DebugOff {
		p.debugEvents = make([]DebugEvent, 0, 64)
	}

	startParse := time.Now()
	prog := p.file()

	if telemetry != nil {
		telemetry.StatementCount = len(prog.Commands)
		telemetry.ErrorCount = len(p.errors)
		if config.telemetry >= TelemetryTiming {
			telemetry.ParseTime = time.Since(startParse)
			telemetry.TotalTime = time.Since(startTotal)
		}
	}

	sort.SliceStable(p.errors, func(i, j int) bool {
		return p.errors[i].Pos.Offset < p.errors[j].Pos.Offset
	})

	return &Tree{
		Source:      input,
		Program:     prog,
		Errors:      p.errors,
		Telemetry:   telemetry,
		DebugEvents: p.debugEvents,
	}
}

// ParseString is a convenience wrapper for tests
func ParseString(input string, opts ...ParserOpt) *Tree {
	return Parse([]byte(input), opts...)
}

type parser struct {
	tokens      []Token
	pos         int
	input       string
	errors      []ParseError
	brackets    BracketTracker
	config      *ParserConfig
	debugEvents []DebugEvent
}

func (p *parser) current() Token {
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) at(types ...TokenType) bool {
	cur := p.current().Type
	for _, t := range types {
		if cur == t {
			return true
		}
	}
	return false
}

func (p *parser) trace(level DebugLevel, event, context string) {
	if p.config.debug < level {
		return
	}
	p.debugEvents = append(p.debugEvents, DebugEvent{
		Timestamp: time.Now(),
		Event:     event,
		TokenPos:  p.pos,
		Context:   context,
	})
}

// syncLine skips to the start of the next statement.
func (p *parser) syncLine() {
	for !p.at(NEWLINE, EOF) {
		p.advance()
	}
	p.brackets.Reset()
}

func (p *parser) file() *ast.Program {
	prog := &ast.Program{}
	for {
		for p.at(NEWLINE) {
			p.advance()
		}
		if p.at(EOF) {
			return prog
		}

		start := p.current()
		cmd, ok := p.statement()
		if !ok {
			p.syncLine()
			continue
		}

		if cmd.Module == "" && cmd.Name == "connect" {
			if prog.Connect != nil || len(prog.Commands) > 0 {
				p.errors = append(p.errors, ParseError{
					Type:        ErrorInvalid,
					Message:     "connect must be the first statement",
					Pos:         start.Position,
					Input:       p.input,
					Suggestions: []string{"move the connect line to the top of the script"},
				})
				continue
			}
			if c, ok := p.connect(cmd); ok {
				prog.Connect = c
			}
			continue
		}
		prog.Commands = append(prog.Commands, cmd)
	}
}

func (p *parser) statement() (*ast.Command, bool) {
	tok := p.current()
	p.trace(DebugPaths, "enter_statement", tok.Text)
	defer p.trace(DebugPaths, "exit_statement", tok.Text)

	if tok.Type != WORD {
		p.unexpected("a command name", tok)
		return nil, false
	}
	p.advance()

	cmd := &ast.Command{Name: tok.Text, Pos: tok.Position}
	if module, name, ok := strings.Cut(tok.Text, ":"); ok && module != "" && name != "" {
		cmd.Module, cmd.Name = module, name
	}
	if !validCommandName(cmd.Name) || (cmd.Module != "" && !validCommandName(cmd.Module)) {
		p.errorAt(ErrorInvalid, tok, "invalid command name %q", tok.Text)
		return nil, false
	}

	for !p.at(NEWLINE, EOF) {
		arg, ok := p.expression()
		if !ok {
			return nil, false
		}
		cmd.Args = append(cmd.Args, arg)
	}
	return cmd, true
}

func (p *parser) expression() (ast.Expression, bool) {
	tok := p.current()
	p.trace(DebugDetailed, "expression", tok.String())

	switch tok.Type {
	case WORD:
		p.advance()
		return &ast.Literal{Value: tok.Text, Pos: tok.Position}, true
	case STRING:
		p.advance()
		return &ast.Literal{Value: tok.Text, Quoted: true, Pos: tok.Position}, true
	case VARIABLE:
		p.advance()
		return &ast.VariableRef{Name: tok.Text, Pos: tok.Position}, true
	case HELPER:
		return p.helper()
	case LSQUARE:
		return p.array()
	}
	p.unexpected("an argument", tok)
	return nil, false
}

func (p *parser) helper() (ast.Expression, bool) {
	tok := p.advance()
	h := &ast.HelperCall{Name: tok.Text, Pos: tok.Position}
	if !p.at(LPAREN) {
		return h, true
	}

	args, ok := p.list(RPAREN, "helper arguments")
	if !ok {
		return nil, false
	}
	h.Args = args
	return h, true
}

func (p *parser) array() (ast.Expression, bool) {
	tok := p.current()
	elems, ok := p.list(RSQUARE, "array")
	if !ok {
		return nil, false
	}
	return &ast.ArrayLiteral{Elements: elems, Pos: tok.Position}, true
}

// list parses a comma separated list after the opening bracket at the
// current token, through the closing bracket.
func (p *parser) list(closer TokenType, context string) ([]ast.Expression, bool) {
	p.brackets.Push(p.advance(), context)

	var items []ast.Expression
	if p.at(closer) {
		if err := p.brackets.Pop(p.advance()); err != nil {
			p.errorAt(ErrorSyntax, p.current(), "%v", err)
			return nil, false
		}
		return items, true
	}

	for {
		item, ok := p.expression()
		if !ok {
			return nil, false
		}
		items = append(items, item)

		switch {
		case p.at(COMMA):
			p.advance()
		case p.at(closer):
			if err := p.brackets.Pop(p.advance()); err != nil {
				p.errorAt(ErrorSyntax, p.current(), "%v", err)
				return nil, false
			}
			return items, true
		default:
			p.unclosed(p.current())
			return nil, false
		}
	}
}

// connect converts a parsed `connect` statement into the script header.
func (p *parser) connect(cmd *ast.Command) (*ast.Connect, bool) {
	c := &ast.Connect{Pos: cmd.Pos}

	words := make([]string, 0, len(cmd.Args))
	for _, arg := range cmd.Args {
		lit, ok := arg.(*ast.Literal)
		if !ok {
			p.errorAt(ErrorInvalid, Token{Position: arg.Position()}, "connect arguments must be literals, got %s", arg)
			return nil, false
		}
		words = append(words, lit.Value)
	}

	for i := 0; i < len(words); i++ {
		if words[i] == "--context" {
			if i+1 >= len(words) {
				p.errorAt(ErrorMissing, Token{Position: cmd.Args[i].Position()}, "--context needs a value")
				return nil, false
			}
			c.Context, c.HasContext = words[i+1], true
			i++
			continue
		}
		if c.Organization == "" {
			c.Organization = words[i]
			continue
		}
		c.Path = append(c.Path, words[i])
	}

	if c.Organization == "" {
		p.errors = append(p.errors, ParseError{
			Type:        ErrorMissing,
			Message:     "connect needs an organization",
			Pos:         cmd.Pos,
			Input:       p.input,
			Suggestions: []string{"connect <organization> [forwarder...] [--context <text>]"},
		})
		return nil, false
	}
	return c, true
}

func validCommandName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}
