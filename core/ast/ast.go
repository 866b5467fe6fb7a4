// Package ast defines the syntax tree consumed by the interpreter.
//
// The tree is deliberately small: a script is a header (connect) followed by
// command statements, and statement arguments are expressions built from
// literals, variable references, helper calls and array literals.
package ast

import (
	"fmt"
	"strings"
)

// Node represents any node in the syntax tree.
type Node interface {
	String() string
	Position() Position
}

// Expression is a node that evaluates to a value in an argument position.
type Expression interface {
	Node
	exprNode()
}

// Position represents source location information.
type Position struct {
	Line   int
	Column int
	Offset int // Byte offset in source
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// IsValid reports whether the position points into a source file.
func (p Position) IsValid() bool {
	return p.Line > 0
}

// Program is the root of a parsed script.
type Program struct {
	Connect  *Connect
	Commands []*Command
}

func (p *Program) String() string {
	var lines []string
	if p.Connect != nil {
		lines = append(lines, p.Connect.String())
	}
	for _, c := range p.Commands {
		lines = append(lines, c.String())
	}
	return strings.Join(lines, "\n")
}

// Position returns the position of the first statement.
func (p *Program) Position() Position {
	if p.Connect != nil {
		return p.Connect.Pos
	}
	if len(p.Commands) > 0 {
		return p.Commands[0].Pos
	}
	return Position{}
}

// Connect is the script header establishing the organization and the
// default forwarder path.
type Connect struct {
	Organization string
	Path         []string
	Context      string
	HasContext   bool
	Pos          Position
}

func (c *Connect) String() string {
	var b strings.Builder
	b.WriteString("connect ")
	b.WriteString(c.Organization)
	for _, hop := range c.Path {
		b.WriteString(" ")
		b.WriteString(hop)
	}
	if c.HasContext {
		fmt.Fprintf(&b, " --context %q", c.Context)
	}
	return b.String()
}

func (c *Connect) Position() Position { return c.Pos }

// Command is a statement: `[module:]name arg...`.
// Module is empty for unqualified commands.
type Command struct {
	Module string
	Name   string
	Args   []Expression
	Pos    Position
}

// QualifiedName returns "module:name" or just "name".
func (c *Command) QualifiedName() string {
	if c.Module == "" {
		return c.Name
	}
	return c.Module + ":" + c.Name
}

func (c *Command) String() string {
	parts := []string{c.QualifiedName()}
	for _, a := range c.Args {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}

func (c *Command) Position() Position { return c.Pos }

// HelperCall is an expression: `@name(arg, ...)`.
type HelperCall struct {
	Name string
	Args []Expression
	Pos  Position
}

func (h *HelperCall) String() string {
	if len(h.Args) == 0 {
		return "@" + h.Name
	}
	args := make([]string, len(h.Args))
	for i, a := range h.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("@%s(%s)", h.Name, strings.Join(args, ","))
}

func (h *HelperCall) Position() Position { return h.Pos }
func (h *HelperCall) exprNode()          {}

// Literal is a bare word or quoted string. The interpreter converts it to a
// typed value only when a command or ABI parameter asks for one.
type Literal struct {
	Value  string
	Quoted bool
	Pos    Position
}

func (l *Literal) String() string {
	if l.Quoted {
		return fmt.Sprintf("%q", l.Value)
	}
	return l.Value
}

func (l *Literal) Position() Position { return l.Pos }
func (l *Literal) exprNode()          {}

// VariableRef is `$name`. Name excludes the sigil.
type VariableRef struct {
	Name string
	Pos  Position
}

func (v *VariableRef) String() string { return "$" + v.Name }

func (v *VariableRef) Position() Position { return v.Pos }
func (v *VariableRef) exprNode()          {}

// ArrayLiteral is `[a,b,...]`.
type ArrayLiteral struct {
	Elements []Expression
	Pos      Position
}

func (a *ArrayLiteral) String() string {
	elems := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		elems[i] = e.String()
	}
	return "[" + strings.Join(elems, ",") + "]"
}

func (a *ArrayLiteral) Position() Position { return a.Pos }
func (a *ArrayLiteral) exprNode()          {}
