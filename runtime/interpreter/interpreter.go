// Package interpreter runs a parsed script.
//
// A script is interpreted against loaded modules. Each module is an instance
// of a Kind: a name plus immutable tables mapping command and helper names
// to handler closures. The std module is always loaded; the module owning
// the connect header is loaded when the script has one; others are loaded
// by the script itself.
//
// Top-level commands run strictly in source order and each yields action
// items. Helper calls and arrays in argument position are evaluated before
// their command runs, and sibling arguments are evaluated concurrently.
// The first error aborts the script: callers get the complete item list or
// nothing.
package interpreter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/ast"
	"github.com/opal-lang/evmcl/core/invariant"
	"github.com/opal-lang/evmcl/runtime/bindings"
)

// DefaultModule is loaded in every execution. It resolves unqualified
// names first unless a module is connected.
const DefaultModule = "std"

// DefaultConnectModule handles the connect header unless configured.
const DefaultConnectModule = "aragonos"

// Config configures the interpreter
type Config struct {
	ConnectModule string         // module kind handling the connect header
	Telemetry     TelemetryLevel // Telemetry level (production-safe)
	Debug         DebugLevel     // Debug level (development only)
}

// TelemetryLevel controls telemetry collection (production-safe)
type TelemetryLevel int

const (
	TelemetryOff    TelemetryLevel = iota // Zero overhead (default)
	TelemetryBasic                        // Counts only
	TelemetryTiming                       // Counts + timing
)

// DebugLevel controls debug tracing (development only)
type DebugLevel int

const (
	DebugOff      DebugLevel = iota // No debug info (default)
	DebugPaths                      // Command entry/exit
	DebugDetailed                   // Helper and argument evaluation
)

// Telemetry holds interpretation metrics (production-safe)
type Telemetry struct {
	Commands      int           // Commands run
	Helpers       int64         // Helper calls evaluated
	Items         int           // Action items produced
	DeferredItems int           // Items still to be resolved
	TotalTime     time.Duration // Only with TelemetryTiming
}

// DebugEvent holds debug tracing information (development only)
type DebugEvent struct {
	Timestamp time.Time
	Event     string // "enter_command", "exit_command", "helper"
	Pos       ast.Position
	Context   string
}

// Interpreter runs scripts in one execution context.
type Interpreter struct {
	exec   *ExecutionContext
	config Config

	helpers     atomic.Int64
	telemetry   *Telemetry
	debugMu     sync.Mutex
	debugEvents []DebugEvent
}

// New returns an interpreter bound to exec.
func New(exec *ExecutionContext, config Config) *Interpreter {
	invariant.NotNil(exec, "execution context")
	if config.ConnectModule == "" {
		config.ConnectModule = DefaultConnectModule
	}
	return &Interpreter{exec: exec, config: config}
}

// Exec returns the interpreter's execution context.
func (in *Interpreter) Exec() *ExecutionContext { return in.exec }

// Telemetry returns the metrics of the last run, or nil when disabled.
func (in *Interpreter) Telemetry() *Telemetry { return in.telemetry }

// DebugEvents returns the trace of the last run.
func (in *Interpreter) DebugEvents() []DebugEvent {
	in.debugMu.Lock()
	defer in.debugMu.Unlock()
	return append([]DebugEvent(nil), in.debugEvents...)
}

func (in *Interpreter) trace(level DebugLevel, event string, pos ast.Position, context string) {
	if in.config.Debug < level {
		return
	}
	in.debugMu.Lock()
	defer in.debugMu.Unlock()
	in.debugEvents = append(in.debugEvents, DebugEvent{Timestamp: time.Now(), Event: event, Pos: pos, Context: context})
}

// Interpret runs prog and returns its action items in program order.
func (in *Interpreter) Interpret(ctx context.Context, prog *ast.Program) ([]action.Item, error) {
	invariant.NotNil(prog, "program")

	start := time.Now()
	logger := in.exec.Logger
	logger.Debug("interpret", "commands", len(prog.Commands))

	if _, ok := in.exec.Module(DefaultModule); !ok {
		if _, ok := in.exec.registry.Lookup(DefaultModule); ok {
			if _, err := in.exec.Load(DefaultModule, ""); err != nil {
				return nil, err
			}
		}
	}

	if prog.Connect != nil {
		if err := in.connect(ctx, prog.Connect); err != nil {
			return nil, err
		}
	}

	cb := in.callbacks()
	var items []action.Item
	for _, c := range prog.Commands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in.trace(DebugPaths, "enter_command", c.Pos, c.QualifiedName())

		m, err := in.resolveCommand(c)
		if err != nil {
			return nil, err
		}
		out, err := m.InterpretCommand(ctx, c, cb)
		if err != nil {
			logger.Debug("command failed", "command", c.QualifiedName(), "pos", c.Pos.String(), "error", err)
			return nil, err
		}
		items = append(items, out...)

		in.trace(DebugPaths, "exit_command", c.Pos, fmt.Sprintf("items=%d", len(out)))
		logger.Debug("command", "module", m.ContextualName(), "command", c.Name, "items", len(out))
	}

	if in.config.Telemetry >= TelemetryBasic {
		t := &Telemetry{Commands: len(prog.Commands), Helpers: in.helpers.Load(), Items: len(items)}
		for _, it := range items {
			if it.IsDeferred() {
				t.DeferredItems++
			}
		}
		if in.config.Telemetry >= TelemetryTiming {
			t.TotalTime = time.Since(start)
		}
		in.telemetry = t
	}
	return items, nil
}

func (in *Interpreter) connect(ctx context.Context, c *ast.Connect) error {
	m, ok := in.exec.ModuleOfKind(in.config.ConnectModule)
	if !ok {
		var err error
		if m, err = in.exec.Load(in.config.ConnectModule, ""); err != nil {
			return err
		}
	}
	if m.kind.Connect == nil {
		return &Error{Kind: "connect", Module: m.ContextualName(), Pos: c.Pos,
			Message: fmt.Sprintf("module %s cannot connect to an organization", m.ContextualName()), Err: ErrNotConnected}
	}
	if err := m.kind.Connect(ctx, m, c); err != nil {
		return m.wrap("connect", "connect "+c.Organization, c.Pos, err)
	}

	in.exec.mu.Lock()
	in.exec.connect = c
	in.exec.mu.Unlock()
	return nil
}

// resolveCommand finds the module a command runs on: the named module for
// qualified commands, else the first loaded module defining it.
func (in *Interpreter) resolveCommand(c *ast.Command) (*Module, error) {
	if c.Module != "" {
		m, ok := in.exec.Module(c.Module)
		if !ok {
			return nil, &Error{
				Kind:       "command",
				Module:     c.Module,
				Pos:        c.Pos,
				Message:    fmt.Sprintf("command %s: module %s is not loaded", c.QualifiedName(), c.Module),
				Suggestion: fmt.Sprintf("load it first: load %s", c.Module),
				Err:        ErrCommandNotFound,
			}
		}
		return m, nil
	}

	modules := in.lookupOrder()
	var names []string
	for _, m := range modules {
		if m.HasCommand(c.Name) {
			return m, nil
		}
		names = append(names, m.CommandNames()...)
	}
	e := &Error{
		Kind:    "command",
		Pos:     c.Pos,
		Message: fmt.Sprintf("command %s not found", c.Name),
		Err:     ErrCommandNotFound,
	}
	if len(modules) > 0 {
		e.Module = modules[0].ContextualName()
	}
	if closest := findClosestMatch(c.Name, names); closest != "" {
		e.Suggestion = fmt.Sprintf("Did you mean '%s'?", closest)
	}
	return nil, e
}

// lookupOrder lists loaded modules for unqualified names: the module that
// handled the connect header, then the default module, then the rest in
// load order.
func (in *Interpreter) lookupOrder() []*Module {
	modules := in.exec.Modules()
	var connected *Module
	if in.exec.Connect() != nil {
		connected, _ = in.exec.ModuleOfKind(in.config.ConnectModule)
	}

	out := make([]*Module, 0, len(modules))
	if connected != nil {
		out = append(out, connected)
	}
	for _, m := range modules {
		if m != connected && m.Name() == DefaultModule && m.Alias() == "" {
			out = append(out, m)
		}
	}
	for _, m := range modules {
		if m != connected && (m.Name() != DefaultModule || m.Alias() != "") {
			out = append(out, m)
		}
	}
	return out
}

// resolveHelper finds the module a helper runs on: the named module for
// qualified helpers (@module:name), else the first in lookup order.
func (in *Interpreter) resolveHelper(h *ast.HelperCall) (*Module, error) {
	if module, _, ok := strings.Cut(h.Name, ":"); ok {
		m, loaded := in.exec.Module(module)
		if !loaded {
			return nil, &Error{
				Kind:       "helper",
				Module:     module,
				Pos:        h.Pos,
				Message:    fmt.Sprintf("helper @%s: module %s is not loaded", h.Name, module),
				Suggestion: fmt.Sprintf("load it first: load %s", module),
				Err:        ErrHelperNotFound,
			}
		}
		return m, nil
	}

	var names []string
	for _, m := range in.lookupOrder() {
		if m.HasHelper(h.Name) {
			return m, nil
		}
		names = append(names, m.HelperNames()...)
	}
	e := &Error{
		Kind:    "helper",
		Pos:     h.Pos,
		Message: fmt.Sprintf("helper @%s not found", h.Name),
		Err:     ErrHelperNotFound,
	}
	if closest := findClosestMatch(h.Name, names); closest != "" {
		e.Suggestion = fmt.Sprintf("Did you mean '@%s'?", closest)
	}
	return nil, e
}

// Callbacks evaluate argument expressions by node kind. Handlers use them
// to evaluate their own sub-expressions.
type Callbacks struct {
	Literal  func(ctx context.Context, l *ast.Literal) (any, error)
	Variable func(ctx context.Context, v *ast.VariableRef) (any, error)
	Helper   func(ctx context.Context, h *ast.HelperCall) (any, error)
	Array    func(ctx context.Context, a *ast.ArrayLiteral) (any, error)
}

// Eval evaluates one expression.
func (cb Callbacks) Eval(ctx context.Context, e ast.Expression) (any, error) {
	switch n := e.(type) {
	case *ast.Literal:
		return cb.Literal(ctx, n)
	case *ast.VariableRef:
		return cb.Variable(ctx, n)
	case *ast.HelperCall:
		return cb.Helper(ctx, n)
	case *ast.ArrayLiteral:
		return cb.Array(ctx, n)
	}
	invariant.Invariant(false, "unknown expression %T", e)
	return nil, nil
}

// EvalAll evaluates sibling expressions concurrently. Results keep the
// order of exprs; the first error cancels the rest.
func (cb Callbacks) EvalAll(ctx context.Context, exprs []ast.Expression) ([]any, error) {
	out := make([]any, len(exprs))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range exprs {
		i, e := i, e
		g.Go(func() error {
			v, err := cb.Eval(gctx, e)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (in *Interpreter) callbacks() Callbacks {
	var cb Callbacks
	cb = Callbacks{
		Literal: func(_ context.Context, l *ast.Literal) (any, error) {
			return l.Value, nil
		},
		Variable: func(_ context.Context, v *ast.VariableRef) (any, error) {
			val := in.exec.Bindings.GetBinding(bindings.UserKey(v.Name), bindings.User)
			if bindings.IsUnset(val) {
				return nil, &Error{
					Kind:       "variable",
					Pos:        v.Pos,
					Message:    fmt.Sprintf("variable $%s is not defined", v.Name),
					Suggestion: fmt.Sprintf("define it first: set $%s <value>", v.Name),
					Err:        ErrVariableNotFound,
				}
			}
			return val, nil
		},
		Helper: func(ctx context.Context, h *ast.HelperCall) (any, error) {
			in.trace(DebugDetailed, "helper", h.Pos, h.Name)
			in.helpers.Add(1)
			m, err := in.resolveHelper(h)
			if err != nil {
				return nil, err
			}
			return m.InterpretHelper(ctx, h, cb)
		},
		Array: func(ctx context.Context, a *ast.ArrayLiteral) (any, error) {
			return cb.EvalAll(ctx, a.Elements)
		},
	}
	return cb
}
