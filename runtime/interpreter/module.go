package interpreter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/ast"
	"github.com/opal-lang/evmcl/core/invariant"
	"github.com/opal-lang/evmcl/runtime/bindings"
)

// Unbounded is the MaxArgs of variadic commands and helpers.
const Unbounded = -1

// Command is one statement of a module's vocabulary.
type Command struct {
	Usage   string // e.g. "grant <grantee> <app> <role> [manager]"
	MinArgs int
	MaxArgs int
	// Raw commands receive unevaluated arguments and evaluate them through
	// the call's callbacks. Other commands get Call.Args filled in.
	Raw bool
	Run func(ctx context.Context, call *Call) ([]action.Item, error)
}

// Helper is one expression of a module's vocabulary. Helpers return a
// value for the argument position they appear in.
type Helper struct {
	Usage   string
	MinArgs int
	MaxArgs int
	Run     func(ctx context.Context, call *Call) (any, error)
}

// Kind is a module variant: its name and immutable handler tables.
type Kind struct {
	Name     string
	Commands map[string]Command
	Helpers  map[string]Helper
	// Connect handles the script's connect header. Only the module that
	// owns the organization model sets it.
	Connect func(ctx context.Context, m *Module, c *ast.Connect) error
}

// Call is one command or helper invocation.
type Call struct {
	Module    *Module
	Node      ast.Node // *ast.Command or *ast.HelperCall
	Exprs     []ast.Expression
	Args      []any // evaluated Exprs; nil for raw commands
	Callbacks Callbacks
}

// Name returns the invoked command or helper name.
func (c *Call) Name() string {
	switch n := c.Node.(type) {
	case *ast.Command:
		return n.Name
	case *ast.HelperCall:
		return "@" + n.Name
	}
	return ""
}

// Arg returns the i-th evaluated argument, or nil when absent.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Module is a loaded instance of a Kind. The same kind can be loaded more
// than once under different aliases; each instance keeps its own nonces and
// private bindings.
type Module struct {
	kind  *Kind
	alias string
	exec  *ExecutionContext

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func newModule(kind *Kind, alias string, exec *ExecutionContext) *Module {
	invariant.NotNil(kind, "module kind")
	invariant.NotNil(exec, "execution context")
	return &Module{kind: kind, alias: alias, exec: exec, nonces: make(map[common.Address]uint64)}
}

// Name returns the module kind name.
func (m *Module) Name() string { return m.kind.Name }

// Alias returns the alias the module was loaded under, if any.
func (m *Module) Alias() string { return m.alias }

// ContextualName is the alias when set, otherwise the name. It qualifies
// error messages and module bindings.
func (m *Module) ContextualName() string {
	if m.alias != "" {
		return m.alias
	}
	return m.kind.Name
}

// Exec returns the execution the module belongs to.
func (m *Module) Exec() *ExecutionContext { return m.exec }

// HasCommand reports whether the module defines a command.
func (m *Module) HasCommand(name string) bool {
	_, ok := m.kind.Commands[name]
	return ok
}

// HasHelper reports whether the module defines a helper.
func (m *Module) HasHelper(name string) bool {
	_, ok := m.kind.Helpers[name]
	return ok
}

// CommandNames returns the module's command names, sorted.
func (m *Module) CommandNames() []string { return sortedKeys(m.kind.Commands) }

// HelperNames returns the module's helper names, sorted.
func (m *Module) HelperNames() []string { return sortedKeys(m.kind.Helpers) }

// Binding reads module state, falling back to global module state.
func (m *Module) Binding(name string) any {
	return m.exec.Bindings.GetCustomBinding(name, m.ContextualName())
}

// SetBinding writes module state.
func (m *Module) SetBinding(name string, value any, global bool) {
	m.exec.Bindings.SetCustomBinding(name, value, m.ContextualName(), global)
}

// ConfigBinding reads the script variable $<contextualName>.<name>.
func (m *Module) ConfigBinding(name string) any {
	return m.exec.Bindings.GetBinding(bindings.ModuleKey(m.ContextualName(), name), bindings.User)
}

// GetNonce returns the predicted deployment count of addr. The first use of
// an address seeds the table from the chain.
func (m *Module) GetNonce(ctx context.Context, addr common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seedNonce(ctx, addr)
}

// IncrementNonce returns the predicted deployment count of addr and
// advances it.
func (m *Module) IncrementNonce(ctx context.Context, addr common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.seedNonce(ctx, addr)
	if err != nil {
		return 0, err
	}
	m.nonces[addr] = n + 1
	return n, nil
}

func (m *Module) seedNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if n, ok := m.nonces[addr]; ok {
		return n, nil
	}
	var n uint64
	if m.exec.Reader != nil {
		var err error
		n, err = m.exec.Reader.NonceAt(ctx, addr, nil)
		if err != nil {
			return 0, fmt.Errorf("nonce of %s: %w", addr.Hex(), err)
		}
	}
	m.nonces[addr] = n
	return n, nil
}

// InterpretCommand runs the command c names. Unknown names fail with
// ErrCommandNotFound.
func (m *Module) InterpretCommand(ctx context.Context, c *ast.Command, cb Callbacks) ([]action.Item, error) {
	cmd, ok := m.kind.Commands[c.Name]
	if !ok {
		return nil, m.notFound("command", c.Name, c.Pos, ErrCommandNotFound, m.CommandNames())
	}
	if err := m.checkArity("command", c.Name, c.Pos, len(c.Args), cmd.MinArgs, cmd.MaxArgs, cmd.Usage); err != nil {
		return nil, err
	}

	call := &Call{Module: m, Node: c, Exprs: c.Args, Callbacks: cb}
	if !cmd.Raw {
		args, err := cb.EvalAll(ctx, c.Args)
		if err != nil {
			return nil, err
		}
		call.Args = args
	}

	items, err := cmd.Run(ctx, call)
	if err != nil {
		return nil, m.wrap("command", c.Name, c.Pos, err)
	}
	return items, nil
}

// InterpretHelper evaluates the helper h names. Unknown names fail with
// ErrHelperNotFound.
func (m *Module) InterpretHelper(ctx context.Context, h *ast.HelperCall, cb Callbacks) (any, error) {
	name := strings.TrimPrefix(h.Name, m.ContextualName()+":")
	helper, ok := m.kind.Helpers[name]
	if !ok {
		return nil, m.notFound("helper", "@"+name, h.Pos, ErrHelperNotFound, m.HelperNames())
	}
	if err := m.checkArity("helper", "@"+h.Name, h.Pos, len(h.Args), helper.MinArgs, helper.MaxArgs, helper.Usage); err != nil {
		return nil, err
	}

	args, err := cb.EvalAll(ctx, h.Args)
	if err != nil {
		return nil, err
	}
	v, err := helper.Run(ctx, &Call{Module: m, Node: h, Exprs: h.Args, Args: args, Callbacks: cb})
	if err != nil {
		return nil, m.wrap("helper", "@"+h.Name, h.Pos, err)
	}
	return v, nil
}

func (m *Module) notFound(kind, name string, pos ast.Position, sentinel error, candidates []string) error {
	e := &Error{
		Kind:    kind,
		Module:  m.ContextualName(),
		Pos:     pos,
		Message: fmt.Sprintf("%s %s not found on module %s", kind, name, m.ContextualName()),
		Err:     sentinel,
	}
	if closest := findClosestMatch(strings.TrimPrefix(name, "@"), candidates); closest != "" {
		if strings.HasPrefix(name, "@") {
			closest = "@" + closest
		}
		e.Suggestion = fmt.Sprintf("Did you mean '%s'?", closest)
	}
	return e
}

func (m *Module) checkArity(kind, name string, pos ast.Position, got, minArgs, maxArgs int, usage string) error {
	if got >= minArgs && (maxArgs == Unbounded || got <= maxArgs) {
		return nil
	}
	var want string
	switch {
	case maxArgs == Unbounded:
		want = fmt.Sprintf("at least %d", minArgs)
	case minArgs == maxArgs:
		want = fmt.Sprintf("%d", minArgs)
	default:
		want = fmt.Sprintf("%d to %d", minArgs, maxArgs)
	}
	e := &Error{
		Kind:    kind,
		Module:  m.ContextualName(),
		Pos:     pos,
		Message: fmt.Sprintf("%s expects %s arguments, got %d", name, want, got),
		Err:     ErrArgumentCount,
	}
	if usage != "" {
		e.Suggestion = "usage: " + usage
	}
	return e
}

// wrap attributes a handler error to the node that raised it. Errors that
// already carry a position keep it.
func (m *Module) wrap(kind, name string, pos ast.Position, err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return &Error{
		Kind:    kind,
		Module:  m.ContextualName(),
		Pos:     pos,
		Message: fmt.Sprintf("%s: %v", name, err),
		Err:     err,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
