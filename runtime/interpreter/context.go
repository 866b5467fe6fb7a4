package interpreter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opal-lang/evmcl/core/ast"
	"github.com/opal-lang/evmcl/runtime/bindings"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/metadata"
)

// Registry holds the module kinds a script can load.
// Uses the database/sql driver registration pattern.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*Kind)}
}

var global = NewRegistry()

// Register adds a module kind to the default registry.
//
// Example:
//
//	func init() {
//	    if err := interpreter.Register(Kind()); err != nil {
//	        panic(err)
//	    }
//	}
func Register(kind *Kind) error {
	return global.Register(kind)
}

// DefaultRegistry returns the registry Register writes to.
func DefaultRegistry() *Registry { return global }

// Register adds a kind. Names are unique.
func (r *Registry) Register(kind *Kind) error {
	if kind == nil || kind.Name == "" {
		return fmt.Errorf("module kind must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[kind.Name]; exists {
		return fmt.Errorf("module %q already registered", kind.Name)
	}
	r.kinds[kind.Name] = kind
	return nil
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.kinds[name]
	return k, ok
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.kinds)
}

// Env lists the collaborators of one execution. Every field is optional;
// commands that need a missing collaborator fail when they run.
type Env struct {
	Registry *Registry // defaults to DefaultRegistry()
	Fetcher  metadata.Fetcher
	Tokens   metadata.TokenResolver
	Signer   chain.Signer
	Reader   chain.Reader
	ChainID  uint64 // used when there is no signer
	Logger   *slog.Logger
	Out      io.Writer // destination of print; defaults to io.Discard
	Now      func() time.Time
}

// ExecutionContext owns the state of one script execution: bindings,
// loaded modules and their nonce tables. It is never shared between
// executions.
type ExecutionContext struct {
	RunID    string
	Bindings *bindings.Store
	Fetcher  metadata.Fetcher
	Tokens   metadata.TokenResolver
	Signer   chain.Signer
	Reader   chain.Reader
	Logger   *slog.Logger
	Out      io.Writer
	Now      func() time.Time

	registry *Registry

	mu      sync.RWMutex
	chainID uint64
	modules []*Module
	connect *ast.Connect
}

// NewExecutionContext returns a fresh execution with a new run id.
func NewExecutionContext(env Env) *ExecutionContext {
	ec := &ExecutionContext{
		RunID:    uuid.NewString(),
		Bindings: bindings.New(),
		Fetcher:  env.Fetcher,
		Tokens:   env.Tokens,
		Signer:   env.Signer,
		Reader:   env.Reader,
		Logger:   env.Logger,
		Out:      env.Out,
		Now:      env.Now,
		registry: env.Registry,
		chainID:  env.ChainID,
	}
	if ec.registry == nil {
		ec.registry = global
	}
	if ec.Logger == nil {
		ec.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ec.Logger = ec.Logger.With("run", ec.RunID)
	if ec.Out == nil {
		ec.Out = io.Discard
	}
	if ec.Now == nil {
		ec.Now = time.Now
	}
	return ec
}

// Load instantiates a registered module kind. The alias, or the name when
// there is none, must not clash with a loaded module.
func (ec *ExecutionContext) Load(name, alias string) (*Module, error) {
	kind, ok := ec.registry.Lookup(name)
	if !ok {
		e := &Error{Kind: "module", Message: fmt.Sprintf("module %s not found", name), Err: ErrModuleNotFound}
		if closest := findClosestMatch(name, ec.registry.Names()); closest != "" {
			e.Suggestion = fmt.Sprintf("Did you mean '%s'?", closest)
		}
		return nil, e
	}

	m := newModule(kind, alias, ec)
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for _, loaded := range ec.modules {
		if loaded.ContextualName() == m.ContextualName() {
			return nil, fmt.Errorf("module %s already loaded", m.ContextualName())
		}
	}
	ec.modules = append(ec.modules, m)
	ec.Logger.Debug("module loaded", "module", name, "alias", alias)
	return m, nil
}

// Module returns the loaded module with the given contextual name.
func (ec *ExecutionContext) Module(contextualName string) (*Module, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	for _, m := range ec.modules {
		if m.ContextualName() == contextualName {
			return m, true
		}
	}
	return nil, false
}

// ModuleOfKind returns the first loaded instance of a module kind.
func (ec *ExecutionContext) ModuleOfKind(name string) (*Module, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	for _, m := range ec.modules {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Modules returns the loaded modules in load order.
func (ec *ExecutionContext) Modules() []*Module {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return append([]*Module(nil), ec.modules...)
}

// Connect returns the script's connect header, or nil.
func (ec *ExecutionContext) Connect() *ast.Connect {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.connect
}

// ChainID returns the signer's chain, or the configured one.
func (ec *ExecutionContext) ChainID(ctx context.Context) (uint64, error) {
	if ec.Signer != nil {
		id, err := ec.Signer.ChainID(ctx)
		if err != nil {
			return 0, fmt.Errorf("chain id: %w", err)
		}
		return id.Uint64(), nil
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if ec.chainID != 0 {
		return ec.chainID, nil
	}
	return 0, fmt.Errorf("chain id: %w", chain.ErrNoSigner)
}

// SwitchChain makes id the execution's chain. A signer is bound to its
// endpoint's chain and a connected organization to the chain it was read
// from, so switching away from either fails with ErrChainMismatch.
func (ec *ExecutionContext) SwitchChain(ctx context.Context, id uint64) error {
	if ec.Signer != nil {
		current, err := ec.ChainID(ctx)
		if err != nil {
			return err
		}
		if current != id {
			return fmt.Errorf("%w: signer is on chain %d, not %d", ErrChainMismatch, current, id)
		}
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.connect != nil && ec.chainID != 0 && ec.chainID != id {
		return fmt.Errorf("%w: %s was read from chain %d", ErrChainMismatch, ec.connect.Organization, ec.chainID)
	}
	if ec.chainID != id {
		ec.Logger.Debug("switch chain", "from", ec.chainID, "to", id)
	}
	ec.chainID = id
	return nil
}
