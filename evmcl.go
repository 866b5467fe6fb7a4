// Package evmcl encodes governance scripts into transactions.
//
// A script names an organization, then lists commands against it:
//
//	connect dao.aragonid.eth token-manager voting
//	install vault:treasury
//	grant finance vault:treasury TRANSFER_ROLE voting
//
// Parse checks the syntax. Encode interprets the commands into actions and
// wraps them through the forwarder path of the connect header, yielding the
// transactions to submit. Forward submits them in order.
package evmcl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/ast"
	"github.com/opal-lang/evmcl/core/batchfmt"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/forwarder"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/modules/aragonos"
	"github.com/opal-lang/evmcl/runtime/org"
	"github.com/opal-lang/evmcl/runtime/parser"

	// Registers the std module.
	_ "github.com/opal-lang/evmcl/runtime/modules/std"
)

// ErrNothingToForward is returned by Forward when the result has no actions.
var ErrNothingToForward = errors.New("nothing to forward")

// Script is a parsed script.
type Script struct {
	tree *parser.Tree
}

// Parse parses src. On syntax errors it returns the script together with
// an error combining every parse error.
func Parse(src []byte) (*Script, error) {
	tree := parser.Parse(src)
	return &Script{tree: tree}, tree.Err()
}

// ParseString is Parse for a string.
func ParseString(src string) (*Script, error) {
	return Parse([]byte(src))
}

// Program returns the syntax tree.
func (s *Script) Program() *ast.Program { return s.tree.Program }

// Errors returns the parse errors.
func (s *Script) Errors() []parser.ParseError { return s.tree.Errors }

// Options configures Encode.
type Options struct {
	interpreter.Env
	Interpreter interpreter.Config

	// Path replaces the forwarder path of the connect header.
	Path []string
	// Context replaces the --context of the connect header.
	Context string
}

// Result is an encoded script.
type Result struct {
	RunID        string
	Organization string
	Path         []string
	Context      string
	// ChainID is the chain the script ran against, 0 when unknown.
	ChainID uint64

	// Batch is the interpreted actions before forwarding.
	Batch []action.Action
	// Actions are the transactions to submit, in order.
	Actions []action.Action

	Telemetry *interpreter.Telemetry

	labels map[string]string
	signer chain.Signer
}

// Encode interprets the script and wraps its actions through the forwarder
// path. A connected script must have a path, from its connect header or
// opts.Path. Scripts without a connect header submit their actions
// directly.
func (s *Script) Encode(ctx context.Context, opts Options) (*Result, error) {
	if err := s.tree.Err(); err != nil {
		return nil, err
	}

	ec := interpreter.NewExecutionContext(opts.Env)
	in := interpreter.New(ec, opts.Interpreter)
	logger := ec.Logger

	start := time.Now()
	items, err := in.Interpret(ctx, s.tree.Program)
	if err != nil {
		return nil, err
	}
	batch, err := action.Normalize(ctx, items)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:     ec.RunID,
		Batch:     batch,
		Actions:   batch,
		Telemetry: in.Telemetry(),
		signer:    opts.Signer,
	}
	if id, err := ec.ChainID(ctx); err == nil {
		res.ChainID = id
	}

	connect := ec.Connect()
	if connect == nil {
		logger.Debug("encoded", "actions", len(batch), "duration", time.Since(start))
		return res, nil
	}
	res.Organization = connect.Organization
	res.Path = connect.Path
	res.Context = connect.Context
	if opts.Path != nil {
		res.Path = opts.Path
	}
	if opts.Context != "" {
		res.Context = opts.Context
	}

	o, err := aragonos.Organization(ec)
	if err != nil {
		return nil, err
	}
	res.labels = labels(o)

	if len(res.Path) == 0 {
		return nil, fmt.Errorf("connect %s: %w", res.Organization, forwarder.ErrEmptyForwarderPath)
	}
	res.Actions, err = forwarder.Encode(ctx, o, batch, res.Path, forwarder.Options{
		Context: res.Context,
		Reader:  opts.Reader,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("encoded", "organization", res.Organization, "path", res.Path,
		"batch", len(batch), "actions", len(res.Actions), "duration", time.Since(start))
	return res, nil
}

func labels(o *org.Organization) map[string]string {
	out := map[string]string{
		o.Kernel.Hex(): "kernel",
		o.ACL.Hex():    "acl",
	}
	for _, id := range o.Apps.Identifiers() {
		app, err := o.Apps.Get(id)
		if err != nil {
			continue
		}
		if _, taken := out[app.Address.Hex()]; !taken {
			out[app.Address.Hex()] = id
		}
	}
	return out
}

// File returns the result in its on-disk form. chainID is used when the
// script did not establish one.
func (r *Result) File(chainID uint64) *batchfmt.Batch {
	b := batchfmt.New(r.Organization, r.Actions)
	b.ChainID = chainID
	if r.ChainID != 0 {
		b.ChainID = r.ChainID
	}
	b.Path = r.Path
	b.Context = r.Context
	b.Labels = make(map[string]string, len(r.labels))
	for addr, name := range r.labels {
		b.Labels[addr] = name
	}
	return b
}

// Forward submits the actions in order with the signer Encode was given.
// It stops at the first failure and returns the receipts collected so far.
func (r *Result) Forward(ctx context.Context) ([]*types.Receipt, error) {
	return Forward(ctx, r.signer, r.Actions)
}

// Forward submits actions in order with signer.
func Forward(ctx context.Context, signer chain.Signer, actions []action.Action) ([]*types.Receipt, error) {
	if signer == nil {
		return nil, chain.ErrNoSigner
	}
	if len(actions) == 0 {
		return nil, ErrNothingToForward
	}

	receipts := make([]*types.Receipt, 0, len(actions))
	for i, a := range actions {
		receipt, err := signer.SendTransaction(ctx, a)
		if err != nil {
			return receipts, fmt.Errorf("action %d of %d: %w", i+1, len(actions), err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}
