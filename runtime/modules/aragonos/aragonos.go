// Package aragonos is the organization module: it connects a script to an
// organization and encodes app installs, upgrades, permission changes and
// app calls against it.
package aragonos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/ast"
	"github.com/opal-lang/evmcl/core/identifier"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/modules/std"
	"github.com/opal-lang/evmcl/runtime/org"
)

// Name is the module name.
const Name = interpreter.DefaultConnectModule

const organizationBinding = "organization"

// ErrNoFetcher is returned when connecting without a metadata fetcher.
var ErrNoFetcher = errors.New("no metadata fetcher configured")

func init() {
	if err := interpreter.Register(Kind()); err != nil {
		panic(fmt.Sprintf("failed to register %s module: %v", Name, err))
	}
}

// Kind returns the aragonos module definition.
func Kind() *interpreter.Kind {
	return &interpreter.Kind{
		Name: Name,
		Commands: map[string]interpreter.Command{
			"install": {Usage: "install <repo>[@version][:label] [...initParams]", MinArgs: 1, MaxArgs: interpreter.Unbounded, Run: install},
			"upgrade": {Usage: "upgrade <repo> [codeAddress]", MinArgs: 1, MaxArgs: 2, Run: upgrade},
			"grant":   {Usage: "grant <grantee> <app> <role> [manager]", MinArgs: 3, MaxArgs: 4, Run: grant},
			"revoke":  {Usage: "revoke <grantee> <app> <role> [removeManager]", MinArgs: 3, MaxArgs: 4, Run: revoke},
			"exec":    {Usage: "exec <app> <method> [...params]", MinArgs: 2, MaxArgs: interpreter.Unbounded, Run: exec},
			"act":     {Usage: "act <agent> <target> <signature> [...params]", MinArgs: 3, MaxArgs: interpreter.Unbounded, Run: act},
			"new":     {Usage: "new token <name> <symbol> <controller> [decimals=18] [transferable=true]", MinArgs: 4, MaxArgs: 6, Run: newToken},
		},
		Helpers: map[string]interpreter.Helper{
			"app": {Usage: "@app(identifier)", MinArgs: 1, MaxArgs: 1, Run: appAddress},
		},
		Connect: connect,
	}
}

func connect(ctx context.Context, m *interpreter.Module, c *ast.Connect) error {
	ec := m.Exec()
	if ec.Fetcher == nil {
		return ErrNoFetcher
	}
	for _, hop := range c.Path {
		if common.IsHexAddress(hop) {
			continue
		}
		if _, err := identifier.Resolve(hop); err != nil {
			return fmt.Errorf("forwarder path: %w", err)
		}
	}

	md, err := ec.Fetcher.Organization(ctx, c.Organization)
	if err != nil {
		return err
	}
	o, err := org.FromMetadata(c.Organization, md)
	if err != nil {
		return err
	}
	m.SetBinding(organizationBinding, o, false)
	ec.Logger.Debug("connected", "organization", c.Organization, "kernel", o.Kernel.Hex(), "apps", len(o.Apps.Identifiers()))
	return nil
}

// Organization returns the organization the execution is connected to.
func Organization(ec *interpreter.ExecutionContext) (*org.Organization, error) {
	m, ok := ec.ModuleOfKind(Name)
	if !ok {
		return nil, interpreter.ErrNotConnected
	}
	return session(m)
}

func session(m *interpreter.Module) (*org.Organization, error) {
	o, ok := m.Binding(organizationBinding).(*org.Organization)
	if !ok {
		return nil, fmt.Errorf("%w: start the script with connect <organization>", interpreter.ErrNotConnected)
	}
	return o, nil
}

// entityRef turns an evaluated argument into an entity reference.
func entityRef(v any) (string, error) {
	if addr, ok := v.(common.Address); ok {
		return addr.Hex(), nil
	}
	return std.String(v)
}

func resolveEntity(o *org.Organization, v any) (common.Address, error) {
	if addr, ok := v.(common.Address); ok {
		return addr, nil
	}
	ref, err := std.String(v)
	if err != nil {
		return common.Address{}, err
	}
	return o.ResolveEntity(ref)
}

// resolveArgs replaces app identifiers in address-typed arguments with
// their addresses.
func resolveArgs(o *org.Organization, inputs abi.Arguments, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		if i >= len(inputs) {
			out[i] = arg
			continue
		}
		v, err := resolveValue(o, inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func resolveValue(o *org.Organization, typ abi.Type, v any) (any, error) {
	switch typ.T {
	case abi.AddressTy:
		if s, ok := v.(string); ok && !strings.HasPrefix(s, "0x") {
			return o.ResolveEntity(s)
		}
	case abi.SliceTy, abi.ArrayTy:
		items, ok := v.([]any)
		if !ok {
			return v, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			r, err := resolveValue(o, *typ.Elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

func appAddress(_ context.Context, call *interpreter.Call) (any, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	ref, err := std.String(call.Arg(0))
	if err != nil {
		return nil, err
	}
	app, err := o.App(ref)
	if err != nil {
		return nil, err
	}
	return app.Address, nil
}
