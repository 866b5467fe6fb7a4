// Package std is the module every script has: variables, module loading,
// raw calls, printing, and general purpose helpers.
package std

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/ast"
	"github.com/opal-lang/evmcl/core/evmscript"
	"github.com/opal-lang/evmcl/runtime/bindings"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/interpreter"
)

// Name is the module name.
const Name = interpreter.DefaultModule

func init() {
	if err := interpreter.Register(Kind()); err != nil {
		panic(fmt.Sprintf("failed to register %s module: %v", Name, err))
	}
}

// Kind returns the std module definition.
func Kind() *interpreter.Kind {
	return &interpreter.Kind{
		Name: Name,
		Commands: map[string]interpreter.Command{
			"set":    {Usage: "set $name <value>", MinArgs: 2, MaxArgs: 2, Raw: true, Run: set},
			"load":   {Usage: "load <module> [as <alias>]", MinArgs: 1, MaxArgs: 3, Raw: true, Run: load},
			"exec":   {Usage: "exec <address> <signature> [...params]", MinArgs: 2, MaxArgs: interpreter.Unbounded, Run: exec},
			"print":  {Usage: "print [...values]", MaxArgs: interpreter.Unbounded, Run: printArgs},
			"switch": {Usage: "switch <chainId|network>", MinArgs: 1, MaxArgs: 1, Run: switchChain},
		},
		Helpers: map[string]interpreter.Helper{
			"me":    {Usage: "@me", Run: me},
			"id":    {Usage: "@id(text)", MinArgs: 1, MaxArgs: 1, Run: id},
			"token": {Usage: "@token(symbol)", MinArgs: 1, MaxArgs: 1, Run: token},
			"date":  {Usage: "@date(yyyy-mm-dd|now [, offset])", MinArgs: 1, MaxArgs: 2, Run: date},
			"get":   {Usage: "@get(address, signature [, ...params])", MinArgs: 2, MaxArgs: interpreter.Unbounded, Run: get},
		},
	}
}

func set(ctx context.Context, call *interpreter.Call) ([]action.Item, error) {
	v, ok := call.Exprs[0].(*ast.VariableRef)
	if !ok {
		return nil, fmt.Errorf("expected a $variable, got %s", call.Exprs[0])
	}
	value, err := call.Callbacks.Eval(ctx, call.Exprs[1])
	if err != nil {
		return nil, err
	}
	call.Module.Exec().Bindings.SetBinding(bindings.UserKey(v.Name), value, bindings.User)
	return nil, nil
}

// switchChain changes the chain later lines and the encoded batch resolve
// against.
func switchChain(ctx context.Context, call *interpreter.Call) ([]action.Item, error) {
	network, err := String(call.Arg(0))
	if err != nil {
		return nil, err
	}
	id, err := chain.ParseNetwork(network)
	if err != nil {
		return nil, err
	}
	return nil, call.Module.Exec().SwitchChain(ctx, id)
}

func load(_ context.Context, call *interpreter.Call) ([]action.Item, error) {
	words := make([]string, len(call.Exprs))
	for i, e := range call.Exprs {
		lit, ok := e.(*ast.Literal)
		if !ok {
			return nil, fmt.Errorf("expected a module name, got %s", e)
		}
		words[i] = lit.Value
	}

	var alias string
	switch len(words) {
	case 1:
	case 3:
		if words[1] != "as" {
			return nil, fmt.Errorf("expected 'as', got %q", words[1])
		}
		alias = words[2]
	default:
		return nil, errors.New("usage: load <module> [as <alias>]")
	}
	_, err := call.Module.Exec().Load(words[0], alias)
	return nil, err
}

func exec(_ context.Context, call *interpreter.Call) ([]action.Item, error) {
	to, err := Address(call.Arg(0))
	if err != nil {
		return nil, err
	}
	sig, err := String(call.Arg(1))
	if err != nil {
		return nil, err
	}
	m, err := evmscript.ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	data, err := m.Pack(call.Args[2:]...)
	if err != nil {
		return nil, err
	}
	return []action.Item{action.Resolved(action.New(to, data, nil))}, nil
}

func printArgs(_ context.Context, call *interpreter.Call) ([]action.Item, error) {
	parts := make([]string, len(call.Args))
	for i, a := range call.Args {
		parts[i] = Format(a)
	}
	_, err := fmt.Fprintln(call.Module.Exec().Out, strings.Join(parts, " "))
	return nil, err
}

// Address converts a script value to an address. Only hex literals and
// helper results qualify; app identifiers need the organization.
func Address(v any) (common.Address, error) {
	switch x := v.(type) {
	case common.Address:
		return x, nil
	case string:
		if common.IsHexAddress(x) {
			return common.HexToAddress(x), nil
		}
		return common.Address{}, fmt.Errorf("%q is not an address", x)
	}
	return common.Address{}, fmt.Errorf("%s is not an address", Format(v))
}

// String converts a script value to text.
func String(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("%s is not text", Format(v))
}

// Format renders a script value the way print shows it.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return x
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case *big.Int:
		return x.String()
	case []byte:
		return hexutil.Encode(x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprint(v)
}
