// Package forwarder composes a batch of actions through a path of
// forwarders.
//
// Forwarders are proxies that execute a CallsScript they receive. Wrapping
// mirrors execution: the batch is encoded for the last hop first, and each
// earlier hop receives a script calling the next one. Only the first hop is
// called directly by the sender, so it is the only one whose fee is paid up
// front.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/evmscript"
	"github.com/opal-lang/evmcl/core/invariant"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/org"
)

var (
	// ErrEmptyForwarderPath is returned when no forwarder is given.
	ErrEmptyForwarderPath = errors.New("empty forwarder path")
	// ErrEmptyActionBatch is returned when there is nothing to forward.
	ErrEmptyActionBatch = errors.New("empty action batch")
	// ErrMissingForwarderContext is returned when a forwarder needs a
	// context and none was given.
	ErrMissingForwarderContext = errors.New("forwarder requires a context")
	// ErrNotForwarder is returned when a hop's ABI has no forward entry point.
	ErrNotForwarder = errors.New("app is not a forwarder")
	// ErrFeeUnavailable is returned when a fee-charging hop's fee cannot be
	// read.
	ErrFeeUnavailable = errors.New("cannot read forwarder fee")
)

var (
	forward            = evmscript.MustParseSignature("forward(bytes)")
	forwardWithContext = evmscript.MustParseSignature("forward(bytes,bytes)")
	forwardFee         = evmscript.MustParseSignature("forwardFee() returns (address,uint256)")
	approve            = evmscript.MustParseSignature("approve(address,uint256)")
)

// Hop is one resolved forwarder.
type Hop struct {
	Ref             string
	Address         common.Address
	RequiresContext bool
	ChargesFee      bool
}

// Options configures Encode.
type Options struct {
	// Context is embedded in the payload of context forwarders.
	Context string
	// Reader reads the first hop's fee. Required only when it charges one.
	Reader chain.Reader
}

// Resolve turns path entities into hops. Apps of the organization must
// expose forward(bytes) or forward(bytes,bytes); addresses outside the
// organization are taken as plain forwarders.
func Resolve(o *org.Organization, path []string) ([]Hop, error) {
	invariant.NotNil(o, "organization")
	if len(path) == 0 {
		return nil, ErrEmptyForwarderPath
	}

	hops := make([]Hop, 0, len(path))
	for _, ref := range path {
		addr, err := o.ResolveEntity(ref)
		if err != nil {
			return nil, fmt.Errorf("forwarder %q: %w", ref, err)
		}
		hop := Hop{Ref: ref, Address: addr}

		if app, ok := o.AppAt(addr); ok && app.ABI != nil {
			var plain, withContext bool
			for _, m := range app.ABI.Methods {
				switch m.Sig {
				case forward.Sig:
					plain = true
				case forwardWithContext.Sig:
					withContext = true
				case forwardFee.Sig:
					hop.ChargesFee = true
				}
			}
			if !plain && !withContext {
				return nil, fmt.Errorf("%w: %s", ErrNotForwarder, ref)
			}
			hop.RequiresContext = withContext && !plain
		}
		hops = append(hops, hop)
	}
	return hops, nil
}

// Encode wraps actions through path and returns the actions to submit:
// an optional fee approval followed by the call to the first hop.
func Encode(ctx context.Context, o *org.Organization, actions []action.Action, path []string, opts Options) ([]action.Action, error) {
	if len(path) == 0 {
		return nil, ErrEmptyForwarderPath
	}
	if len(actions) == 0 {
		return nil, ErrEmptyActionBatch
	}
	hops, err := Resolve(o, path)
	if err != nil {
		return nil, err
	}
	return EncodeHops(ctx, actions, hops, opts)
}

// EncodeHops is Encode over already resolved hops.
func EncodeHops(ctx context.Context, actions []action.Action, hops []Hop, opts Options) ([]action.Action, error) {
	if len(hops) == 0 {
		return nil, ErrEmptyForwarderPath
	}
	if len(actions) == 0 {
		return nil, ErrEmptyActionBatch
	}
	for _, hop := range hops {
		if hop.RequiresContext && opts.Context == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingForwarderContext, hop.Ref)
		}
	}

	pending := actions
	for i := len(hops) - 1; i >= 0; i-- {
		hop := hops[i]
		script, err := evmscript.EncodeCallsScript(pending)
		if err != nil {
			return nil, fmt.Errorf("forwarder %s: %w", hop.Ref, err)
		}

		var data []byte
		if hop.RequiresContext {
			data, err = forwardWithContext.Pack(script, []byte(opts.Context))
		} else {
			data, err = forward.Pack(script)
		}
		invariant.ExpectNoError(err, "pack forward")
		pending = []action.Action{action.New(hop.Address, data, nil)}
	}
	invariant.Postcondition(len(pending) == 1, "wrapping yields one action")

	first := hops[0]
	if !first.ChargesFee {
		return pending, nil
	}

	token, amount, err := fee(ctx, opts.Reader, first.Address)
	if err != nil {
		return nil, fmt.Errorf("forwarder %s: %w", first.Ref, err)
	}
	if amount.Sign() == 0 {
		return pending, nil
	}
	if token == (common.Address{}) {
		return []action.Action{action.New(first.Address, pending[0].Data(), amount)}, nil
	}
	data, err := approve.Pack(first.Address, amount)
	invariant.ExpectNoError(err, "pack approve")
	return []action.Action{action.New(token, data, nil), pending[0]}, nil
}

func fee(ctx context.Context, r chain.Reader, hop common.Address) (common.Address, *big.Int, error) {
	if r == nil {
		return common.Address{}, nil, fmt.Errorf("%w: no chain reader", ErrFeeUnavailable)
	}
	data, err := forwardFee.Pack()
	invariant.ExpectNoError(err, "pack forwardFee")

	out, err := chain.Call(ctx, r, hop, data)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", ErrFeeUnavailable, err)
	}
	values, err := forwardFee.UnpackOutputs(out)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", ErrFeeUnavailable, err)
	}
	token, _ := values[0].(common.Address)
	amount, _ := values[1].(*big.Int)
	if amount == nil {
		amount = new(big.Int)
	}
	return token, amount, nil
}

// Decoded is one unwrapped forwarding call.
type Decoded struct {
	Actions    []action.Action
	Context    string
	HasContext bool
}

// DecodeForward reverses one hop: it decodes the CallsScript (and context)
// a forwarding action carries.
func DecodeForward(a action.Action) (Decoded, error) {
	data := a.Data()
	if len(data) < 4 {
		return Decoded{}, fmt.Errorf("%w: call data too short", evmscript.ErrMalformedScript)
	}

	switch string(data[:4]) {
	case string(forward.ID):
		args, err := forward.Unpack(data)
		if err != nil {
			return Decoded{}, err
		}
		actions, err := evmscript.DecodeCallsScript(args[0].([]byte))
		return Decoded{Actions: actions}, err
	case string(forwardWithContext.ID):
		args, err := forwardWithContext.Unpack(data)
		if err != nil {
			return Decoded{}, err
		}
		actions, err := evmscript.DecodeCallsScript(args[0].([]byte))
		return Decoded{Actions: actions, Context: string(args[1].([]byte)), HasContext: true}, err
	}
	return Decoded{}, fmt.Errorf("%w: not a forward call", evmscript.ErrMalformedScript)
}

// DecodePath unwraps nested forwarding calls depth hops deep and returns
// the innermost batch and every context seen, outermost first.
func DecodePath(a action.Action, depth int) ([]action.Action, []string, error) {
	invariant.Precondition(depth > 0, "depth must be positive")

	current := []action.Action{a}
	var contexts []string
	for i := 0; i < depth; i++ {
		if len(current) != 1 {
			return nil, nil, fmt.Errorf("hop %d: expected one forwarding call, got %d", i, len(current))
		}
		d, err := DecodeForward(current[0])
		if err != nil {
			return nil, nil, fmt.Errorf("hop %d: %w", i, err)
		}
		if d.HasContext {
			contexts = append(contexts, d.Context)
		}
		current = d.Actions
	}
	return current, contexts, nil
}
