// Package action defines the call descriptors a script produces.
//
// An Action is one on-chain call. Commands return Items: either actions
// already encoded (Resolved) or a closure that encodes them later (Deferred),
// used when call data depends on state that only exists after earlier
// commands ran. Normalize turns a list of items into actions, in order.
package action

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Action is an immutable on-chain call: target, call data and ETH value.
type Action struct {
	to    common.Address
	data  []byte
	value *big.Int
}

// New creates an action. data and value are copied; a nil value means zero.
func New(to common.Address, data []byte, value *big.Int) Action {
	a := Action{to: to, data: bytes.Clone(data)}
	if value != nil && value.Sign() != 0 {
		a.value = new(big.Int).Set(value)
	}
	return a
}

// To returns the call target.
func (a Action) To() common.Address { return a.to }

// Data returns a copy of the call data.
func (a Action) Data() []byte { return bytes.Clone(a.data) }

// Value returns a copy of the ETH value, zero when unset.
func (a Action) Value() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

// HasValue reports whether the action transfers ETH.
func (a Action) HasValue() bool { return a.value != nil }

// Selector returns the first four bytes of the call data, or nil.
func (a Action) Selector() []byte {
	if len(a.data) < 4 {
		return nil
	}
	return bytes.Clone(a.data[:4])
}

// Equal reports whether two actions describe the same call.
func (a Action) Equal(b Action) bool {
	return a.to == b.to && bytes.Equal(a.data, b.data) && a.Value().Cmp(b.Value()) == 0
}

func (a Action) String() string {
	s := fmt.Sprintf("%s %s", a.to.Hex(), hexutil.Encode(a.data))
	if a.value != nil {
		s += fmt.Sprintf(" value=%s", a.value)
	}
	return s
}

// Func computes actions when invoked.
type Func func(ctx context.Context) ([]Action, error)

// Item is a command result: Resolved actions or a Deferred Func.
type Item struct {
	actions  []Action
	deferred Func
}

// Resolved wraps already encoded actions.
func Resolved(actions ...Action) Item {
	return Item{actions: append([]Action(nil), actions...)}
}

// Deferred wraps a Func to be run during normalization.
func Deferred(fn Func) Item {
	return Item{deferred: fn}
}

// IsDeferred reports whether the item still needs to be invoked.
func (i Item) IsDeferred() bool { return i.deferred != nil }

// Resolve returns the item's actions, invoking the closure if deferred.
func (i Item) Resolve(ctx context.Context) ([]Action, error) {
	if i.deferred == nil {
		return append([]Action(nil), i.actions...), nil
	}
	return i.deferred(ctx)
}

// Normalize resolves every item in order and concatenates the results.
// The first failing item aborts normalization; no partial list is returned.
func Normalize(ctx context.Context, items []Item) ([]Action, error) {
	var out []Action
	for idx, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		actions, err := item.Resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", idx, err)
		}
		out = append(out, actions...)
	}
	return out, nil
}
