// Package chain is the boundary between scripts and a blockchain node.
//
// Scripts read state through Reader (contract calls, account nonces) and
// submit their final actions through Signer. RPC implements both over
// JSON-RPC; DryRun records submissions without sending anything.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/opal-lang/evmcl/core/action"
)

var (
	// ErrNoSigner is returned when submitting through a read-only client.
	ErrNoSigner = errors.New("no signing key configured")
	// ErrTransactionReverted is returned when a submitted action is mined
	// with a failed status.
	ErrTransactionReverted = errors.New("transaction reverted")
)

// Reader reads chain state.
type Reader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error)
}

// Signer signs and submits actions.
type Signer interface {
	// Address is the account actions are sent from.
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	// SendTransaction submits a and waits until it is mined.
	SendTransaction(ctx context.Context, a action.Action) (*types.Receipt, error)
}

// Client is a Reader that can also sign.
type Client interface {
	Reader
	Signer
}

// Call performs a read-only call of data against to from the zero address.
func Call(ctx context.Context, r Reader, to common.Address, data []byte) ([]byte, error) {
	return r.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
