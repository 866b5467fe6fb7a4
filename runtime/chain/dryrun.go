package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/opal-lang/evmcl/core/action"
)

// ErrNoReader is returned by DryRun reads when no Reader backs it.
var ErrNoReader = errors.New("dry run has no chain to read from")

// DryRun records submitted actions instead of sending them. Reads go to
// Reader when set; nonces start at zero otherwise.
type DryRun struct {
	From   common.Address
	Chain  *big.Int
	Reader Reader

	mu   sync.Mutex
	sent []action.Action
}

// Address implements Signer.
func (d *DryRun) Address() common.Address { return d.From }

// ChainID implements Signer.
func (d *DryRun) ChainID(context.Context) (*big.Int, error) {
	if d.Chain == nil {
		return big.NewInt(1), nil
	}
	return new(big.Int).Set(d.Chain), nil
}

// SendTransaction implements Signer. The receipt is successful and carries
// a transaction hash derived from the sender, position and call.
func (d *DryRun) SendTransaction(_ context.Context, a action.Action) (*types.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.sent)
	d.sent = append(d.sent, a)
	hash := crypto.Keccak256Hash(d.From.Bytes(), big.NewInt(int64(n)).Bytes(), a.To().Bytes(), a.Data())
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(int64(n + 1)),
	}, nil
}

// Sent returns the recorded actions in submission order.
func (d *DryRun) Sent() []action.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]action.Action(nil), d.sent...)
}

// CallContract implements Reader.
func (d *DryRun) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if d.Reader == nil {
		return nil, ErrNoReader
	}
	return d.Reader.CallContract(ctx, call, block)
}

// NonceAt implements Reader.
func (d *DryRun) NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error) {
	if d.Reader == nil {
		return 0, nil
	}
	return d.Reader.NonceAt(ctx, account, block)
}
