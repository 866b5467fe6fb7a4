package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/opal-lang/evmcl/core/action"
)

// RPC talks to a node over JSON-RPC. Without a key it is read-only.
type RPC struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// ParseKey decodes a hex private key, with or without 0x.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Dial connects to url. key may be nil.
func Dial(ctx context.Context, url string, key *ecdsa.PrivateKey, logger *slog.Logger) (*RPC, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &RPC{client: client, key: key, chainID: chainID, logger: logger}
	if key != nil {
		r.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return r, nil
}

// Close closes the connection.
func (r *RPC) Close() { r.client.Close() }

// Address implements Signer.
func (r *RPC) Address() common.Address { return r.from }

// ChainID implements Signer.
func (r *RPC) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(r.chainID), nil
}

// CallContract implements Reader.
func (r *RPC) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return r.client.CallContract(ctx, call, block)
}

// NonceAt implements Reader.
func (r *RPC) NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error) {
	return r.client.NonceAt(ctx, account, block)
}

// SendTransaction implements Signer. It prices the transaction from the
// node's suggestions, signs it and waits for the receipt.
func (r *RPC) SendTransaction(ctx context.Context, a action.Action) (*types.Receipt, error) {
	if r.key == nil {
		return nil, ErrNoSigner
	}

	to := a.To()
	msg := ethereum.CallMsg{From: r.from, To: &to, Value: a.Value(), Data: a.Data()}
	gas, err := r.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	nonce, err := r.client.PendingNonceAt(ctx, r.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	tx, err := r.buildTx(ctx, nonce, gas, a)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	r.logger.Debug("transaction sent", "hash", signed.Hash().Hex(), "to", to.Hex(), "nonce", nonce, "gas", gas)

	receipt, err := bind.WaitMined(ctx, r.client, signed)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTransactionReverted, signed.Hash().Hex())
	}
	return receipt, nil
}

func (r *RPC) buildTx(ctx context.Context, nonce, gas uint64, a action.Action) (*types.Transaction, error) {
	to := a.To()
	head, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := r.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce: nonce, GasPrice: price, Gas: gas, To: &to, Value: a.Value(), Data: a.Data(),
		}), nil
	}

	tip, err := r.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     a.Value(),
		Data:      a.Data(),
	}), nil
}
