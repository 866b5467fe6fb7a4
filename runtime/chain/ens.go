package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/opal-lang/evmcl/core/evmscript"
)

// ENSRegistry is the ENS registry address on mainnet and most testnets.
var ENSRegistry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

// ErrNameNotFound is returned when an ENS name has no resolver or address.
var ErrNameNotFound = errors.New("ens name not found")

var (
	ensResolver = evmscript.MustParseSignature("resolver(bytes32) returns (address)")
	ensAddr     = evmscript.MustParseSignature("addr(bytes32) returns (address)")
)

// Namehash computes the ENS node of name.
func Namehash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		node = crypto.Keccak256Hash(node[:], label)
	}
	return node
}

// ENS resolves names through an ENS registry.
type ENS struct {
	Reader   Reader
	Registry common.Address
}

// Resolve returns the address name points to.
func (e *ENS) Resolve(ctx context.Context, name string) (common.Address, error) {
	registry := e.Registry
	if registry == (common.Address{}) {
		registry = ENSRegistry
	}
	node := Namehash(name)

	resolver, err := e.callAddress(ctx, registry, ensResolver, node)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolver of %s: %w", name, err)
	}
	if resolver == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s has no resolver", ErrNameNotFound, name)
	}
	addr, err := e.callAddress(ctx, resolver, ensAddr, node)
	if err != nil {
		return common.Address{}, fmt.Errorf("address of %s: %w", name, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}
	return addr, nil
}

func (e *ENS) callAddress(ctx context.Context, to common.Address, m evmscript.Method, node common.Hash) (common.Address, error) {
	data, err := m.Pack(node)
	if err != nil {
		return common.Address{}, err
	}
	out, err := Call(ctx, e.Reader, to, data)
	if err != nil {
		return common.Address{}, err
	}
	values, err := m.UnpackOutputs(out)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %T result", values[0])
	}
	return addr, nil
}
