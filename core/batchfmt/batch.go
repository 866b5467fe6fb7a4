// Package batchfmt defines the on-disk form of an encoded action batch.
//
// A batch file is what `evmcl encode -o` writes and `evmcl forward` or
// `evmcl inspect` read back: the final actions (after forwarder wrapping)
// plus enough context to explain them. The body is canonical CBOR so the
// same batch always produces the same bytes and the same BLAKE2b-256 digest.
package batchfmt

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"

	"github.com/opal-lang/evmcl/core/action"
)

// Batch is an encoded script ready for submission.
type Batch struct {
	Organization string            `cbor:"org"`
	ChainID      uint64            `cbor:"chain,omitempty"`
	Path         []string          `cbor:"path,omitempty"`
	Context      string            `cbor:"ctx,omitempty"`
	Calls        []Call            `cbor:"calls"`
	Labels       map[string]string `cbor:"labels,omitempty"` // checksummed address -> identifier
}

// Call is the serialized form of an action.
type Call struct {
	To    [common.AddressLength]byte `cbor:"to"`
	Data  []byte                     `cbor:"data"`
	Value []byte                     `cbor:"value,omitempty"` // big-endian, empty for zero
}

// New builds a batch from actions.
func New(org string, actions []action.Action) *Batch {
	b := &Batch{Organization: org, Calls: make([]Call, len(actions))}
	for i, a := range actions {
		b.Calls[i] = Call{To: a.To(), Data: a.Data()}
		if a.HasValue() {
			b.Calls[i].Value = a.Value().Bytes()
		}
	}
	return b
}

// Actions converts the calls back into actions.
func (b *Batch) Actions() []action.Action {
	out := make([]action.Action, len(b.Calls))
	for i, c := range b.Calls {
		out[i] = action.New(common.Address(c.To), c.Data, new(big.Int).SetBytes(c.Value))
	}
	return out
}

// Label records a human-readable name for an address.
func (b *Batch) Label(addr common.Address, name string) {
	if b.Labels == nil {
		b.Labels = make(map[string]string)
	}
	b.Labels[addr.Hex()] = name
}

// LabelFor returns the recorded name for addr, if any.
func (b *Batch) LabelFor(addr common.Address) (string, bool) {
	name, ok := b.Labels[addr.Hex()]
	return name, ok
}

// SortedLabels returns label addresses in a stable order.
func (b *Batch) SortedLabels() []string {
	keys := make([]string, 0, len(b.Labels))
	for k := range b.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalBinary produces the canonical CBOR body.
func (b *Batch) MarshalBinary() ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	// Alias avoids recursing into MarshalBinary.
	type batchAlias Batch
	data, err := encMode.Marshal((*batchAlias)(b))
	if err != nil {
		return nil, fmt.Errorf("CBOR encoding failed: %w", err)
	}
	return data, nil
}

// UnmarshalBinary decodes a CBOR body.
func (b *Batch) UnmarshalBinary(data []byte) error {
	decMode, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: maxCalls,
	}.DecMode()
	if err != nil {
		return fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	type batchAlias Batch
	if err := decMode.Unmarshal(data, (*batchAlias)(b)); err != nil {
		return fmt.Errorf("CBOR decoding failed: %w", err)
	}
	return nil
}
