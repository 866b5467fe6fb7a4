package evmscript

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/invariant"
)

// CallsScriptID is the executor spec id prefixed to every CallsScript.
var CallsScriptID = []byte{0x00, 0x00, 0x00, 0x01}

// ErrMalformedScript is returned when decoding a truncated or foreign script.
var ErrMalformedScript = errors.New("malformed calls script")

// ErrValueNotForwardable is returned when a batch action carries ETH value.
// The CallsScript format has no value field, so the value would be lost.
var ErrValueNotForwardable = errors.New("action value cannot be forwarded in a calls script")

// EncodeCallsScript serializes actions as
//
//	specId(4) | { to(20) | len(4, big-endian) | calldata(len) }...
//
// Actions must not carry value.
func EncodeCallsScript(actions []action.Action) ([]byte, error) {
	invariant.Precondition(len(actions) > 0, "calls script needs at least one action")

	var buf bytes.Buffer
	buf.Write(CallsScriptID)
	for i, a := range actions {
		if a.HasValue() {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.To().Hex(), ErrValueNotForwardable)
		}
		data := a.Data()
		if uint64(len(data)) > math.MaxUint32 {
			return nil, fmt.Errorf("action %d: call data of %d bytes exceeds uint32", i, len(data))
		}
		buf.Write(a.To().Bytes())
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(data)))
		buf.Write(length[:])
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// DecodeCallsScript parses a script produced by EncodeCallsScript.
func DecodeCallsScript(script []byte) ([]action.Action, error) {
	if len(script) < len(CallsScriptID) || !bytes.Equal(script[:4], CallsScriptID) {
		return nil, fmt.Errorf("%w: missing spec id", ErrMalformedScript)
	}

	var out []action.Action
	rest := script[4:]
	for len(rest) > 0 {
		if len(rest) < common.AddressLength+4 {
			return nil, fmt.Errorf("%w: truncated header at action %d", ErrMalformedScript, len(out))
		}
		to := common.BytesToAddress(rest[:common.AddressLength])
		length := binary.BigEndian.Uint32(rest[common.AddressLength : common.AddressLength+4])
		rest = rest[common.AddressLength+4:]
		if uint64(len(rest)) < uint64(length) {
			return nil, fmt.Errorf("%w: action %d declares %d bytes, %d remain", ErrMalformedScript, len(out), length, len(rest))
		}
		out = append(out, action.New(to, rest[:length], nil))
		rest = rest[length:]
	}
	return out, nil
}
