package evmscript

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/opal-lang/evmcl/core/action"
)

func TestParseSignature(t *testing.T) {
	m, err := ParseSignature("transfer(address to, uint amount)")
	require.NoError(t, err)
	assert.Equal(t, "transfer", m.Name)
	assert.Equal(t, "transfer(address,uint256)", m.Sig)
	assert.Equal(t, "0xa9059cbb", hexutil.Encode(m.ID))
	assert.Len(t, m.Inputs, 2)
}

func TestParseSignatureReturns(t *testing.T) {
	m, err := ParseSignature("balanceOf(address) returns (uint256)")
	require.NoError(t, err)
	assert.Equal(t, "balanceOf(address)", m.Sig)
	require.Len(t, m.Outputs, 1)
	assert.Equal(t, "uint256", m.Outputs[0].Type.String())

	m, err = ParseSignature("decimals():(uint8)")
	require.NoError(t, err)
	assert.Equal(t, "decimals()", m.Sig)
	require.Len(t, m.Outputs, 1)
}

func TestParseSignatureErrors(t *testing.T) {
	for _, sig := range []string{"", "transfer", "(address)", "f(notatype)", "f((address,uint256))", "f(address"} {
		_, err := ParseSignature(sig)
		assert.ErrorIs(t, err, ErrInvalidSignature, sig)
	}
}

func TestPackCoercesScriptValues(t *testing.T) {
	m := MustParseSignature("mint(address,uint256,bool,bytes32,address[],uint8)")
	data, err := m.Pack(
		"0x00000000000000000000000000000000000000a1",
		"100e18",
		"true",
		"0x01",
		[]any{"0x00000000000000000000000000000000000000b2"},
		"0x10",
	)
	require.NoError(t, err)

	values, err := m.Unpack(data)
	require.NoError(t, err)
	require.Len(t, values, 6)

	expected, _ := new(big.Int).SetString("100000000000000000000", 10)
	assert.Equal(t, common.HexToAddress("0xa1"), values[0])
	assert.Equal(t, 0, expected.Cmp(values[1].(*big.Int)))
	assert.Equal(t, true, values[2])
	assert.Equal(t, [32]byte{0x01}, values[3])
	assert.Equal(t, []common.Address{common.HexToAddress("0xb2")}, values[4])
	assert.Equal(t, uint8(16), values[5])
}

func TestPackRejectsBadValues(t *testing.T) {
	m := MustParseSignature("f(uint8)")
	_, err := m.Pack("256")
	assert.ErrorIs(t, err, ErrConversion)

	_, err = m.Pack("-1")
	assert.ErrorIs(t, err, ErrConversion)

	_, err = MustParseSignature("g(address)").Pack("vault")
	assert.ErrorIs(t, err, ErrConversion)

	_, err = MustParseSignature("h(uint256,uint256)").Pack("1")
	assert.Error(t, err)
}

func TestParseNumber(t *testing.T) {
	tests := map[string]string{
		"42":     "42",
		"0x2a":   "42",
		"1e3":    "1000",
		"1.5e18": "1500000000000000000",
		"-7":     "-7",
	}
	for in, want := range tests {
		n, err := ParseNumber(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, n.String(), in)
	}

	_, err := ParseNumber("1.5")
	assert.ErrorIs(t, err, ErrConversion)
	_, err = ParseNumber("ten")
	assert.ErrorIs(t, err, ErrConversion)
}

func TestEncodeCallsScriptLayout(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	script, err := EncodeCallsScript([]action.Action{action.New(to, []byte{0xca, 0xfe}, nil)})
	require.NoError(t, err)

	want := "0x00000001" + "00000000000000000000000000000000000000a1" + "00000002" + "cafe"
	assert.Equal(t, want, hexutil.Encode(script))
}

func TestEncodeCallsScriptRejectsValue(t *testing.T) {
	to := common.HexToAddress("0xa1")
	_, err := EncodeCallsScript([]action.Action{action.New(to, nil, big.NewInt(1))})
	assert.ErrorIs(t, err, ErrValueNotForwardable)
}

func TestDecodeCallsScriptMalformed(t *testing.T) {
	for _, script := range [][]byte{
		nil,
		{0x00, 0x00, 0x00, 0x02},
		append(append([]byte{}, CallsScriptID...), make([]byte, 10)...),
		append(append(append([]byte{}, CallsScriptID...), make([]byte, 20)...), 0x00, 0x00, 0x00, 0x05, 0x01),
	} {
		_, err := DecodeCallsScript(script)
		assert.ErrorIs(t, err, ErrMalformedScript)
	}
}

func TestCallsScriptRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "actions")
		actions := make([]action.Action, n)
		for i := range actions {
			addr := rapid.SliceOfN(rapid.Byte(), 20, 20).Draw(t, "to")
			data := rapid.SliceOfN(rapid.Byte(), 0, 96).Draw(t, "data")
			actions[i] = action.New(common.BytesToAddress(addr), data, nil)
		}

		script, err := EncodeCallsScript(actions)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := DecodeCallsScript(script)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(decoded) != len(actions) {
			t.Fatalf("got %d actions, want %d", len(decoded), len(actions))
		}
		for i := range actions {
			if !decoded[i].Equal(actions[i]) {
				t.Fatalf("action %d: got %s, want %s", i, decoded[i], actions[i])
			}
		}
	})
}

func TestSelectorMatchesKeccak(t *testing.T) {
	m := MustParseSignature("forward(bytes)")
	assert.Equal(t, crypto.Keccak256([]byte("forward(bytes)"))[:4], m.ID)
}
