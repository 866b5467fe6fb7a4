package std_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/evmscript"
	"github.com/opal-lang/evmcl/internal/fixtures"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/modules/std"
	"github.com/opal-lang/evmcl/runtime/parser"
)

var (
	me       = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
)

func run(t *testing.T, env interpreter.Env, src string) ([]action.Action, string, error) {
	t.Helper()
	var out bytes.Buffer
	env.Out = &out
	if env.Now == nil {
		env.Now = func() time.Time { return fixedNow }
	}
	tree := parser.ParseString(src)
	require.NoError(t, tree.Err())

	in := interpreter.New(interpreter.NewExecutionContext(env), interpreter.Config{})
	items, err := in.Interpret(context.Background(), tree.Program)
	if err != nil {
		return nil, out.String(), err
	}
	actions, err := action.Normalize(context.Background(), items)
	require.NoError(t, err)
	return actions, out.String(), nil
}

func TestSetAndPrint(t *testing.T) {
	// GIVEN a script that stores and prints values
	src := `
set $amount 42
set $list [1, $amount]
print "amount:" $amount $list @id(hello)
`
	// WHEN interpreting
	actions, out, err := run(t, interpreter.Env{}, src)

	// THEN nothing is encoded and the values are printed
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, "amount: 42 [1,42] 0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8\n", out)
}

func TestSetRequiresVariable(t *testing.T) {
	_, _, err := run(t, interpreter.Env{}, "set amount 42")
	assert.ErrorContains(t, err, "expected a $variable")
}

func TestExecEncodesRawCall(t *testing.T) {
	src := "exec 0x00000000000000000000000000000000000000d1 transfer(address,uint256) 0x00000000000000000000000000000000000000bb 1.5e18"

	actions, _, err := run(t, interpreter.Env{}, src)

	require.NoError(t, err)
	require.Len(t, actions, 1)
	want, err := evmscript.EncodeCall("transfer(address,uint256)", receiver, big.NewInt(1_500_000_000_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, fixtures.DAI, actions[0].To())
	assert.Equal(t, want, actions[0].Data())
	assert.False(t, actions[0].HasValue())
}

func TestExecRejectsNonAddress(t *testing.T) {
	_, _, err := run(t, interpreter.Env{}, "exec vault transfer(address,uint256) 0x01 1")
	assert.ErrorContains(t, err, `"vault" is not an address`)
}

func TestLoadWithAlias(t *testing.T) {
	_, out, err := run(t, interpreter.Env{}, "load std as s\ns:print hi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	_, _, err = run(t, interpreter.Env{}, "load nope")
	assert.ErrorIs(t, err, interpreter.ErrModuleNotFound)

	_, _, err = run(t, interpreter.Env{}, "load std with s")
	assert.ErrorContains(t, err, "expected 'as'")
}

func TestMeAndToken(t *testing.T) {
	tokens, err := fixtures.Fetcher()
	require.NoError(t, err)
	signer := &chain.DryRun{From: me, Chain: big.NewInt(1)}

	_, out, err := run(t, interpreter.Env{Signer: signer, Tokens: tokens}, "print @me @token(dai)")
	require.NoError(t, err)
	assert.Equal(t, me.Hex()+" "+fixtures.DAI.Hex()+"\n", out)

	_, _, err = run(t, interpreter.Env{}, "print @me")
	assert.ErrorIs(t, err, chain.ErrNoSigner)

	_, _, err = run(t, interpreter.Env{}, "print @token(DAI)")
	assert.ErrorIs(t, err, std.ErrNoTokenList)
}

func TestTokenListFromModuleConfig(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"tokens":[{"chainId":1,"address":"0x00000000000000000000000000000000000000cc","symbol":"ANT"}]}`)
	}))
	defer srv.Close()
	ant := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	signer := &chain.DryRun{From: me, Chain: big.NewInt(1)}
	list := strconv.Quote(srv.URL)

	t.Run("aliased module reads its own config", func(t *testing.T) {
		// GIVEN an aliased std whose token list is set through $s.tokenlist
		src := "load std as s\nset $s.tokenlist " + list + "\nprint @s:token(ant)\nprint @s:token(ANT)"

		// WHEN resolving tokens through the alias
		_, out, err := run(t, interpreter.Env{Signer: signer}, src)

		// THEN the list is downloaded once and serves both lookups
		require.NoError(t, err)
		assert.Equal(t, ant.Hex()+"\n"+ant.Hex()+"\n", out)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("other modules keep their own setting", func(t *testing.T) {
		src := "load std as s\nset $s.tokenlist " + list + "\nprint @token(ANT)"
		_, _, err := run(t, interpreter.Env{Signer: signer}, src)
		assert.ErrorIs(t, err, std.ErrNoTokenList)
	})

	t.Run("overrides the configured resolver", func(t *testing.T) {
		tokens, err := fixtures.Fetcher()
		require.NoError(t, err)
		src := "set $std.tokenlist " + list + "\nprint @token(ANT)"
		_, out, err := run(t, interpreter.Env{Signer: signer, Tokens: tokens}, src)
		require.NoError(t, err)
		assert.Equal(t, ant.Hex()+"\n", out)
	})
}

func TestSwitchChain(t *testing.T) {
	tokens, err := fixtures.Fetcher()
	require.NoError(t, err)
	tokens.AddToken(100, "DAI", receiver)

	t.Run("by name and id", func(t *testing.T) {
		// GIVEN a script resolving the same symbol before and after a switch
		src := "switch mainnet\nprint @token(DAI)\nswitch 100\nprint @token(DAI)\nswitch Gnosis\nprint @token(DAI)"

		// WHEN running offline
		_, out, err := run(t, interpreter.Env{Tokens: tokens}, src)

		// THEN lookups follow the current chain
		require.NoError(t, err)
		assert.Equal(t, fixtures.DAI.Hex()+"\n"+receiver.Hex()+"\n"+receiver.Hex()+"\n", out)
	})

	t.Run("signer stays on its chain", func(t *testing.T) {
		signer := &chain.DryRun{From: me, Chain: big.NewInt(1)}
		_, _, err := run(t, interpreter.Env{Signer: signer}, "switch 1\nswitch xdai")
		assert.ErrorIs(t, err, interpreter.ErrChainMismatch)
		assert.ErrorContains(t, err, "signer is on chain 1, not 100")
	})

	t.Run("unknown network", func(t *testing.T) {
		_, _, err := run(t, interpreter.Env{}, "switch atlantis")
		assert.ErrorContains(t, err, `unknown network "atlantis"`)
		_, _, err = run(t, interpreter.Env{}, "switch 0")
		assert.ErrorContains(t, err, "invalid chain id")
	})
}

func TestDate(t *testing.T) {
	tests := []struct {
		expr string
		want int64
	}{
		{"@date(2024-01-01)", 1704067200},
		{"@date(2024-01-01, +1mo2d)", 1706918400},
		{"@date(2024-01-01T06:00:00Z, -6h)", 1704067200},
		{"@date(now)", fixedNow.Unix()},
		{"@date(now, +1w)", fixedNow.AddDate(0, 0, 7).Unix()},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, out, err := run(t, interpreter.Env{}, "print "+tt.expr)
			require.NoError(t, err)
			assert.Equal(t, big.NewInt(tt.want).String()+"\n", out)
		})
	}

	_, _, err := run(t, interpreter.Env{}, "print @date(yesterday)")
	assert.ErrorContains(t, err, "invalid date")
	_, _, err = run(t, interpreter.Env{}, "print @date(now, 3days)")
	assert.ErrorContains(t, err, "invalid date offset")
}

type balanceReader struct{ balance *big.Int }

func (r balanceReader) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m := evmscript.MustParseSignature("balanceOf(address)")
	if !bytes.Equal(call.Data[:4], m.ID) {
		return nil, errors.New("unexpected call")
	}
	return common.LeftPadBytes(r.balance.Bytes(), 32), nil
}

func (r balanceReader) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return 0, nil
}

func TestGetCallsViewFunction(t *testing.T) {
	env := interpreter.Env{Reader: balanceReader{balance: big.NewInt(1234)}}

	_, out, err := run(t, env, "set $b @get(0x00000000000000000000000000000000000000d1, balanceOf(address):(uint256), 0x00000000000000000000000000000000000000bb)\nprint $b")
	require.NoError(t, err)
	assert.Equal(t, "1234\n", out)

	_, _, err = run(t, env, "print @get(0x00000000000000000000000000000000000000d1, balanceOf(address), @me)")
	assert.Error(t, err)

	_, _, err = run(t, interpreter.Env{}, "print @get(0x00000000000000000000000000000000000000d1, balanceOf(address):(uint256), 0x01)")
	assert.ErrorIs(t, err, chain.ErrNoReader)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0x0102", std.Format([]byte{1, 2}))
	assert.Equal(t, "[a,[1,true]]", std.Format([]any{"a", []any{big.NewInt(1), true}}))
	assert.Equal(t, "<nil>", std.Format(nil))
}
