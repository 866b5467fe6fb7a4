package std

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/opal-lang/evmcl/core/evmscript"
	"github.com/opal-lang/evmcl/runtime/bindings"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/metadata"
)

// ErrNoTokenList is returned by @token when no token resolver is configured.
var ErrNoTokenList = errors.New("no token list configured")

// TokenListConfig names the module variable ($std.tokenlist) holding a
// token list URL for @token.
const TokenListConfig = "tokenlist"

func me(_ context.Context, call *interpreter.Call) (any, error) {
	signer := call.Module.Exec().Signer
	if signer == nil {
		return nil, chain.ErrNoSigner
	}
	return signer.Address(), nil
}

func id(_ context.Context, call *interpreter.Call) (any, error) {
	text, err := String(call.Arg(0))
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256Hash([]byte(text)), nil
}

func token(ctx context.Context, call *interpreter.Call) (any, error) {
	tokens, err := tokenResolver(call.Module)
	if err != nil {
		return nil, err
	}
	symbol, err := String(call.Arg(0))
	if err != nil {
		return nil, err
	}
	chainID, err := call.Module.Exec().ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return tokens.Token(ctx, chainID, symbol)
}

// tokenResolver returns the list set in $<module>.tokenlist, downloaded
// once per URL, or the execution's resolver.
func tokenResolver(m *interpreter.Module) (metadata.TokenResolver, error) {
	v := m.ConfigBinding(TokenListConfig)
	if bindings.IsUnset(v) {
		if m.Exec().Tokens == nil {
			return nil, ErrNoTokenList
		}
		return m.Exec().Tokens, nil
	}
	url, err := String(v)
	if err != nil {
		return nil, fmt.Errorf("$%s.%s: %w", m.ContextualName(), TokenListConfig, err)
	}
	if r, ok := m.Binding(TokenListConfig).(*metadata.RemoteTokens); ok && r.URL == url {
		return r, nil
	}
	r := &metadata.RemoteTokens{URL: url}
	m.SetBinding(TokenListConfig, r, false)
	return r, nil
}

var (
	offsetPattern = regexp.MustCompile(`^[+-](\d+(y|mo|w|d|h|m|s))+$`)
	offsetPart    = regexp.MustCompile(`(\d+)(y|mo|w|d|h|m|s)`)
)

// date returns a unix timestamp in seconds. The second argument shifts it
// by an offset such as "+1y2mo", "-3d" or "+12h30m".
func date(_ context.Context, call *interpreter.Call) (any, error) {
	value, err := String(call.Arg(0))
	if err != nil {
		return nil, err
	}

	var t time.Time
	switch value {
	case "now":
		t = call.Module.Exec().Now().UTC()
	default:
		if t, err = time.Parse(time.RFC3339, value); err != nil {
			if t, err = time.Parse(time.DateOnly, value); err != nil {
				return nil, fmt.Errorf("invalid date %q: expected yyyy-mm-dd, an RFC 3339 time or now", value)
			}
		}
	}

	if len(call.Args) == 2 {
		offset, err := String(call.Arg(1))
		if err != nil {
			return nil, err
		}
		if t, err = applyOffset(t, offset); err != nil {
			return nil, err
		}
	}
	return big.NewInt(t.Unix()), nil
}

func applyOffset(t time.Time, offset string) (time.Time, error) {
	if !offsetPattern.MatchString(offset) {
		return t, fmt.Errorf("invalid date offset %q: expected e.g. +1y2mo3d or -12h", offset)
	}
	sign := 1
	if offset[0] == '-' {
		sign = -1
	}
	for _, m := range offsetPart.FindAllStringSubmatch(offset, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return t, fmt.Errorf("invalid date offset %q: %w", offset, err)
		}
		n *= sign
		switch m[2] {
		case "y":
			t = t.AddDate(n, 0, 0)
		case "mo":
			t = t.AddDate(0, n, 0)
		case "w":
			t = t.AddDate(0, 0, 7*n)
		case "d":
			t = t.AddDate(0, 0, n)
		case "h":
			t = t.Add(time.Duration(n) * time.Hour)
		case "m":
			t = t.Add(time.Duration(n) * time.Minute)
		case "s":
			t = t.Add(time.Duration(n) * time.Second)
		}
	}
	return t, nil
}

// get calls a view function and returns its single output, or all outputs
// as an array.
func get(ctx context.Context, call *interpreter.Call) (any, error) {
	reader := call.Module.Exec().Reader
	if reader == nil {
		return nil, chain.ErrNoReader
	}
	to, err := Address(call.Arg(0))
	if err != nil {
		return nil, err
	}
	sig, err := String(call.Arg(1))
	if err != nil {
		return nil, err
	}
	m, err := evmscript.ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(m.Outputs) == 0 {
		return nil, fmt.Errorf("%s: declare the return types, e.g. %s:(uint256)", m.Sig, m.Sig)
	}
	data, err := m.Pack(call.Args[2:]...)
	if err != nil {
		return nil, err
	}
	out, err := chain.Call(ctx, reader, to, data)
	if err != nil {
		return nil, err
	}
	values, err := m.UnpackOutputs(out)
	if err != nil {
		return nil, fmt.Errorf("%s: decode result: %w", m.Sig, err)
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}
