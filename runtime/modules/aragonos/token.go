package aragonos

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/evmscript"
	"github.com/opal-lang/evmcl/core/identifier"
	"github.com/opal-lang/evmcl/runtime/bindings"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/modules/std"
	"github.com/opal-lang/evmcl/runtime/org"
)

// TokenFactoryConfig names the module variable ($aragonos.tokenFactory)
// holding the MiniMe token factory used by "new token".
const TokenFactoryConfig = "tokenFactory"

// tokenAppName is the identifier name new tokens are registered under, so
// "new token ... TRUST" is reachable as token:trust.
const tokenAppName = "token"

var (
	createCloneToken = evmscript.MustParseSignature("createCloneToken(address,uint256,string,uint8,string,bool)")
	changeController = evmscript.MustParseSignature("changeController(address)")

	// MiniMe token factories by chain id.
	tokenFactories = map[uint64]common.Address{
		1:   common.HexToAddress("0xA29EF584c389c67178aE9152aC9C543f9156E2B3"),
		4:   common.HexToAddress("0xad991658443c56b3dE2D7d7f5d8C68F339aEef29"),
		100: common.HexToAddress("0xf7d36d4d46cda364edc85e5561450183469484c5"),
	}

	miniMeABI = mustABI(`[
		{"type":"function","name":"changeController","inputs":[{"name":"_newController","type":"address"}],"outputs":[]},
		{"type":"function","name":"generateTokens","inputs":[{"name":"_owner","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"destroyTokens","inputs":[{"name":"_owner","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"enableTransfers","inputs":[{"name":"_transfersEnabled","type":"bool"}],"outputs":[]},
		{"type":"function","name":"transfer","inputs":[{"name":"_to","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"approve","inputs":[{"name":"_spender","type":"address"},{"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`)
)

func mustABI(src string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("minime abi: %v", err))
	}
	return &parsed
}

// newToken deploys a MiniMe token through the factory and hands it to its
// controller. The controller is resolved when the batch is normalized, so
// it may be an app installed on a later line.
func newToken(ctx context.Context, call *interpreter.Call) ([]action.Item, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	sub, err := std.String(call.Arg(0))
	if err != nil {
		return nil, err
	}
	if sub != "token" {
		return nil, fmt.Errorf("unknown subcommand new %s: expected new token", sub)
	}

	var words [3]string
	for i := range words {
		if words[i], err = std.String(call.Arg(i + 1)); err != nil {
			return nil, err
		}
	}
	name, symbol := words[0], words[1]
	label := strings.ToLower(symbol)
	if !identifier.IsLabeledAppIdentifier(tokenAppName + ":" + label) {
		return nil, fmt.Errorf("token symbol %q cannot be used as a label", symbol)
	}
	controller := call.Arg(3)

	decimals := uint64(18)
	if len(call.Args) > 4 {
		s, err := std.String(call.Arg(4))
		if err != nil {
			return nil, err
		}
		if decimals, err = strconv.ParseUint(s, 10, 8); err != nil {
			return nil, fmt.Errorf("decimals must be 0-255, got %q", s)
		}
	}
	transferable := true
	if len(call.Args) > 5 {
		s, err := std.String(call.Arg(5))
		if err != nil {
			return nil, err
		}
		if transferable, err = strconv.ParseBool(s); err != nil {
			return nil, fmt.Errorf("transferable must be true or false, got %q", s)
		}
	}

	factory, err := tokenFactory(ctx, call.Module)
	if err != nil {
		return nil, err
	}
	nonce, err := call.Module.IncrementNonce(ctx, factory)
	if err != nil {
		return nil, err
	}
	token := crypto.CreateAddress(factory, nonce)

	id, err := o.Apps.Install(&org.App{Name: tokenAppName, Registry: identifier.DefaultRegistry, Address: token, ABI: miniMeABI}, label)
	if err != nil {
		return nil, err
	}
	call.Module.Exec().Logger.Debug("new token", "token", id, "address", token.Hex(), "factory", factory.Hex(), "nonce", nonce)

	create, err := createCloneToken.Pack(common.Address{}, "0", name, strconv.FormatUint(decimals, 10), symbol, transferable)
	if err != nil {
		return nil, err
	}
	handOver := func(context.Context) ([]action.Action, error) {
		addr, err := resolveEntity(o, controller)
		if err != nil {
			return nil, fmt.Errorf("token %s controller: %w", id, err)
		}
		data, err := changeController.Pack(addr)
		if err != nil {
			return nil, err
		}
		return []action.Action{action.New(token, data, nil)}, nil
	}
	return []action.Item{
		action.Resolved(action.New(factory, create, nil)),
		action.Deferred(handOver),
	}, nil
}

// tokenFactory reads $<module>.tokenFactory, falling back to the factory
// deployed on the execution's chain.
func tokenFactory(ctx context.Context, m *interpreter.Module) (common.Address, error) {
	if v := m.ConfigBinding(TokenFactoryConfig); !bindings.IsUnset(v) {
		addr, err := std.Address(v)
		if err != nil {
			return common.Address{}, fmt.Errorf("$%s.%s: %w", m.ContextualName(), TokenFactoryConfig, err)
		}
		return addr, nil
	}
	chainID, err := m.Exec().ChainID(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("token factory: %w", err)
	}
	factory, ok := tokenFactories[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("no token factory known on chain %d: set $%s.%s", chainID, m.ContextualName(), TokenFactoryConfig)
	}
	return factory, nil
}
