package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownToken is returned when a symbol is not in the token list.
var ErrUnknownToken = errors.New("unknown token")

// TokenResolver maps token symbols to addresses on a chain.
type TokenResolver interface {
	Token(ctx context.Context, chainID uint64, symbol string) (common.Address, error)
}

// TokenList is a token list in the common JSON layout
// ({"tokens": [{"chainId", "address", "symbol"}]}).
type TokenList struct {
	Tokens []TokenInfo `json:"tokens" yaml:"tokens"`
}

// TokenInfo is one token list entry.
type TokenInfo struct {
	ChainID uint64 `json:"chainId" yaml:"chainId"`
	Address string `json:"address" yaml:"address"`
	Symbol  string `json:"symbol" yaml:"symbol"`
}

// Lookup finds symbol on chainID. Symbols match case-insensitively.
func (l *TokenList) Lookup(chainID uint64, symbol string) (common.Address, error) {
	for _, t := range l.Tokens {
		if t.ChainID == chainID && strings.EqualFold(t.Symbol, symbol) {
			if !common.IsHexAddress(t.Address) {
				return common.Address{}, fmt.Errorf("token %s has invalid address %q", symbol, t.Address)
			}
			return common.HexToAddress(t.Address), nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %s on chain %d", ErrUnknownToken, symbol, chainID)
}

// Token implements TokenResolver from the fixture token list.
func (s *Static) Token(_ context.Context, chainID uint64, symbol string) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Lookup(chainID, symbol)
}

// AddToken adds a token to the fixture list.
func (s *Static) AddToken(chainID uint64, symbol string, addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens.Tokens = append(s.tokens.Tokens, TokenInfo{ChainID: chainID, Address: addr.Hex(), Symbol: symbol})
}

// RemoteTokens downloads a token list once and serves lookups from it.
type RemoteTokens struct {
	URL    string
	Client *http.Client

	once sync.Once
	list TokenList
	err  error
}

// Token implements TokenResolver.
func (r *RemoteTokens) Token(ctx context.Context, chainID uint64, symbol string) (common.Address, error) {
	r.once.Do(func() { r.err = r.load(ctx) })
	if r.err != nil {
		return common.Address{}, fmt.Errorf("token list: %w", r.err)
	}
	return r.list.Lookup(chainID, symbol)
}

func (r *RemoteTokens) load(ctx context.Context) error {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", r.URL, resp.Status)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxArtifactSize)).Decode(&r.list)
}
