package main

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"os"

	"github.com/opal-lang/evmcl/internal/fixtures"
	"github.com/opal-lang/evmcl/internal/logging"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/metadata"
)

// session is the environment of one command run.
type session struct {
	env     interpreter.Env
	chainID uint64
	rpc     *chain.RPC
}

func (s *session) Close() {
	if s.rpc != nil {
		s.rpc.Close()
	}
}

func (a *app) logger() *slog.Logger {
	return logging.New(a.stderr, a.cfg.Debug)
}

// newSession wires the fetcher, token list and chain access the config
// asks for.
func (a *app) newSession(ctx context.Context) (*session, error) {
	cfg := a.cfg
	logger := a.logger()
	s := &session{
		chainID: cfg.ChainID,
		env: interpreter.Env{
			Logger: logger,
			Out:    a.stdout,
		},
	}

	if cfg.RPCURL != "" && !a.offline {
		key, err := a.signerKey()
		if err != nil {
			return nil, err
		}
		rpc, err := chain.Dial(ctx, cfg.RPCURL, key, logger)
		if err != nil {
			return nil, &CLIError{Type: "chain", Message: err.Error(), Hint: "check --rpc or EVMCL_RPC_URL"}
		}
		s.rpc = rpc
		s.env.Reader = rpc
		if key != nil {
			s.env.Signer = rpc
		}
		id, err := rpc.ChainID(ctx)
		if err != nil {
			rpc.Close()
			return nil, err
		}
		s.chainID = id.Uint64()
	}
	s.env.ChainID = s.chainID

	switch {
	case cfg.Fixtures != "":
		static, err := metadata.LoadFixturesFile(cfg.Fixtures)
		if err != nil {
			s.Close()
			return nil, &CLIError{Type: "config", Message: "invalid fixtures file", Details: err.Error()}
		}
		s.env.Fetcher, s.env.Tokens = static, static
	case a.offline || cfg.RPCURL == "":
		static, err := fixtures.Fetcher()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.env.Fetcher, s.env.Tokens = static, static
		logger.Debug("offline", "organization", fixtures.Organization)
	default:
		httpCfg := metadata.HTTPConfig{
			SubgraphURL: cfg.SubgraphURL,
			IPFSGateway: cfg.IPFSGateway,
			Timeout:     cfg.Timeout,
		}
		if s.rpc != nil {
			httpCfg.ResolveName = (&chain.ENS{Reader: s.rpc}).Resolve
		}
		s.env.Fetcher = metadata.NewHTTP(httpCfg)
		s.env.Tokens = &metadata.RemoteTokens{URL: cfg.TokenList}
	}
	return s, nil
}

// signerKey reads the private key from the configured variable, or nil.
func (a *app) signerKey() (*ecdsa.PrivateKey, error) {
	hexKey := os.Getenv(a.cfg.KeyEnv)
	if hexKey == "" {
		return nil, nil
	}
	key, err := chain.ParseKey(hexKey)
	if err != nil {
		return nil, &CLIError{Type: "config", Message: err.Error(), Hint: "set " + a.cfg.KeyEnv + " to a hex private key"}
	}
	return key, nil
}
