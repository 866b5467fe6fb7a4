// Package config loads evmcl settings: built-in defaults, then a YAML file,
// then EVMCL_* environment variables. Command-line flags are applied last by
// the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the home directory.
const FileName = ".evmcl.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVMCL_"

// Config holds every setting the CLI and the library entry points need.
type Config struct {
	// RPCURL is the JSON-RPC endpoint. Empty means offline.
	RPCURL string `yaml:"rpc_url"`
	// ChainID is used when no RPC endpoint is configured.
	ChainID uint64 `yaml:"chain_id"`
	// KeyEnv names the environment variable holding the signer's hex key.
	KeyEnv string `yaml:"key_env"`

	SubgraphURL string        `yaml:"subgraph_url"`
	IPFSGateway string        `yaml:"ipfs_gateway"`
	TokenList   string        `yaml:"token_list"`
	Timeout     time.Duration `yaml:"timeout"`

	// Fixtures replaces the HTTP fetcher with a YAML fixtures file.
	Fixtures string `yaml:"fixtures"`

	// ConnectModule handles the connect header.
	ConnectModule string `yaml:"connect_module"`

	Debug   bool `yaml:"debug"`
	NoColor bool `yaml:"no_color"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		ChainID:       1,
		KeyEnv:        "EVMCL_PRIVATE_KEY",
		SubgraphURL:   "https://gateway.thegraph.com/api/subgraphs/aragon-mainnet",
		IPFSGateway:   "https://ipfs.io/ipfs/",
		TokenList:     "https://tokens.uniswap.org/",
		Timeout:       30 * time.Second,
		ConnectModule: "aragonos",
	}
}

// DefaultPath returns $HOME/.evmcl.yaml, or "" when there is no home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, FileName)
}

// Load returns the defaults overlaid with the file at path and the process
// environment. A missing file at the default path is not an error; a
// missing file that was asked for is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer func() { _ = f.Close() }()
			if err := Decode(f, &cfg); err != nil {
				return Config{}, fmt.Errorf("config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML from r onto cfg. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays EVMCL_* variables read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"RPC_URL":        &cfg.RPCURL,
		"KEY_ENV":        &cfg.KeyEnv,
		"SUBGRAPH_URL":   &cfg.SubgraphURL,
		"IPFS_GATEWAY":   &cfg.IPFSGateway,
		"TOKEN_LIST":     &cfg.TokenList,
		"FIXTURES":       &cfg.Fixtures,
		"CONNECT_MODULE": &cfg.ConnectModule,
	}
	for name, field := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*field = v
		}
	}

	if v, ok := lookup(EnvPrefix + "CHAIN_ID"); ok {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sCHAIN_ID: %w", EnvPrefix, err)
		}
		cfg.ChainID = id
	}
	if v, ok := lookup(EnvPrefix + "TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Timeout = d
	}
	// Presence is enough, matching NO_COLOR.
	if v, ok := lookup(EnvPrefix + "DEBUG"); ok && v != "" && !strings.EqualFold(v, "false") && v != "0" {
		cfg.Debug = true
	}
	if v, ok := lookup("NO_COLOR"); ok && v != "" {
		cfg.NoColor = true
	}
	return nil
}

// Offline reports whether no chain endpoint is configured.
func (c Config) Offline() bool { return c.RPCURL == "" }
