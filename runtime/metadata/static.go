package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/opal-lang/evmcl/core/identifier"
)

// Static serves metadata from memory.
type Static struct {
	mu     sync.RWMutex
	orgs   map[string]*Organization   // ENS name or lowercase kernel hex
	repos  map[string][]*Component    // repo ENS → versions
	byCode map[common.Address]*Component
	tokens TokenList
}

// NewStatic returns an empty fetcher.
func NewStatic() *Static {
	return &Static{
		orgs:   make(map[string]*Organization),
		repos:  make(map[string][]*Component),
		byCode: make(map[common.Address]*Component),
	}
}

// AddRepo publishes a component version.
func (s *Static) AddRepo(c *Component) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := RepoENS(c.Name, c.Registry)
	s.repos[key] = append(s.repos[key], c)
	s.byCode[c.CodeAddress] = c
}

// AddOrganization registers an organization under name and its kernel
// address.
func (s *Static) AddOrganization(name string, o *Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orgs[name] = o
	s.orgs[strings.ToLower(o.Address.Hex())] = o
}

// Organization implements Fetcher.
func (s *Static) Organization(_ context.Context, name string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := name
	if common.IsHexAddress(name) {
		key = strings.ToLower(common.HexToAddress(name).Hex())
	}
	o, ok := s.orgs[key]
	if !ok {
		return nil, resolutionError(fmt.Sprintf("organization %s not found", name), nil)
	}
	return o, nil
}

// Repo implements Fetcher.
func (s *Static) Repo(_ context.Context, name, registry, version string) (*Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := RepoENS(name, registry)
	published := s.repos[key]
	versions := make([]string, len(published))
	for i, c := range published {
		versions[i] = c.Version
	}
	chosen, err := SelectVersion(versions, version)
	if err != nil {
		return nil, resolutionError("repo "+key, err)
	}
	for _, c := range published {
		if c.Version == chosen {
			return c, nil
		}
	}
	return nil, resolutionError("repo "+key, nil)
}

// ResolveComponent implements Fetcher.
func (s *Static) ResolveComponent(ctx context.Context, ref string) (*Component, error) {
	if common.IsHexAddress(ref) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if c, ok := s.byCode[common.HexToAddress(ref)]; ok {
			return c, nil
		}
		return nil, resolutionError("no component with code at "+ref, nil)
	}
	name, registry := SplitRepoRef(ref, identifier.DefaultRegistry)
	return s.Repo(ctx, name, registry, "")
}

// Fixture file layout.
type fixtures struct {
	Artifacts     map[string]yaml.Node `yaml:"artifacts"`
	Repos         []fixtureRepo        `yaml:"repos"`
	Organizations []fixtureOrg         `yaml:"organizations"`
	Tokens        []TokenInfo          `yaml:"tokens"`
}

type fixtureRepo struct {
	Name     string `yaml:"name"`
	Registry string `yaml:"registry"`
	Versions []struct {
		Version     string `yaml:"version"`
		CodeAddress string `yaml:"codeAddress"`
		ContentURI  string `yaml:"contentUri"`
		Artifact    string `yaml:"artifact"`
	} `yaml:"versions"`
}

type fixtureOrg struct {
	Name   string `yaml:"name"`
	Kernel string `yaml:"kernel"`
	ACL    string `yaml:"acl"`
	Apps   []struct {
		Repo        string `yaml:"repo"`
		Version     string `yaml:"version"`
		Address     string `yaml:"address"`
		Permissions []struct {
			Role     string   `yaml:"role"`
			Manager  string   `yaml:"manager"`
			Grantees []string `yaml:"grantees"`
		} `yaml:"permissions"`
	} `yaml:"apps"`
}

// LoadFixturesFile reads fixtures from a YAML file.
func LoadFixturesFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadFixtures(f)
}

// LoadFixtures builds a Static fetcher from YAML. Artifacts are written
// inline as YAML and validated like downloaded artifact.json files.
func LoadFixtures(r io.Reader) (*Static, error) {
	var fx fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	artifacts := make(map[string]*Artifact, len(fx.Artifacts))
	for name, node := range fx.Artifacts {
		var doc interface{}
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", name, err)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", name, err)
		}
		a, err := ParseArtifact(data)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", name, err)
		}
		artifacts[name] = a
	}

	s := NewStatic()
	for _, t := range fx.Tokens {
		addr, err := parseAddress(t.Address)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Symbol, err)
		}
		s.AddToken(t.ChainID, t.Symbol, addr)
	}
	for _, repo := range fx.Repos {
		registry := repo.Registry
		if registry == "" {
			registry = identifier.DefaultRegistry
		}
		for _, v := range repo.Versions {
			art, ok := artifacts[v.Artifact]
			if !ok {
				return nil, fmt.Errorf("repo %s@%s: unknown artifact %q", repo.Name, v.Version, v.Artifact)
			}
			if !IsValidVersion(v.Version) {
				return nil, fmt.Errorf("repo %s: invalid version %q", repo.Name, v.Version)
			}
			code, err := parseAddress(v.CodeAddress)
			if err != nil {
				return nil, fmt.Errorf("repo %s@%s: codeAddress: %w", repo.Name, v.Version, err)
			}
			s.AddRepo(&Component{
				Name:        repo.Name,
				Registry:    registry,
				Version:     v.Version,
				CodeAddress: code,
				ContentURI:  v.ContentURI,
				ABI:         art.ABI,
				Roles:       art.Roles,
			})
		}
	}

	ctx := context.Background()
	for _, fo := range fx.Organizations {
		kernel, err := parseAddress(fo.Kernel)
		if err != nil {
			return nil, fmt.Errorf("organization %s: kernel: %w", fo.Name, err)
		}
		aclAddr, err := parseAddress(fo.ACL)
		if err != nil {
			return nil, fmt.Errorf("organization %s: acl: %w", fo.Name, err)
		}
		o := &Organization{Address: kernel, ACL: aclAddr}

		for _, fa := range fo.Apps {
			name, registry := SplitRepoRef(fa.Repo, identifier.DefaultRegistry)
			comp, err := s.Repo(ctx, name, registry, fa.Version)
			if err != nil {
				return nil, fmt.Errorf("organization %s: %w", fo.Name, err)
			}
			addr, err := parseAddress(fa.Address)
			if err != nil {
				return nil, fmt.Errorf("organization %s: app %s: %w", fo.Name, fa.Repo, err)
			}
			app := InstalledApp{Address: addr, Component: comp}
			for _, fp := range fa.Permissions {
				p, err := fixturePermission(fp.Role, fp.Manager, fp.Grantees)
				if err != nil {
					return nil, fmt.Errorf("organization %s: app %s: %w", fo.Name, fa.Repo, err)
				}
				app.Permissions = append(app.Permissions, p)
			}
			o.Apps = append(o.Apps, app)
		}
		s.AddOrganization(fo.Name, o)
	}
	return s, nil
}

func fixturePermission(role, manager string, grantees []string) (Permission, error) {
	p := Permission{Role: roleHash(role)}
	m, err := parseAddress(manager)
	if err != nil {
		return Permission{}, fmt.Errorf("role %s: manager: %w", role, err)
	}
	p.Manager = m
	for _, g := range grantees {
		addr, err := parseAddress(g)
		if err != nil {
			return Permission{}, fmt.Errorf("role %s: grantee: %w", role, err)
		}
		p.Grantees = append(p.Grantees, addr)
	}
	return p, nil
}

func roleHash(role string) common.Hash {
	if b, err := hexutil.Decode(role); err == nil && len(b) == common.HashLength {
		return common.BytesToHash(b)
	}
	return crypto.Keccak256Hash([]byte(role))
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}
