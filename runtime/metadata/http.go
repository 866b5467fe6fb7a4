package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/identifier"
)

const (
	organizationQuery = `query Organization($id: String!) {
  organization(id: $id) {
    id
    acl
    apps {
      address
      repoName
      registry
      version { semanticVersion codeAddress contentUri }
      permissions { roleHash manager grantees }
    }
  }
}`

	reposQuery = `query Repos($repoName: String!) {
  repos(where: {name: $repoName}) {
    name
    registry { name }
    versions { semanticVersion codeAddress contentUri }
  }
}`

	versionByCodeQuery = `query RepoVersionByCode($codeAddress: String!) {
  repoVersions(where: {codeAddress: $codeAddress}) {
    semanticVersion
    codeAddress
    contentUri
    repo { name registry { name } }
  }
}`
)

// HTTPConfig configures an HTTP fetcher.
type HTTPConfig struct {
	SubgraphURL string
	IPFSGateway string // e.g. "https://ipfs.io/ipfs/"
	Timeout     time.Duration
	// ResolveName turns an organization ENS name into its kernel address.
	// Without it only hex organization addresses are accepted.
	ResolveName func(ctx context.Context, name string) (common.Address, error)
}

// HTTP fetches organization and repo data from an indexing service over
// GraphQL and artifacts from an IPFS gateway. Artifacts are cached by
// content URI for the lifetime of the fetcher.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client

	mu        sync.Mutex
	artifacts map[string]*Artifact
}

// NewHTTP returns an HTTP fetcher.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IPFSGateway != "" && !strings.HasSuffix(cfg.IPFSGateway, "/") {
		cfg.IPFSGateway += "/"
	}
	return &HTTP{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		artifacts: make(map[string]*Artifact),
	}
}

type graphQLRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (h *HTTP) query(ctx context.Context, query string, vars map[string]string, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.SubgraphURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subgraph returned %s", resp.Status)
	}
	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return fmt.Errorf("subgraph: %s", gr.Errors[0].Message)
	}
	return json.Unmarshal(gr.Data, out)
}

type gqlVersion struct {
	SemanticVersion string `json:"semanticVersion"`
	CodeAddress     string `json:"codeAddress"`
	ContentURI      string `json:"contentUri"`
}

// Organization implements Fetcher.
func (h *HTTP) Organization(ctx context.Context, name string) (*Organization, error) {
	kernel, err := h.kernelAddress(ctx, name)
	if err != nil {
		return nil, resolutionError("organization "+name, err)
	}

	var data struct {
		Organization *struct {
			ACL  string `json:"acl"`
			Apps []struct {
				Address     string     `json:"address"`
				RepoName    string     `json:"repoName"`
				Registry    string     `json:"registry"`
				Version     gqlVersion `json:"version"`
				Permissions []struct {
					RoleHash string   `json:"roleHash"`
					Manager  string   `json:"manager"`
					Grantees []string `json:"grantees"`
				} `json:"permissions"`
			} `json:"apps"`
		} `json:"organization"`
	}
	vars := map[string]string{"id": strings.ToLower(kernel.Hex())}
	if err := h.query(ctx, organizationQuery, vars, &data); err != nil {
		return nil, resolutionError("organization "+name, err)
	}
	if data.Organization == nil {
		return nil, resolutionError(fmt.Sprintf("organization %s not found", name), nil)
	}

	o := &Organization{Address: kernel, ACL: common.HexToAddress(data.Organization.ACL)}
	for _, a := range data.Organization.Apps {
		registry := a.Registry
		if registry == "" {
			registry = identifier.DefaultRegistry
		}
		comp, err := h.component(ctx, a.RepoName, registry, a.Version)
		if err != nil {
			return nil, err
		}
		app := InstalledApp{Address: common.HexToAddress(a.Address), Component: comp}
		for _, p := range a.Permissions {
			perm := Permission{Role: common.HexToHash(p.RoleHash), Manager: common.HexToAddress(p.Manager)}
			for _, g := range p.Grantees {
				perm.Grantees = append(perm.Grantees, common.HexToAddress(g))
			}
			app.Permissions = append(app.Permissions, perm)
		}
		o.Apps = append(o.Apps, app)
	}
	return o, nil
}

func (h *HTTP) kernelAddress(ctx context.Context, name string) (common.Address, error) {
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	if h.cfg.ResolveName == nil {
		return common.Address{}, fmt.Errorf("cannot resolve ENS name %s without a resolver", name)
	}
	return h.cfg.ResolveName(ctx, name)
}

// Repo implements Fetcher.
func (h *HTTP) Repo(ctx context.Context, name, registry, version string) (*Component, error) {
	key := RepoENS(name, registry)

	var data struct {
		Repos []struct {
			Name     string `json:"name"`
			Registry struct {
				Name string `json:"name"`
			} `json:"registry"`
			Versions []gqlVersion `json:"versions"`
		} `json:"repos"`
	}
	if err := h.query(ctx, reposQuery, map[string]string{"repoName": name}, &data); err != nil {
		return nil, resolutionError("repo "+key, err)
	}

	for _, r := range data.Repos {
		if r.Registry.Name != registry {
			continue
		}
		versions := make([]string, len(r.Versions))
		for i, v := range r.Versions {
			versions[i] = v.SemanticVersion
		}
		chosen, err := SelectVersion(versions, version)
		if err != nil {
			return nil, resolutionError("repo "+key, err)
		}
		for _, v := range r.Versions {
			if v.SemanticVersion == chosen {
				return h.component(ctx, name, registry, v)
			}
		}
	}
	return nil, resolutionError(fmt.Sprintf("repo %s not found", key), nil)
}

// ResolveComponent implements Fetcher.
func (h *HTTP) ResolveComponent(ctx context.Context, ref string) (*Component, error) {
	if !common.IsHexAddress(ref) {
		name, registry := SplitRepoRef(ref, identifier.DefaultRegistry)
		return h.Repo(ctx, name, registry, "")
	}

	var data struct {
		RepoVersions []struct {
			gqlVersion
			Repo struct {
				Name     string `json:"name"`
				Registry struct {
					Name string `json:"name"`
				} `json:"registry"`
			} `json:"repo"`
		} `json:"repoVersions"`
	}
	vars := map[string]string{"codeAddress": strings.ToLower(ref)}
	if err := h.query(ctx, versionByCodeQuery, vars, &data); err != nil {
		return nil, resolutionError("component at "+ref, err)
	}
	if len(data.RepoVersions) == 0 {
		return nil, resolutionError("no component with code at "+ref, nil)
	}
	v := data.RepoVersions[len(data.RepoVersions)-1]
	return h.component(ctx, v.Repo.Name, v.Repo.Registry.Name, v.gqlVersion)
}

func (h *HTTP) component(ctx context.Context, name, registry string, v gqlVersion) (*Component, error) {
	art, err := h.artifact(ctx, v.ContentURI)
	if err != nil {
		return nil, resolutionError(fmt.Sprintf("artifact of %s@%s", RepoENS(name, registry), v.SemanticVersion), err)
	}
	return &Component{
		Name:        name,
		Registry:    registry,
		Version:     v.SemanticVersion,
		CodeAddress: common.HexToAddress(v.CodeAddress),
		ContentURI:  v.ContentURI,
		ABI:         art.ABI,
		Roles:       art.Roles,
	}, nil
}

// artifact downloads <gateway><cid>/artifact.json for an "ipfs:<cid>"
// content URI.
func (h *HTTP) artifact(ctx context.Context, contentURI string) (*Artifact, error) {
	h.mu.Lock()
	cached, ok := h.artifacts[contentURI]
	h.mu.Unlock()
	if ok {
		return cached, nil
	}

	cid, ok := strings.CutPrefix(contentURI, "ipfs:")
	if !ok || cid == "" {
		return nil, fmt.Errorf("unsupported content URI %q", contentURI)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.IPFSGateway+cid+"/artifact.json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
	if err != nil {
		return nil, err
	}
	art, err := ParseArtifact(data)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.artifacts[contentURI] = art
	h.mu.Unlock()
	return art, nil
}
