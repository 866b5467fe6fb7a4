// Package metadata resolves what a script needs to know about on-chain
// components that it cannot compute itself: the organization's installed
// apps and their permissions, the versions published in a repo, and each
// version's ABI and declared roles.
//
// Two fetchers are provided. Static serves fixtures loaded from YAML and is
// what tests and offline runs use. HTTP queries an indexing service over
// GraphQL and downloads artifacts from an IPFS gateway.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"
)

// ErrComponentResolutionFailed wraps every failure to fetch metadata.
var ErrComponentResolutionFailed = errors.New("component resolution failed")

// Role is a role declared in an app artifact.
type Role struct {
	ID   string // e.g. "TRANSFER_ROLE"
	Name string // human description
	Hash common.Hash
}

// Component is one published version of an app.
type Component struct {
	Name        string // repo name, e.g. "voting"
	Registry    string // registry ENS name
	Version     string // semver without "v"
	CodeAddress common.Address
	ContentURI  string
	ABI         *abi.ABI
	Roles       []Role
}

// Permission is an existing ACL entry of an installed app.
type Permission struct {
	Role     common.Hash
	Manager  common.Address
	Grantees []common.Address
}

// InstalledApp is an app instance of an organization.
type InstalledApp struct {
	Address     common.Address
	Component   *Component
	Permissions []Permission
}

// Organization is the on-chain state of an organization.
type Organization struct {
	Address common.Address // kernel
	ACL     common.Address
	Apps    []InstalledApp
}

// Fetcher resolves component metadata. Implementations must be safe for
// concurrent use; helpers may fetch in parallel.
type Fetcher interface {
	// Organization loads the apps and permissions of an organization given
	// its ENS name or kernel address.
	Organization(ctx context.Context, name string) (*Organization, error)
	// Repo returns the requested version of a repo; an empty version or
	// "latest" selects the highest published version.
	Repo(ctx context.Context, name, registry, version string) (*Component, error)
	// ResolveComponent returns the latest component for a repo reference
	// ("voting", "voting.open") or the component whose code lives at a hex
	// address.
	ResolveComponent(ctx context.Context, ref string) (*Component, error)
}

// resolutionError wraps err with ErrComponentResolutionFailed.
func resolutionError(what string, err error) error {
	if errors.Is(err, ErrComponentResolutionFailed) {
		return err
	}
	if err == nil {
		return fmt.Errorf("%w: %s", ErrComponentResolutionFailed, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrComponentResolutionFailed, what, err)
}

// RepoENS returns the full ENS name of a repo, e.g. "voting.aragonpm.eth".
func RepoENS(name, registry string) string {
	return name + "." + registry
}

// SplitRepoRef splits "voting" or "voting.open" into name and registry ENS.
func SplitRepoRef(ref, defaultRegistry string) (name, registry string) {
	name, short, ok := strings.Cut(ref, ".")
	if !ok {
		return ref, defaultRegistry
	}
	if strings.Count(short, ".") > 0 {
		// Already a full ENS name: "voting.open.aragonpm.eth".
		return name, short
	}
	return name, short + "." + defaultRegistry
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// IsValidVersion reports whether v is a semantic version, with or without
// the "v" prefix.
func IsValidVersion(v string) bool {
	return canonicalVersion(v) != ""
}

// SelectVersion picks want from versions, or the highest version when want
// is "" or "latest".
func SelectVersion(versions []string, want string) (string, error) {
	var valid []string
	for _, v := range versions {
		if IsValidVersion(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return "", errors.New("no published versions")
	}

	if want == "" || want == "latest" {
		sort.Slice(valid, func(i, j int) bool {
			return semver.Compare(canonicalVersion(valid[i]), canonicalVersion(valid[j])) < 0
		})
		return valid[len(valid)-1], nil
	}

	if !IsValidVersion(want) {
		return "", fmt.Errorf("invalid version %q", want)
	}
	target := canonicalVersion(want)
	for _, v := range valid {
		if canonicalVersion(v) == target {
			return v, nil
		}
	}
	return "", fmt.Errorf("version %s not published", want)
}
