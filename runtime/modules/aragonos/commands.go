package aragonos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/evmscript"
	"github.com/opal-lang/evmcl/core/identifier"
	"github.com/opal-lang/evmcl/runtime/acl"
	"github.com/opal-lang/evmcl/runtime/chain"
	"github.com/opal-lang/evmcl/runtime/interpreter"
	"github.com/opal-lang/evmcl/runtime/metadata"
	"github.com/opal-lang/evmcl/runtime/modules/std"
	"github.com/opal-lang/evmcl/runtime/org"
)

var (
	newAppInstance = evmscript.MustParseSignature("newAppInstance(bytes32,address,bytes,bool)")
	setApp         = evmscript.MustParseSignature("setApp(bytes32,bytes32,address)")
	execute        = evmscript.MustParseSignature("execute(address,uint256,bytes)")

	// Kernel namespace of app code addresses.
	appBasesNamespace = crypto.Keccak256Hash([]byte("base"))
)

// ErrInvalidRepoRef is returned for install and upgrade references that do
// not name a repo.
var ErrInvalidRepoRef = errors.New("invalid repo reference")

// repoRef is an install target: name[.registry][:label][@version].
type repoRef struct {
	identifier.Parts
	Version string
}

// parseRepoRef accepts the version either last ("voting:new@2.0.0") or
// before the label ("voting@2.0.0:new").
func parseRepoRef(s string) (repoRef, error) {
	id, version, hasVersion := strings.Cut(s, "@")
	if hasVersion {
		if v, label, ok := strings.Cut(version, ":"); ok {
			id, version = id+":"+label, v
		}
		if version != "latest" && !metadata.IsValidVersion(version) {
			return repoRef{}, fmt.Errorf("%w %q: bad version %q", ErrInvalidRepoRef, s, version)
		}
	}
	parts, err := identifier.Parse(id)
	if err != nil {
		return repoRef{}, fmt.Errorf("%w %q: %w", ErrInvalidRepoRef, s, err)
	}
	if parts.Index >= 0 {
		return repoRef{}, fmt.Errorf("%w %q: installs take a label, not an index", ErrInvalidRepoRef, s)
	}
	return repoRef{Parts: parts, Version: version}, nil
}

func install(ctx context.Context, call *interpreter.Call) ([]action.Item, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	ref, err := std.String(call.Arg(0))
	if err != nil {
		return nil, err
	}
	repo, err := parseRepoRef(ref)
	if err != nil {
		return nil, err
	}

	ec := call.Module.Exec()
	c, err := ec.Fetcher.Repo(ctx, repo.Name, repo.RegistryENS(), repo.Version)
	if err != nil {
		return nil, err
	}

	payload, err := initializePayload(o, c, call.Args[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}

	nonce, err := call.Module.IncrementNonce(ctx, o.Kernel)
	if err != nil {
		return nil, err
	}
	addr := crypto.CreateAddress(o.Kernel, nonce)

	id, err := o.Apps.Install(org.AppFromComponent(c, addr), repo.Label)
	if err != nil {
		return nil, err
	}
	ec.Logger.Debug("install", "app", id, "version", c.Version, "address", addr.Hex(), "nonce", nonce)

	appID := chain.Namehash(metadata.RepoENS(c.Name, c.Registry))
	data, err := newAppInstance.Pack(appID, c.CodeAddress, payload, false)
	if err != nil {
		return nil, err
	}
	return []action.Item{action.Resolved(action.New(o.Kernel, data, nil))}, nil
}

// initializePayload encodes the component's initialize call, or nothing
// when it has none and no parameters were given.
func initializePayload(o *org.Organization, c *metadata.Component, params []any) ([]byte, error) {
	var initialize *evmscript.Method
	if c.ABI != nil {
		if m, ok := c.ABI.Methods["initialize"]; ok {
			method := evmscript.MethodFromABI(m)
			initialize = &method
		}
	}
	if initialize == nil {
		if len(params) > 0 {
			return nil, fmt.Errorf("%s has no initialize function", c.Name)
		}
		return []byte{}, nil
	}
	args, err := resolveArgs(o, initialize.Inputs, params)
	if err != nil {
		return nil, err
	}
	return initialize.Pack(args...)
}

func upgrade(ctx context.Context, call *interpreter.Call) ([]action.Item, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	ref, err := std.String(call.Arg(0))
	if err != nil {
		return nil, err
	}
	parts, err := identifier.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidRepoRef, ref, err)
	}
	if parts.Index >= 0 || parts.IsLabeled() {
		return nil, fmt.Errorf("%w %q: upgrade takes a repo name, not an app", ErrInvalidRepoRef, ref)
	}
	registry := parts.RegistryENS()

	var instances []*org.App
	for _, id := range o.Apps.Identifiers() {
		app, err := o.Apps.Get(id)
		if err == nil && app.Name == parts.Name && app.Registry == registry {
			instances = append(instances, app)
		}
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %w: no %s instance in %s", identifier.ErrInvalidIdentifier, org.ErrUnknownApp, ref, o.Name)
	}

	var code common.Address
	var latest *metadata.Component
	if len(call.Args) == 2 {
		if code, err = std.Address(call.Arg(1)); err != nil {
			return nil, err
		}
	} else {
		if latest, err = call.Module.Exec().Fetcher.Repo(ctx, parts.Name, registry, ""); err != nil {
			return nil, err
		}
		code = latest.CodeAddress
	}

	for _, app := range instances {
		app.CodeAddress = code
		if latest != nil {
			app.ABI = latest.ABI
			app.ContentURI = latest.ContentURI
		}
	}

	appID := chain.Namehash(metadata.RepoENS(parts.Name, registry))
	data, err := setApp.Pack(appBasesNamespace, appID, code)
	if err != nil {
		return nil, err
	}
	return []action.Item{action.Resolved(action.New(o.Kernel, data, nil))}, nil
}

func permission(call *interpreter.Call) (acl.Permission, error) {
	var refs [3]string
	for i := range refs {
		ref, err := entityRef(call.Arg(i))
		if err != nil {
			return acl.Permission{}, err
		}
		refs[i] = ref
	}
	return acl.Permission{Grantee: refs[0], App: refs[1], Role: refs[2]}, nil
}

func grant(_ context.Context, call *interpreter.Call) ([]action.Item, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	p, err := permission(call)
	if err != nil {
		return nil, err
	}
	var manager string
	if len(call.Args) == 4 {
		if manager, err = entityRef(call.Arg(3)); err != nil {
			return nil, err
		}
	}
	actions, err := acl.New(o).Grant(p, manager)
	if err != nil {
		return nil, err
	}
	return []action.Item{action.Resolved(actions...)}, nil
}

func revoke(_ context.Context, call *interpreter.Call) ([]action.Item, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	p, err := permission(call)
	if err != nil {
		return nil, err
	}
	var removeManager bool
	if len(call.Args) == 4 {
		flag, err := std.String(call.Arg(3))
		if err != nil {
			return nil, err
		}
		switch flag {
		case "true":
			removeManager = true
		case "false":
		default:
			return nil, fmt.Errorf("removeManager must be true or false, got %q", flag)
		}
	}
	actions, err := acl.New(o).Revoke(p, removeManager)
	if err != nil {
		return nil, err
	}
	return []action.Item{action.Resolved(actions...)}, nil
}

// resolveMethod resolves a signature, or a bare method name against the ABI of
// the app at target.
func resolveMethod(o *org.Organization, target common.Address, name string) (evmscript.Method, error) {
	if strings.Contains(name, "(") {
		return evmscript.ParseSignature(name)
	}
	app, ok := o.AppAt(target)
	if !ok {
		return evmscript.Method{}, fmt.Errorf("%s is not an app of %s: use a full signature", target.Hex(), o.Name)
	}
	if app.ABI == nil {
		return evmscript.Method{}, fmt.Errorf("%s has no known ABI: use a full signature", o.Describe(target))
	}
	m, ok := app.ABI.Methods[name]
	if !ok {
		return evmscript.Method{}, fmt.Errorf("%s has no method %s", o.Describe(target), name)
	}
	return evmscript.MethodFromABI(m), nil
}

func callData(o *org.Organization, target common.Address, name any, params []any) ([]byte, error) {
	sig, err := std.String(name)
	if err != nil {
		return nil, err
	}
	m, err := resolveMethod(o, target, sig)
	if err != nil {
		return nil, err
	}
	args, err := resolveArgs(o, m.Inputs, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Sig, err)
	}
	return m.Pack(args...)
}

func exec(_ context.Context, call *interpreter.Call) ([]action.Item, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	target, err := resolveEntity(o, call.Arg(0))
	if err != nil {
		return nil, err
	}
	data, err := callData(o, target, call.Arg(1), call.Args[2:])
	if err != nil {
		return nil, err
	}
	return []action.Item{action.Resolved(action.New(target, data, nil))}, nil
}

func act(_ context.Context, call *interpreter.Call) ([]action.Item, error) {
	o, err := session(call.Module)
	if err != nil {
		return nil, err
	}
	agent, err := resolveEntity(o, call.Arg(0))
	if err != nil {
		return nil, err
	}
	target, err := resolveEntity(o, call.Arg(1))
	if err != nil {
		return nil, err
	}
	inner, err := callData(o, target, call.Arg(2), call.Args[3:])
	if err != nil {
		return nil, err
	}
	data, err := execute.Pack(target, "0", inner)
	if err != nil {
		return nil, err
	}
	return []action.Item{action.Resolved(action.New(agent, data, nil))}, nil
}
