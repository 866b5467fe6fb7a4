// Package acl encodes permission changes against an organization's
// access-control list and keeps the script's view of permissions current.
package acl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/evmscript"
	"github.com/opal-lang/evmcl/core/invariant"
	"github.com/opal-lang/evmcl/runtime/org"
)

var (
	// ErrPermissionNotFound is returned when revoking a permission the
	// grantee does not hold.
	ErrPermissionNotFound = errors.New("permission not found")
	// ErrPermissionExists is returned when granting a permission the grantee
	// already holds.
	ErrPermissionExists = errors.New("permission already granted")
	// ErrManagerRequired is returned when the first grant of a role names no
	// manager.
	ErrManagerRequired = errors.New("permission manager required")
	// ErrUnknownRole is returned when the app declares its roles and the
	// requested one is not among them.
	ErrUnknownRole = errors.New("role not declared by app")
	// ErrInvalidRole is returned for 0x-prefixed roles that are not 32 bytes.
	ErrInvalidRole = errors.New("invalid role")
)

var (
	createPermission        = evmscript.MustParseSignature("createPermission(address,address,bytes32,address)")
	grantPermission         = evmscript.MustParseSignature("grantPermission(address,address,bytes32)")
	revokePermission        = evmscript.MustParseSignature("revokePermission(address,address,bytes32)")
	removePermissionManager = evmscript.MustParseSignature("removePermissionManager(address,bytes32)")
)

// RoleHash returns the 32-byte identifier of a role. A 0x-prefixed 32-byte
// hex string is taken as already hashed; anything else is hashed with
// keccak256.
func RoleHash(role string) (common.Hash, error) {
	if strings.HasPrefix(role, "0x") || strings.HasPrefix(role, "0X") {
		b, err := hexutil.Decode(role)
		if err != nil || len(b) != common.HashLength {
			return common.Hash{}, fmt.Errorf("%w %q: expected 32-byte hex", ErrInvalidRole, role)
		}
		return common.BytesToHash(b), nil
	}
	if role == "" {
		return common.Hash{}, fmt.Errorf("%w: empty role", ErrInvalidRole)
	}
	return crypto.Keccak256Hash([]byte(role)), nil
}

// Permission names a (grantee, app, role) triple as written in a script.
type Permission struct {
	Grantee string
	App     string
	Role    string
}

func (p Permission) String() string {
	return fmt.Sprintf("%s -> %s %s", p.Grantee, p.App, p.Role)
}

// Encoder produces ACL actions for one organization.
type Encoder struct {
	org *org.Organization
}

// New returns an encoder for o.
func New(o *org.Organization) *Encoder {
	invariant.NotNil(o, "organization")
	return &Encoder{org: o}
}

type resolved struct {
	grantee common.Address
	app     *org.App
	role    common.Hash
}

func (e *Encoder) resolve(p Permission) (resolved, error) {
	grantee, err := e.org.ResolveEntity(p.Grantee)
	if err != nil {
		return resolved{}, fmt.Errorf("grantee: %w", err)
	}
	appAddr, err := e.org.ResolveEntity(p.App)
	if err != nil {
		return resolved{}, fmt.Errorf("app: %w", err)
	}
	app, ok := e.org.AppAt(appAddr)
	if !ok {
		return resolved{}, fmt.Errorf("app: %w: %s is not part of %s", org.ErrUnknownApp, appAddr.Hex(), e.org.Name)
	}
	role, err := RoleHash(p.Role)
	if err != nil {
		return resolved{}, err
	}
	return resolved{grantee: grantee, app: app, role: role}, nil
}

// Grant emits createPermission when the role has no manager yet, or
// grantPermission otherwise, and records the grantee.
func (e *Encoder) Grant(p Permission, manager string) ([]action.Action, error) {
	r, err := e.resolve(p)
	if err != nil {
		return nil, err
	}

	current := r.app.Permission(r.role)
	if current.Has(r.grantee) {
		return nil, fmt.Errorf("%w: %s", ErrPermissionExists, p)
	}

	if current.Exists() {
		data, err := grantPermission.Pack(r.grantee, r.app.Address, r.role)
		invariant.ExpectNoError(err, "pack grantPermission")

		current.Grantees[r.grantee] = struct{}{}
		r.app.SetPermission(r.role, current)
		return []action.Action{action.New(e.org.ACL, data, nil)}, nil
	}

	if len(r.app.RoleNames) > 0 {
		if _, declared := r.app.RoleNames[r.role]; !declared {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownRole, p.Role, p.App)
		}
	}
	if manager == "" {
		return nil, fmt.Errorf("%w: first grant of %s", ErrManagerRequired, p)
	}
	managerAddr, err := e.org.ResolveEntity(manager)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}

	data, err := createPermission.Pack(r.grantee, r.app.Address, r.role, managerAddr)
	invariant.ExpectNoError(err, "pack createPermission")

	next := &org.Permission{Manager: managerAddr, Grantees: map[common.Address]struct{}{r.grantee: {}}}
	if current != nil {
		// Grantees can outlive a removed manager.
		for g := range current.Grantees {
			next.Grantees[g] = struct{}{}
		}
	}
	r.app.SetPermission(r.role, next)
	return []action.Action{action.New(e.org.ACL, data, nil)}, nil
}

// Revoke emits revokePermission for a grantee that holds the role. When
// removeManager is set it also emits removePermissionManager for (app, role),
// even if other grantees keep the role.
func (e *Encoder) Revoke(p Permission, removeManager bool) ([]action.Action, error) {
	r, err := e.resolve(p)
	if err != nil {
		return nil, err
	}

	current := r.app.Permission(r.role)
	if !current.Has(r.grantee) {
		return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, p)
	}

	data, err := revokePermission.Pack(r.grantee, r.app.Address, r.role)
	invariant.ExpectNoError(err, "pack revokePermission")
	actions := []action.Action{action.New(e.org.ACL, data, nil)}
	delete(current.Grantees, r.grantee)

	if removeManager {
		data, err := removePermissionManager.Pack(r.app.Address, r.role)
		invariant.ExpectNoError(err, "pack removePermissionManager")
		actions = append(actions, action.New(e.org.ACL, data, nil))
		current.Manager = common.Address{}
	}

	if current.Manager == (common.Address{}) && len(current.Grantees) == 0 {
		r.app.SetPermission(r.role, nil)
	} else {
		r.app.SetPermission(r.role, current)
	}
	return actions, nil
}
