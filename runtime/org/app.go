// Package org models the organization a script operates on: its kernel,
// its access-control list, and the apps installed in it, including apps the
// script itself installs before they exist on-chain.
package org

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Permission is the on-chain state of one (app, role) pair.
type Permission struct {
	Manager  common.Address
	Grantees map[common.Address]struct{}
}

// Exists reports whether the permission was ever created. Created
// permissions always have a manager.
func (p *Permission) Exists() bool {
	return p != nil && p.Manager != (common.Address{})
}

// Has reports whether grantee holds the permission.
func (p *Permission) Has(grantee common.Address) bool {
	if p == nil {
		return false
	}
	_, ok := p.Grantees[grantee]
	return ok
}

// App is an installed component.
type App struct {
	Name        string // repo name without registry, e.g. "voting"
	Registry    string // registry ENS name, e.g. "aragonpm.eth"
	Address     common.Address
	CodeAddress common.Address
	ContentURI  string
	ABI         *abi.ABI
	RoleNames   map[common.Hash]string // role hash → declared name

	mu          sync.RWMutex
	permissions map[common.Hash]*Permission
}

// Permission returns a copy of the state of role on this app, or nil.
func (a *App) Permission(role common.Hash) *Permission {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.permissions[role]
	if !ok {
		return nil
	}
	cp := &Permission{Manager: p.Manager, Grantees: make(map[common.Address]struct{}, len(p.Grantees))}
	for g := range p.Grantees {
		cp.Grantees[g] = struct{}{}
	}
	return cp
}

// SetPermission replaces the state of role. A nil permission removes it.
func (a *App) SetPermission(role common.Hash, p *Permission) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p == nil {
		delete(a.permissions, role)
		return
	}
	if a.permissions == nil {
		a.permissions = make(map[common.Hash]*Permission)
	}
	if p.Grantees == nil {
		p.Grantees = make(map[common.Address]struct{})
	}
	a.permissions[role] = p
}

// Roles returns the role hashes with recorded state, sorted.
func (a *App) Roles() []common.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]common.Hash, 0, len(a.permissions))
	for h := range a.permissions {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// HasMethod reports whether the app's ABI declares a method.
func (a *App) HasMethod(name string) bool {
	if a.ABI == nil {
		return false
	}
	_, ok := a.ABI.Methods[name]
	return ok
}
