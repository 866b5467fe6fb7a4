package org

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/invariant"
	"github.com/opal-lang/evmcl/runtime/metadata"
)

// AppFromComponent builds an app deployed at addr from a published
// component.
func AppFromComponent(c *metadata.Component, addr common.Address) *App {
	invariant.NotNil(c, "component")

	app := &App{
		Name:        c.Name,
		Registry:    c.Registry,
		Address:     addr,
		CodeAddress: c.CodeAddress,
		ContentURI:  c.ContentURI,
		ABI:         c.ABI,
	}
	if len(c.Roles) > 0 {
		app.RoleNames = make(map[common.Hash]string, len(c.Roles))
		for _, r := range c.Roles {
			app.RoleNames[r.Hash] = r.ID
		}
	}
	return app
}

// FromMetadata builds the script's view of an organization. Apps get
// identifiers in the order the fetcher lists them.
func FromMetadata(name string, m *metadata.Organization) (*Organization, error) {
	invariant.NotNil(m, "organization metadata")

	o := &Organization{Name: name, Kernel: m.Address, ACL: m.ACL, Apps: NewAppCache()}
	for _, installed := range m.Apps {
		app := AppFromComponent(installed.Component, installed.Address)
		for _, p := range installed.Permissions {
			perm := &Permission{Manager: p.Manager, Grantees: make(map[common.Address]struct{}, len(p.Grantees))}
			for _, g := range p.Grantees {
				perm.Grantees[g] = struct{}{}
			}
			app.SetPermission(p.Role, perm)
		}
		if _, err := o.Apps.Install(app, ""); err != nil {
			return nil, fmt.Errorf("app at %s: %w", installed.Address.Hex(), err)
		}
	}
	return o, nil
}
