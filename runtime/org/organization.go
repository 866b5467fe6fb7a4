package org

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/core/identifier"
)

var (
	// AnyEntity matches every sender in ACL checks.
	AnyEntity = common.HexToAddress("0xFFfFfFffFFfffFFfFFfFFFFFffFFFffffFfFFFfF")
	// BurnEntity is the manager used to freeze a permission.
	BurnEntity = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

// Organization is the connected organization and everything the script
// knows about it.
type Organization struct {
	Name   string // ENS name or address as written in the script
	Kernel common.Address
	ACL    common.Address
	Apps   *AppCache
}

// ResolveEntity turns an entity reference into an address. Entities are
// hex addresses, ANY_ENTITY, BURN_ENTITY, or app identifiers.
func (o *Organization) ResolveEntity(ref string) (common.Address, error) {
	switch strings.ToUpper(ref) {
	case "ANY_ENTITY":
		return AnyEntity, nil
	case "BURN_ENTITY":
		return BurnEntity, nil
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	if strings.HasPrefix(ref, "0x") {
		return common.Address{}, fmt.Errorf("%w: %q is not a 20-byte address", identifier.ErrInvalidIdentifier, ref)
	}
	app, err := o.App(ref)
	if err != nil {
		return common.Address{}, err
	}
	return app.Address, nil
}

// App resolves an identifier against the cache. Malformed identifiers fail
// with identifier.ErrInvalidIdentifier, unknown ones with ErrUnknownApp.
func (o *Organization) App(ref string) (*App, error) {
	return o.Apps.Get(ref)
}

// AppAt returns the app deployed at addr, if it belongs to the organization.
func (o *Organization) AppAt(addr common.Address) (*App, bool) {
	app, _, ok := o.Apps.ByAddress(addr)
	return app, ok
}

// Describe returns the identifier of addr when known, else its hex form.
func (o *Organization) Describe(addr common.Address) string {
	if _, id, ok := o.Apps.ByAddress(addr); ok {
		return id
	}
	return addr.Hex()
}
