package acl

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/identifier"
	"github.com/opal-lang/evmcl/runtime/org"
)

var (
	kernelAddr = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	aclAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	votingAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	agentAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a4")

	transferRole = crypto.Keccak256Hash([]byte("TRANSFER_ROLE"))
)

func testOrg(t *testing.T) *org.Organization {
	t.Helper()
	o := &org.Organization{Name: "dao.aragonid.eth", Kernel: kernelAddr, ACL: aclAddr, Apps: org.NewAppCache()}
	for id, a := range map[string]common.Address{"kernel:0": kernelAddr, "acl:0": aclAddr, "voting:0": votingAddr, "vault:0": vaultAddr, "agent:0": agentAddr} {
		p, err := identifier.Parse(id)
		require.NoError(t, err)
		require.NoError(t, o.Apps.Register(id, &org.App{Name: p.Name, Registry: identifier.DefaultRegistry, Address: a}))
	}
	return o
}

func selectorOf(a action.Action) []byte { return a.Selector() }

func TestRoleHash(t *testing.T) {
	h, err := RoleHash("TRANSFER_ROLE")
	require.NoError(t, err)
	assert.Equal(t, transferRole, h)

	again, err := RoleHash(transferRole.Hex())
	require.NoError(t, err)
	assert.Equal(t, transferRole, again, "precomputed hashes pass through")

	_, err = RoleHash("0x1234")
	assert.ErrorIs(t, err, ErrInvalidRole)
	_, err = RoleHash("")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestFirstGrantCreatesPermission(t *testing.T) {
	o := testOrg(t)
	enc := New(o)

	actions, err := enc.Grant(Permission{"agent", "vault", "TRANSFER_ROLE"}, "voting")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, aclAddr, actions[0].To())
	assert.Equal(t, createPermission.ID, selectorOf(actions[0]))

	args, err := createPermission.Unpack(actions[0].Data())
	require.NoError(t, err)
	assert.Equal(t, agentAddr, args[0])
	assert.Equal(t, vaultAddr, args[1])
	assert.Equal(t, [32]byte(transferRole), args[2])
	assert.Equal(t, votingAddr, args[3])

	vault, err := o.App("vault")
	require.NoError(t, err)
	p := vault.Permission(transferRole)
	assert.Equal(t, votingAddr, p.Manager)
	assert.True(t, p.Has(agentAddr))
}

func TestSecondGrantUsesGrantPermission(t *testing.T) {
	enc := New(testOrg(t))

	_, err := enc.Grant(Permission{"agent", "vault", "TRANSFER_ROLE"}, "voting")
	require.NoError(t, err)

	actions, err := enc.Grant(Permission{"voting", "vault", "TRANSFER_ROLE"}, "")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, grantPermission.ID, selectorOf(actions[0]))
}

func TestGrantErrors(t *testing.T) {
	enc := New(testOrg(t))

	_, err := enc.Grant(Permission{"agent", "vault", "TRANSFER_ROLE"}, "")
	assert.ErrorIs(t, err, ErrManagerRequired)

	_, err = enc.Grant(Permission{"agent", "vault", "TRANSFER_ROLE"}, "voting")
	require.NoError(t, err)
	_, err = enc.Grant(Permission{"agent", "vault", "TRANSFER_ROLE"}, "voting")
	assert.ErrorIs(t, err, ErrPermissionExists)

	_, err = enc.Grant(Permission{"agent", "finance", "TRANSFER_ROLE"}, "voting")
	assert.ErrorIs(t, err, identifier.ErrInvalidIdentifier)

	_, err = enc.Grant(Permission{"agent", "0x00000000000000000000000000000000000000ff", "TRANSFER_ROLE"}, "voting")
	assert.ErrorIs(t, err, org.ErrUnknownApp)
}

func TestGrantChecksDeclaredRoles(t *testing.T) {
	o := testOrg(t)
	vault, err := o.App("vault")
	require.NoError(t, err)
	vault.RoleNames = map[common.Hash]string{transferRole: "TRANSFER_ROLE"}

	_, err = New(o).Grant(Permission{"agent", "vault", "TRANSFR_ROLE"}, "voting")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestGrantThenRevokeWithManagerRemoval(t *testing.T) {
	// GIVEN a fresh permission
	enc := New(testOrg(t))
	perm := Permission{"agent", "vault", "TRANSFER_ROLE"}

	// WHEN granting and immediately revoking with manager removal
	granted, err := enc.Grant(perm, "voting")
	require.NoError(t, err)
	revoked, err := enc.Revoke(perm, true)
	require.NoError(t, err)

	// THEN create, revoke and remove-manager actions come out in that order
	all := append(granted, revoked...)
	require.Len(t, all, 3)
	assert.Equal(t, createPermission.ID, selectorOf(all[0]))
	assert.Equal(t, revokePermission.ID, selectorOf(all[1]))
	assert.Equal(t, removePermissionManager.ID, selectorOf(all[2]))

	args, err := removePermissionManager.Unpack(all[2].Data())
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, args[0])
	assert.Equal(t, [32]byte(transferRole), args[1])
}

func TestRevokeWithoutGrantFails(t *testing.T) {
	enc := New(testOrg(t))
	_, err := enc.Revoke(Permission{"agent", "vault", "TRANSFER_ROLE"}, false)
	assert.ErrorIs(t, err, ErrPermissionNotFound)

	_, err = enc.Revoke(Permission{"agent", "vault", "TRANSFER_ROLE"}, true)
	assert.ErrorIs(t, err, ErrPermissionNotFound, "manager removal does not bypass the grant check")
}

func TestRevokeKeepsManagerWhenNotRequested(t *testing.T) {
	o := testOrg(t)
	enc := New(o)
	perm := Permission{"agent", "vault", "TRANSFER_ROLE"}

	_, err := enc.Grant(perm, "voting")
	require.NoError(t, err)
	actions, err := enc.Revoke(perm, false)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	vault, _ := o.App("vault")
	p := vault.Permission(transferRole)
	require.NotNil(t, p)
	assert.Equal(t, votingAddr, p.Manager)
	assert.False(t, p.Has(agentAddr))

	// A later grant reuses the existing manager.
	again, err := enc.Grant(perm, "")
	require.NoError(t, err)
	assert.Equal(t, grantPermission.ID, selectorOf(again[0]))
}

// Boundary: manager removal is driven by the flag alone, not by whether
// other grantees still hold the role.
func TestRemoveManagerWithRemainingGrantees(t *testing.T) {
	o := testOrg(t)
	enc := New(o)

	_, err := enc.Grant(Permission{"agent", "vault", "TRANSFER_ROLE"}, "voting")
	require.NoError(t, err)
	_, err = enc.Grant(Permission{"voting", "vault", "TRANSFER_ROLE"}, "")
	require.NoError(t, err)

	actions, err := enc.Revoke(Permission{"agent", "vault", "TRANSFER_ROLE"}, true)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, removePermissionManager.ID, selectorOf(actions[1]))

	vault, _ := o.App("vault")
	p := vault.Permission(transferRole)
	require.NotNil(t, p)
	assert.False(t, p.Exists(), "manager cleared")
	assert.True(t, p.Has(votingAddr), "other grantee keeps the role")

	// With no manager the next grant must create the permission again.
	actions, err = enc.Grant(Permission{"agent", "vault", "TRANSFER_ROLE"}, "voting")
	require.NoError(t, err)
	assert.Equal(t, createPermission.ID, selectorOf(actions[0]))
}
