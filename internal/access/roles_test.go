package access_test

import (
	"testing"

	"OptionLedger/internal/access"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	admin  = common.HexToAddress("0xad")
	engine = common.HexToAddress("0xe0")
	other  = common.HexToAddress("0x01")
)

func TestGrantRevoke(t *testing.T) {
	tbl := access.NewTable(admin)

	require.ErrorIs(t, tbl.Grant(other, access.RoleOptionsEngine, engine), access.ErrMissingRole)
	require.ErrorIs(t, tbl.Grant(admin, access.RoleOptionsEngine, common.Address{}), access.ErrZeroAddress)

	require.NoError(t, tbl.Grant(admin, access.RoleOptionsEngine, engine))
	require.NoError(t, tbl.Require(access.RoleOptionsEngine, engine))
	require.ErrorIs(t, tbl.Require(access.RoleOptionsEngine, other), access.ErrMissingRole)

	require.NoError(t, tbl.Revoke(admin, access.RoleOptionsEngine, engine))
	require.False(t, tbl.Has(access.RoleOptionsEngine, engine))
}

func TestRevoke_LastAdminIsKept(t *testing.T) {
	tbl := access.NewTable(admin)
	require.ErrorIs(t, tbl.Revoke(admin, access.RoleAdmin, admin), access.ErrLastAdmin)

	require.NoError(t, tbl.Grant(admin, access.RoleAdmin, other))
	require.NoError(t, tbl.Revoke(other, access.RoleAdmin, admin))
	require.Equal(t, []common.Address{other}, tbl.Members(access.RoleAdmin))
}

func TestTransferAdmin(t *testing.T) {
	tbl := access.NewTable(admin)
	require.NoError(t, tbl.TransferAdmin(admin, engine))
	require.True(t, tbl.Has(access.RoleAdmin, engine))
	require.False(t, tbl.Has(access.RoleAdmin, admin))

	require.ErrorIs(t, tbl.TransferAdmin(admin, other), access.ErrMissingRole)
}

func TestExportRestore(t *testing.T) {
	tbl := access.NewTable(admin)
	require.NoError(t, tbl.Grant(admin, access.RoleOptionsEngine, engine))

	restored := access.Restore(tbl.Export())
	require.True(t, restored.Has(access.RoleAdmin, admin))
	require.True(t, restored.Has(access.RoleOptionsEngine, engine))
}

func TestParseRole(t *testing.T) {
	for _, r := range []access.Role{access.RoleAdmin, access.RoleOptionsEngine} {
		got, err := access.ParseRole(r.String())
		require.NoError(t, err)
		require.Equal(t, r, got)
	}
	_, err := access.ParseRole("root")
	require.ErrorIs(t, err, access.ErrUnknownRole)
}
