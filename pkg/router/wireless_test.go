package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssociationOpen(t *testing.T) {
	tbl := NewAssociationTable()
	resp := tbl.HandleOpen("AA:AA:AA:AA:AA:AA")
	assert.Equal(t, AuthAssociated, resp.Type)
	assert.True(t, resp.Success)
	assert.True(t, tbl.IsAssociated("AA:AA:AA:AA:AA:AA"))
}

func TestAssociationSAEHandshake(t *testing.T) {
	tbl := NewAssociationTable()
	commitResp, err := tbl.BeginSAE("BB:BB:BB:BB:BB:BB")
	require.NoError(t, err)
	assert.Equal(t, SAEConfirm, commitResp.Type)
	assert.NotEmpty(t, commitResp.Challenge)

	confirmResp := tbl.ConfirmSAE("BB:BB:BB:BB:BB:BB", "derived-value")
	assert.True(t, confirmResp.Success)
	assert.True(t, tbl.IsAssociated("BB:BB:BB:BB:BB:BB"))
}

func TestAssociationSAEEmptyResponseFails(t *testing.T) {
	tbl := NewAssociationTable()
	_, err := tbl.BeginSAE("CC:CC:CC:CC:CC:CC")
	require.NoError(t, err)

	confirmResp := tbl.ConfirmSAE("CC:CC:CC:CC:CC:CC", "")
	assert.False(t, confirmResp.Success)
	assert.False(t, tbl.IsAssociated("CC:CC:CC:CC:CC:CC"))
}

func TestAssociationConfirmWithoutCommitFails(t *testing.T) {
	tbl := NewAssociationTable()
	confirmResp := tbl.ConfirmSAE("DD:DD:DD:DD:DD:DD", "anything")
	assert.False(t, confirmResp.Success)
}

func TestClassifyInterfaces(t *testing.T) {
	ifaces := ClassifyInterfaces([]string{"10.0.1.1", "203.0.113.1"}, []string{"10.0.2.1"})
	require.Len(t, ifaces, 3)
	assert.Equal(t, RoleWLAN, ifaces[0].Role)
	assert.Equal(t, RoleLAN, ifaces[1].Role)
	assert.Equal(t, RoleWAN, ifaces[2].Role)
}

func TestClassifyInterfacesAllowsAbsence(t *testing.T) {
	ifaces := ClassifyInterfaces([]string{"10.0.1.1"}, nil)
	require.Len(t, ifaces, 1)
	assert.Equal(t, RoleLAN, ifaces[0].Role)
}
