package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIsDeterministic(t *testing.T) {
	a, err := Derive("account-1234")
	require.NoError(t, err)

	b, err := Derive("account-1234")
	require.NoError(t, err)

	assert.Equal(t, a.PeerID, b.PeerID, "same account must map to the same peer id")
	assert.True(t, a.PrivKey.Equals(b.PrivKey))
}

func TestDeriveDistinctAccounts(t *testing.T) {
	a, err := Derive("account-1234")
	require.NoError(t, err)

	b, err := Derive("account-5678")
	require.NoError(t, err)

	assert.NotEqual(t, a.PeerID, b.PeerID)
}

func TestDeriveEmptyAccount(t *testing.T) {
	_, err := Derive("")
	assert.ErrorIs(t, err, ErrEmptyAccountID)
}

func TestStringMatchesPeerID(t *testing.T) {
	id, err := Derive("account-1234")
	require.NoError(t, err)
	assert.Equal(t, id.PeerID.String(), id.String())
	assert.NotEmpty(t, id.String())
}
