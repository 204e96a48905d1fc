package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTypeFromAction(t *testing.T) {
	tests := []struct {
		action   string
		expected RequestType
	}{
		{action: "signIn", expected: RequestTypeAuthentication},
		{action: "authentication", expected: RequestTypeAuthentication},
		{action: "eventApproval", expected: RequestTypeEventApproval},
		{action: "approveEvent", expected: RequestTypeEventApproval},
		{action: "tokenTransfer", expected: RequestTypeEventApproval},
		{action: "mint", expected: RequestTypeUnknown},
		{action: "", expected: RequestTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			assert.Equal(t, tt.expected, RequestTypeFromAction(tt.action))
		})
	}
}

func TestDecision_Valid(t *testing.T) {
	assert.True(t, DecisionAccept.Valid())
	assert.True(t, DecisionReject.Valid())
	assert.False(t, Decision("maybe").Valid())
	assert.False(t, Decision("").Valid())
}

func TestWallet_NextNonce(t *testing.T) {
	t.Run("empty wallet starts at zero", func(t *testing.T) {
		w := &Wallet{}
		assert.Equal(t, uint64(0), w.NextNonce())
	})

	t.Run("one past highest nonce", func(t *testing.T) {
		w := &Wallet{Accounts: []Account{{ID: "a", Nonce: 0}, {ID: "b", Nonce: 4}, {ID: "c", Nonce: 2}}}
		assert.Equal(t, uint64(5), w.NextNonce())
	})
}

func TestWallet_ActiveAccount(t *testing.T) {
	w := &Wallet{Accounts: []Account{{ID: "a", Pseudo: "Alice"}, {ID: "b", Pseudo: "Bob"}}}

	_, ok := w.ActiveAccount()
	assert.False(t, ok, "no account selected")

	w.ActiveAccountID = "b"
	acc, ok := w.ActiveAccount()
	require.True(t, ok)
	assert.Equal(t, "Bob", acc.Pseudo)

	w.ActiveAccountID = "missing"
	_, ok = w.ActiveAccount()
	assert.False(t, ok)
}

func TestWallet_Clone(t *testing.T) {
	vb := "vb-1"
	w := &Wallet{
		Seed:     Seed{1, 2, 3},
		Accounts: []Account{{ID: "a", LinkedVirtualBlockchainID: &vb}},
	}

	c := w.Clone()
	c.Seed[0] = 9
	c.Accounts[0].ID = "z"
	*c.Accounts[0].LinkedVirtualBlockchainID = "changed"

	assert.Equal(t, byte(1), w.Seed[0])
	assert.Equal(t, "a", w.Accounts[0].ID)
	assert.Equal(t, "vb-1", *w.Accounts[0].LinkedVirtualBlockchainID)
}

func TestSeed_JSON(t *testing.T) {
	w := Wallet{Seed: Seed{0xde, 0xad, 0xbe, 0xef}}

	raw, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"seed":"0xdeadbeef"`)

	var decoded Wallet
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, decoded.Seed.Equal(w.Seed))
}
