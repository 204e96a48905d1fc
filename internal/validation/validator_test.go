package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNewPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		errMsg   string
	}{
		{name: "six characters", password: "abc123"},
		{name: "empty", password: "", errMsg: "cannot be empty"},
		{name: "too short", password: "abc12", errMsg: "too short"},
		{name: "too long", password: strings.Repeat("p", MaxPasswordLength+1), errMsg: "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNewPassword(tt.password)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidatePseudo(t *testing.T) {
	tests := []struct {
		name    string
		pseudo  string
		wantErr bool
	}{
		{name: "simple", pseudo: "Bob"},
		{name: "unicode", pseudo: "Épargne 💰"},
		{name: "max length", pseudo: strings.Repeat("é", MaxPseudoLength)},
		{name: "empty", pseudo: "", wantErr: true},
		{name: "whitespace only", pseudo: "   ", wantErr: true},
		{name: "too long", pseudo: strings.Repeat("a", MaxPseudoLength+1), wantErr: true},
		{name: "control character", pseudo: "Bob\n", wantErr: true},
		{name: "invalid utf8", pseudo: "\xff\xfe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePseudo(tt.pseudo)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAccountID(t *testing.T) {
	assert.NoError(t, ValidateAccountID("00112233445566778899aabbccddeeff"))
	assert.Error(t, ValidateAccountID("00112233445566778899AABBCCDDEEFF"))
	assert.Error(t, ValidateAccountID("0011"))
	assert.Error(t, ValidateAccountID(""))
}

func TestValidateSeed(t *testing.T) {
	assert.NoError(t, ValidateSeed(make([]byte, 16)))
	assert.NoError(t, ValidateSeed(make([]byte, 32)))
	assert.NoError(t, ValidateSeed(make([]byte, 64)))

	err := ValidateSeed(make([]byte, 15))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 15")
	assert.Error(t, ValidateSeed(make([]byte, 65)))
	assert.Error(t, ValidateSeed(nil))
}

func TestValidateOrigin(t *testing.T) {
	tests := []struct {
		origin  string
		wantErr bool
	}{
		{origin: "https://example.com"},
		{origin: "http://localhost:3000"},
		{origin: "https://example.com/"},
		{origin: "chrome-extension://abcdefghijklmnop"},
		{origin: "", wantErr: true},
		{origin: "example.com", wantErr: true},
		{origin: "ftp://example.com", wantErr: true},
		{origin: "https://example.com/login", wantErr: true},
		{origin: "https://example.com?x=1", wantErr: true},
		{origin: "https://user:pw@example.com", wantErr: true},
		{origin: "javascript:alert(1)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			err := ValidateOrigin(tt.origin)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAction(t *testing.T) {
	assert.NoError(t, ValidateAction("signIn"))
	assert.Error(t, ValidateAction(""))
	assert.Error(t, ValidateAction(strings.Repeat("a", MaxActionLength+1)))
}

func TestValidateEndpoint(t *testing.T) {
	assert.NoError(t, ValidateEndpoint(""))
	assert.NoError(t, ValidateEndpoint("https://rpc.example.org"))
	assert.NoError(t, ValidateEndpoint("ws://127.0.0.1:8546"))
	assert.Error(t, ValidateEndpoint("ftp://rpc.example.org"))
	assert.Error(t, ValidateEndpoint("https://"))
}
