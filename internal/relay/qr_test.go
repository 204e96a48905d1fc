package relay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestURI_RoundTrip(t *testing.T) {
	data := []byte(`{"challenge":"abc"}`)
	uri := EncodeRequestURI("signIn", data)
	assert.True(t, len(uri) > len(RequestURIScheme) && uri[:len(RequestURIScheme)] == RequestURIScheme)

	action, decoded, err := ParseRequestURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "signIn", action)
	assert.Equal(t, data, decoded)

	action, decoded, err = ParseRequestURI(EncodeRequestURI("openWallet", nil))
	require.NoError(t, err)
	assert.Equal(t, "openWallet", action)
	assert.Empty(t, decoded)
}

func TestParseRequestURI_Invalid(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{name: "wrong scheme", uri: "https://example.com/?action=signIn"},
		{name: "no action", uri: RequestURIScheme + ":?data=AA"},
		{name: "bad data", uri: RequestURIScheme + ":?action=signIn&data=%%%"},
		{name: "bad base64", uri: RequestURIScheme + ":?action=signIn&data=***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseRequestURI(tt.uri)
			assert.Error(t, err)
		})
	}
}

func TestRenderQR(t *testing.T) {
	png, err := RenderQR(EncodeRequestURI("signIn", []byte("hello")), 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))
}
