package relay

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/better-wallet/extension-wallet/internal/encoding"
)

// RequestURIScheme prefixes client requests exchanged as QR codes
const RequestURIScheme = "wallet+request"

// EncodeRequestURI builds wallet+request:?action=<action>&data=<base64url>
func EncodeRequestURI(action string, data []byte) string {
	q := url.Values{}
	q.Set("action", action)
	if len(data) > 0 {
		q.Set("data", encoding.EncodeBase64URL(data))
	}
	return RequestURIScheme + ":?" + q.Encode()
}

// ParseRequestURI is the inverse of EncodeRequestURI
func ParseRequestURI(uri string) (action string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, RequestURIScheme+":")
	if !ok {
		return "", nil, fmt.Errorf("not a %s URI", RequestURIScheme)
	}
	rest = strings.TrimPrefix(rest, "?")

	q, err := url.ParseQuery(rest)
	if err != nil {
		return "", nil, fmt.Errorf("invalid request URI query: %w", err)
	}
	action = q.Get("action")
	if action == "" {
		return "", nil, fmt.Errorf("request URI has no action")
	}
	if raw := q.Get("data"); raw != "" {
		data, err = encoding.DecodeBase64URL(raw)
		if err != nil {
			return "", nil, err
		}
	}
	return action, data, nil
}

// RenderQR encodes uri as a PNG QR code of size x size pixels
func RenderQR(uri string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}
