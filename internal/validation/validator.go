package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/better-wallet/extension-wallet/pkg/types"
)

// Limits on user-supplied wallet fields
const (
	MinPasswordLength = 6
	MaxPasswordLength = 256
	MaxPseudoLength   = 64
	MaxOriginLength   = 2048
	MaxActionLength   = 64
)

// AccountIDPattern matches a 128-bit account id in lowercase hex
var AccountIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ValidateNewPassword checks a password chosen at install time.
// Unlock never validates: a wrong password must fail on decryption only.
func ValidateNewPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password too short: minimum %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password too long: maximum %d characters", MaxPasswordLength)
	}
	return nil
}

// ValidatePseudo checks an account display name
func ValidatePseudo(pseudo string) error {
	trimmed := strings.TrimSpace(pseudo)
	if trimmed == "" {
		return fmt.Errorf("pseudo cannot be empty")
	}
	if !utf8.ValidString(pseudo) {
		return fmt.Errorf("pseudo must be valid UTF-8")
	}
	if utf8.RuneCountInString(pseudo) > MaxPseudoLength {
		return fmt.Errorf("pseudo too long: maximum %d characters", MaxPseudoLength)
	}
	for _, r := range pseudo {
		if unicode.IsControl(r) {
			return fmt.Errorf("pseudo cannot contain control characters")
		}
	}
	return nil
}

// ValidateAccountID checks the shape of an account id
func ValidateAccountID(id string) error {
	if !AccountIDPattern.MatchString(id) {
		return fmt.Errorf("invalid account id: must be 32 lowercase hex characters")
	}
	return nil
}

// ValidateSeed checks an imported seed length
func ValidateSeed(seed []byte) error {
	if len(seed) < types.MinSeedLength || len(seed) > types.MaxSeedLength {
		return fmt.Errorf("seed must be between %d and %d bytes, got %d",
			types.MinSeedLength, types.MaxSeedLength, len(seed))
	}
	return nil
}

// ValidateOrigin checks the origin a content script attached to a request.
// An origin is scheme://host[:port] with no path, query or fragment.
func ValidateOrigin(origin string) error {
	if origin == "" {
		return fmt.Errorf("origin cannot be empty")
	}
	if len(origin) > MaxOriginLength {
		return fmt.Errorf("origin too long")
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "chrome-extension", "moz-extension":
	default:
		return fmt.Errorf("invalid origin scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("origin must include a host")
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("origin must not include path, query, fragment or credentials")
	}
	return nil
}

// ValidateAction checks a client request action name
func ValidateAction(action string) error {
	if action == "" {
		return fmt.Errorf("action cannot be empty")
	}
	if len(action) > MaxActionLength {
		return fmt.Errorf("action too long: maximum %d characters", MaxActionLength)
	}
	return nil
}

// ValidateEndpoint checks a node or explorer URL
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("endpoint scheme must be http, https, ws or wss")
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a host")
	}
	return nil
}
