// Package auth verifies the shared token clients present to the relay.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// BearerPrefix is the Authorization scheme clients use.
const BearerPrefix = "Bearer "

// QueryParam is the fallback token carrier for dialers that cannot set
// headers.
const QueryParam = "token"

// Verifier checks presented tokens against one configured secret. An
// empty secret disables verification and admits every client.
type Verifier struct {
	token []byte
}

// NewVerifier builds a verifier for token.
func NewVerifier(token string) *Verifier {
	return &Verifier{token: []byte(token)}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.token) > 0
}

// Allow reports whether presented matches the configured secret. The
// comparison takes constant time.
func (v *Verifier) Allow(presented string) bool {
	if !v.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare(v.token, []byte(presented)) == 1
}

// AllowRequest extracts the request's token and checks it.
func (v *Verifier) AllowRequest(r *http.Request) bool {
	return v.Allow(FromRequest(r))
}

// FromRequest pulls the presented token out of a request. The
// Authorization header wins; the query parameter is the fallback.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimPrefix(h, BearerPrefix)
	}
	return r.URL.Query().Get(QueryParam)
}

// LoadToken reads a token from a secret file, trimming surrounding
// whitespace.
func LoadToken(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("token path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
