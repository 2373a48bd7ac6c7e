package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/sha1n/vaultgrep/internal/config"
)

const (
	// Realm is announced in basic auth challenges.
	Realm = "vaultgrep"

	// APIKeyHeader carries an API key. A bearer token is accepted as well.
	APIKeyHeader = "X-API-Key"
)

// publicPaths bypass authentication
var publicPaths = []string{"/health"}

func isPublicPath(path string) bool {
	return slices.Contains(publicPaths, path)
}

// NewMiddleware creates an authentication middleware for the vault HTTP
// endpoints based on settings.
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		return guard(checkBasic(settings.Basic), challengeBasic), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return guard(checkAPIKey(settings.APIKeys), nil), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// guard rejects requests to non-public paths that fail check. challenge, when
// set, adds response headers before the 401 is written.
func guard(check func(*http.Request) bool, challenge func(http.ResponseWriter)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) || check(r) {
				next.ServeHTTP(w, r)
				return
			}
			slog.Debug("Rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr)
			if challenge != nil {
				challenge(w)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func challengeBasic(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", Realm))
}

func checkBasic(settings config.BasicAuthSettings) func(*http.Request) bool {
	return func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		if !ok {
			return false
		}
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
		return userMatch && passMatch
	}
}

func checkAPIKey(apiKeys []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		key := requestAPIKey(r)
		if key == "" {
			return false
		}
		// Compare against every key so timing does not reveal which one matched.
		valid := false
		for _, k := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
				valid = true
			}
		}
		return valid
	}
}

// requestAPIKey reads the key from the API key header, falling back to an
// "Authorization: Bearer" token.
func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
