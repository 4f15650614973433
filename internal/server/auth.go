package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/tinyopds/tinyopds/internal/bookid"
	"github.com/tinyopds/tinyopds/internal/config"
)

// authState holds the HTTP-side auth collections described by the
// component design: accepted credentials, remembered client fingerprints,
// and per-IP failure counters.
type authState struct {
	mu sync.Mutex

	credentials     []config.Credential
	authorizedClients map[string]bool
	bannedClients     map[string]int

	rememberClients bool
	banClients      bool
	banThreshold    int

	requests          int
	booksSent         int
	imagesSent        int
	successfulLogins  int
	wrongLogins       int
}

func newAuthState(cfg config.Config) *authState {
	return &authState{
		credentials:       cfg.Pairs,
		authorizedClients: make(map[string]bool),
		bannedClients:     make(map[string]int),
		rememberClients:   cfg.RememberClients,
		banClients:        cfg.BanClients,
		banThreshold:      cfg.WrongAttemptsCount,
	}
}

// check implements the per-request auth gate from the component design: a
// banned IP is refused outright; a remembered client is accepted without
// re-checking credentials; otherwise Basic auth credentials are matched
// against the configured pairs.
func (a *authState) check(remoteIP, userAgent, authHeader string) (ok bool, forbidden bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests++

	if a.banClients && a.bannedClients[remoteIP] >= a.banThreshold && a.banThreshold > 0 {
		return false, true
	}

	clientHash := bookid.ClientFingerprint(userAgent, remoteIP)
	if a.rememberClients && a.authorizedClients[clientHash] {
		return true, false
	}

	user, pass, hasAuth := parseBasicAuth(authHeader)
	if !hasAuth {
		return false, false
	}

	for _, cred := range a.credentials {
		if subtle.ConstantTimeCompare([]byte(cred.User), []byte(user)) == 1 &&
			subtle.ConstantTimeCompare([]byte(cred.Password), []byte(pass)) == 1 {
			if a.rememberClients {
				a.authorizedClients[clientHash] = true
			}
			a.successfulLogins++
			return true, false
		}
	}

	a.wrongLogins++
	if a.banClients {
		a.bannedClients[remoteIP]++
	}
	return false, false
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	req := &http.Request{Header: http.Header{"Authorization": {header}}}
	return req.BasicAuth()
}

// authMiddleware enforces Basic auth, per-IP banning, and the "remember
// clients" fingerprint allowlist, per the component design's per-request
// lifecycle. When enabled is false the gate is skipped entirely.
func authMiddleware(enabled bool, state *authState) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remoteIP := clientIP(r)
			ok, forbidden := state.check(remoteIP, r.UserAgent(), r.Header.Get("Authorization"))
			if forbidden {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="TinyOPDS"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller's address, stripping any port component.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// acceptsFB2Natively reports whether userAgent matches one of the reader
// clients known to accept FB2 downloads directly rather than needing an
// on-the-fly EPUB conversion.
func acceptsFB2Natively(userAgent string) bool {
	ua := strings.ToUpper(userAgent)
	return strings.Contains(ua, "FBREADER") || strings.Contains(ua, "MOON+ READER")
}
