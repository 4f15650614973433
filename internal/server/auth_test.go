package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tinyopds/tinyopds/internal/config"
)

func testCfg() config.Config {
	cfg := config.Default()
	cfg.UseHTTPAuth = true
	cfg.BanClients = true
	cfg.RememberClients = true
	cfg.WrongAttemptsCount = 3
	cfg.Pairs = []config.Credential{{User: "reader", Password: "s3cr3t"}}
	return cfg
}

func TestAuthState_WrongCredentials_Rejected(t *testing.T) {
	a := newAuthState(testCfg())
	ok, forbidden := a.check("1.2.3.4", "some-agent", basicAuthHeader("reader", "wrong"))
	if ok || forbidden {
		t.Fatalf("expected (false, false), got (%v, %v)", ok, forbidden)
	}
}

func TestAuthState_CorrectCredentials_Accepted(t *testing.T) {
	a := newAuthState(testCfg())
	ok, forbidden := a.check("1.2.3.4", "some-agent", basicAuthHeader("reader", "s3cr3t"))
	if !ok || forbidden {
		t.Fatalf("expected (true, false), got (%v, %v)", ok, forbidden)
	}
}

func TestAuthState_RemembersClientAfterSuccess(t *testing.T) {
	a := newAuthState(testCfg())
	a.check("1.2.3.4", "some-agent", basicAuthHeader("reader", "s3cr3t"))

	ok, forbidden := a.check("1.2.3.4", "some-agent", "")
	if !ok || forbidden {
		t.Fatalf("expected remembered client to be accepted without credentials, got (%v, %v)", ok, forbidden)
	}
}

func TestAuthState_BansAfterThreshold(t *testing.T) {
	a := newAuthState(testCfg())
	for i := 0; i < 3; i++ {
		ok, forbidden := a.check("9.9.9.9", "agent", basicAuthHeader("reader", "wrong"))
		if ok || forbidden {
			t.Fatalf("attempt %d: expected (false, false), got (%v, %v)", i, ok, forbidden)
		}
	}

	ok, forbidden := a.check("9.9.9.9", "agent", basicAuthHeader("reader", "s3cr3t"))
	if ok || !forbidden {
		t.Fatalf("expected banned IP to be forbidden even with correct credentials, got (%v, %v)", ok, forbidden)
	}
}

func TestAcceptsFB2Natively(t *testing.T) {
	cases := []struct {
		ua   string
		want bool
	}{
		{"FBReader/2.0", true},
		{"Moon+ Reader Pro", true},
		{"Mozilla/5.0 (iPad)", false},
		{"", false},
	}
	for _, c := range cases {
		if got := acceptsFB2Natively(c.ua); got != c.want {
			t.Errorf("acceptsFB2Natively(%q) = %v, want %v", c.ua, got, c.want)
		}
	}
}

func TestAuthMiddleware_MissingCredentials_Returns401(t *testing.T) {
	state := newAuthState(testCfg())
	mw := authMiddleware(true, state)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestAuthMiddleware_Disabled_SkipsCheck(t *testing.T) {
	mw := authMiddleware(false, newAuthState(testCfg()))
	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Fatalf("expected handler to run when auth is disabled")
	}
}

func basicAuthHeader(user, pass string) string {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}
