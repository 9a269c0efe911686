package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agrivision/agriauth"
)

type fakeEngine struct {
	tokens map[string]*agriauth.Claims
	grants map[agriauth.Role][]string
}

func (f *fakeEngine) ValidateToken(_ context.Context, token string) (*agriauth.Claims, error) {
	claims, ok := f.tokens[token]
	if !ok {
		return nil, agriauth.ErrTokenInvalid
	}
	return claims, nil
}

func (f *fakeEngine) Authorize(claims *agriauth.Claims, perm string) error {
	for _, p := range f.grants[claims.Role] {
		if p == perm {
			return nil
		}
	}
	return agriauth.ErrForbidden
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		tokens: map[string]*agriauth.Claims{
			"user-token":  {AccountID: "u1", Role: agriauth.RoleStandard},
			"admin-token": {AccountID: "a1", Role: agriauth.RoleAdmin},
		},
		grants: map[agriauth.Role][]string{
			agriauth.RoleStandard: {"farm:read"},
			agriauth.RoleAdmin:    {"farm:read", "accounts:manage"},
		},
	}
}

func echoSubject(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(claims.AccountID))
}

func serve(h http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/farms", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	h := Guard(newFakeEngine())(http.HandlerFunc(echoSubject))

	cases := []struct {
		auth string
		code int
		body string
	}{
		{"", http.StatusUnauthorized, ""},
		{"Basic dXNlcjpwdw==", http.StatusUnauthorized, ""},
		{"Bearer ", http.StatusUnauthorized, ""},
		{"Bearer forged", http.StatusUnauthorized, ""},
		{"Bearer user-token", http.StatusOK, "u1"},
		{"bearer user-token", http.StatusOK, "u1"},
	}
	for _, tc := range cases {
		rec := serve(h, tc.auth)
		if rec.Code != tc.code {
			t.Fatalf("%q: expected %d, got %d", tc.auth, tc.code, rec.Code)
		}
		if tc.body != "" && rec.Body.String() != tc.body {
			t.Fatalf("%q: expected body %q, got %q", tc.auth, tc.body, rec.Body.String())
		}
		if tc.code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("%q: missing WWW-Authenticate", tc.auth)
		}
	}
}

func TestGuardNilValidator(t *testing.T) {
	h := Guard(nil)(http.HandlerFunc(echoSubject))
	if rec := serve(h, "Bearer user-token"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	fe := newFakeEngine()
	h := RequirePermission(fe, "accounts:manage")(http.HandlerFunc(echoSubject))

	if rec := serve(h, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := serve(h, "Bearer user-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for standard role, got %d", rec.Code)
	}
	if rec := serve(h, "Bearer admin-token"); rec.Code != http.StatusOK || rec.Body.String() != "a1" {
		t.Fatalf("expected 200 for admin, got %d %q", rec.Code, rec.Body.String())
	}

	chained := Guard(fe)(RequirePermission(fe, "farm:read")(http.HandlerFunc(echoSubject)))
	if rec := serve(chained, "Bearer user-token"); rec.Code != http.StatusOK {
		t.Fatalf("expected chained guard to pass, got %d", rec.Code)
	}
}

func TestOptional(t *testing.T) {
	h := Optional(newFakeEngine())(http.HandlerFunc(echoSubject))

	if rec := serve(h, ""); rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Fatalf("expected anonymous pass-through, got %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, "Bearer forged"); rec.Body.String() != "anonymous" {
		t.Fatalf("invalid token must stay anonymous, got %q", rec.Body.String())
	}
	if rec := serve(h, "Bearer admin-token"); rec.Body.String() != "a1" {
		t.Fatalf("expected claims attached, got %q", rec.Body.String())
	}
}

func TestClientMetadata(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = agriauth.ClientIPFromContext(r.Context())
		gotUA = r.UserAgent()
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:41234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "AgriVisionApp/3.2")
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotIP != "203.0.113.7" || gotUA != "AgriVisionApp/3.2" {
		t.Fatalf("unexpected metadata ip=%q ua=%q", gotIP, gotUA)
	}
	if rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatal("request id not echoed")
	}

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	if ip := ClientIP(req, true); ip != "10.0.0.5" {
		t.Fatalf("expected fallback to RemoteAddr, got %q", ip)
	}
	if ip := ClientIP(req, false); ip != "10.0.0.5" {
		t.Fatalf("expected RemoteAddr when proxy untrusted, got %q", ip)
	}
}
