package agriauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agrivision/agriauth/permission"
)

func loginToken(t *testing.T, te *testEngine, email, pw string) *LoginResult {
	t.Helper()
	res, err := te.Login(requestCtx("203.0.113.20"), email, pw)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" {
		t.Fatalf("expected token, got %+v", res)
	}
	return res
}

func TestValidateTokenRoundTrip(t *testing.T) {
	te := newTestEngine(t)
	account := te.seedAccount(t, "alice@example.com", "correct-horse", RoleResearcher)
	res := loginToken(t, te, "alice@example.com", "correct-horse")

	claims, err := te.ValidateToken(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.AccountID != account.ID || claims.Role != RoleResearcher {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(res.ExpiresAt) {
		t.Fatalf("claims expiry %v differs from result %v", claims.ExpiresAt, res.ExpiresAt)
	}
	if want := te.clock.Now().Add(2 * time.Hour); !claims.ExpiresAt.Equal(want.Truncate(time.Second)) {
		t.Fatalf("expected 2h expiry, got %v", claims.ExpiresAt)
	}
}

func TestValidateTokenRejectsTamperedAndExpired(t *testing.T) {
	te := newTestEngine(t)
	te.seedAccount(t, "bob@example.com", "correct-horse", RoleStandard)
	res := loginToken(t, te, "bob@example.com", "correct-horse")

	tampered := []byte(res.Token)
	last := len(tampered) - 2
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"tampered":  string(tampered),
		"two parts": res.Token[:len(res.Token)/2],
	} {
		if _, err := te.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}

	te.clock.Advance(2*time.Hour + time.Minute)
	if _, err := te.ValidateToken(context.Background(), res.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricTokenInvalid]; got != 5 {
		t.Fatalf("expected 5 invalid token metrics, got %d", got)
	}
}

func TestValidateTokenRejectsUnknownRole(t *testing.T) {
	te := newTestEngine(t)

	token, _, err := te.tokens.Issue("acct-1", "overlord")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := te.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	te := newTestEngine(t)

	cases := []struct {
		role Role
		perm string
		want error
	}{
		{RoleStandard, permission.FarmWrite, nil},
		{RoleStandard, permission.AccountsManage, ErrForbidden},
		{RoleResearcher, permission.ResearchRead, nil},
		{RoleResearcher, permission.FarmWrite, ErrForbidden},
		{RoleSupplier, permission.MarketList, nil},
		{RoleAdmin, permission.AccountsManage, nil},
		{RoleAdmin, "billing:refund", ErrForbidden},
	}
	for _, tc := range cases {
		err := te.Authorize(&Claims{AccountID: "a", Role: tc.role}, tc.perm)
		if !errors.Is(err, tc.want) && !(err == nil && tc.want == nil) {
			t.Fatalf("%s/%s: expected %v, got %v", tc.role, tc.perm, tc.want, err)
		}
	}
	if err := te.Authorize(nil, permission.ProfileRead); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for nil claims, got %v", err)
	}
}
