package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokensIssueAndParse(t *testing.T) {
	tokens, err := NewTokenIssuer("s3cret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	in := Identity{Subject: "2021-0001", Role: RoleTreasurer, AccountID: "ACC-1", OrgAccountID: "ACC-ORG"}
	token, err := tokens.Issue(in, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	out, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if out != in {
		t.Fatalf("identity mismatch: got %+v want %+v", out, in)
	}

	other, _ := NewTokenIssuer("s3cret", WithIssuer("someone-else"))
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
	wrongKey, _ := NewTokenIssuer("different")
	if _, err := wrongKey.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature mismatch to fail, got %v", err)
	}
}

func TestTokensRejectExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, _ := NewTokenIssuer("s3cret", WithTokenClock(clock))
	token, err := tokens.Issue(Identity{Subject: "u", Role: RoleStudent, AccountID: "A"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := tokens.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestTokensIssueValidation(t *testing.T) {
	if _, err := NewTokenIssuer("  "); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
	tokens, _ := NewTokenIssuer("s3cret")
	if _, err := tokens.Issue(Identity{Role: RoleStudent}, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing subject to fail, got %v", err)
	}
	if _, err := tokens.Issue(Identity{Subject: "u", Role: "dean"}, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown role to fail, got %v", err)
	}
}

func TestContextGateway(t *testing.T) {
	ctx := context.Background()
	if _, err := (ContextGateway{}).Identify(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without identity, got %v", err)
	}
	want := Identity{Subject: "u", Role: RoleOffice, AccountID: "A"}
	ctx = ContextWithIdentity(ctx, want)
	got, err := (ContextGateway{}).Identify(ctx)
	if err != nil || got != want {
		t.Fatalf("Identify = %+v, %v", got, err)
	}
	ctx = ContextWithToken(ctx, "abc")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "abc" {
		t.Fatalf("TokenFromContext = %q, %v", tok, ok)
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Finance_Admin "); !ok || r != RoleFinanceAdmin {
		t.Fatalf("ParseRole = %q, %v", r, ok)
	}
	if _, ok := ParseRole("registrar"); ok {
		t.Fatalf("unknown role accepted")
	}
}
