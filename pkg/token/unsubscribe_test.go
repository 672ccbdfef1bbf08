package token

import (
	"errors"
	"testing"
)

func TestUnsubscribeToken_RoundTrip(t *testing.T) {
	svc := NewService("s3cret")

	tok, err := svc.GenerateUnsubscribeToken(42, 7, 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	contactID, claims, err := svc.Parse(tok)
	if err != nil {
		t.Fatalf("expected token to parse, got %v", err)
	}
	if contactID != 42 || claims.OwnerID != 7 || claims.CampaignID != 3 {
		t.Fatalf("unexpected claims: contact=%d %+v", contactID, claims)
	}
}

func TestUnsubscribeToken_RejectsForeignSecret(t *testing.T) {
	tok, err := NewService("one").GenerateUnsubscribeToken(1, 1, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, _, err = NewService("two").Parse(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
