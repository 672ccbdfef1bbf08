package service

import (
	"strings"
	"testing"
)

func TestComplianceFooter_AppliesOnce(t *testing.T) {
	f := NewComplianceFooter(fakeTokens{}, "https://x.test/u/", "https://x.test/o")

	once, err := f.Apply("Spring sale", 11, testOwner, testCampaign)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	want := "Spring sale\nOffer: https://x.test/o/1?c=11\nUnsubscribe: https://x.test/u/tok-11-7-1"
	if once != want {
		t.Fatalf("expected %q, got %q", want, once)
	}

	twice, err := f.Apply(once, 11, testOwner, testCampaign)
	if err != nil {
		t.Fatalf("second Apply returned error: %v", err)
	}
	if twice != once {
		t.Fatalf("expected footer to be idempotent, got %q", twice)
	}
}

func TestComplianceFooter_OfferLinkIsOptional(t *testing.T) {
	f := NewComplianceFooter(fakeTokens{}, "https://x.test/u", "")

	out, err := f.Apply("Hi", 1, 2, 3)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if strings.Contains(out, "Offer:") {
		t.Errorf("expected no offer link, got %q", out)
	}
	if !strings.HasSuffix(out, "Unsubscribe: https://x.test/u/tok-1-2-3") {
		t.Errorf("unexpected footer %q", out)
	}
}
