package service

import (
	"fmt"
	"strings"
)

type tokenGenerator interface {
	GenerateUnsubscribeToken(contactID, ownerID, campaignID int64) (string, error)
}

// ComplianceFooter appends the unsubscribe link and, when configured, the offer link.
// Each link is added only if its base URL is not already in the text, so applying the
// footer twice is a no-op.
type ComplianceFooter struct {
	tokens          tokenGenerator
	unsubscribeBase string
	offerBase       string
}

func NewComplianceFooter(tokens tokenGenerator, unsubscribeBase, offerBase string) *ComplianceFooter {
	return &ComplianceFooter{
		tokens:          tokens,
		unsubscribeBase: strings.TrimRight(unsubscribeBase, "/"),
		offerBase:       strings.TrimRight(offerBase, "/"),
	}
}

func (f *ComplianceFooter) Apply(text string, contactID, ownerID, campaignID int64) (string, error) {
	out := text

	if f.offerBase != "" && !strings.Contains(out, f.offerBase) {
		out += fmt.Sprintf("\nOffer: %s/%d?c=%d", f.offerBase, campaignID, contactID)
	}

	if f.unsubscribeBase != "" && !strings.Contains(out, f.unsubscribeBase) {
		token, err := f.tokens.GenerateUnsubscribeToken(contactID, ownerID, campaignID)
		if err != nil {
			return text, fmt.Errorf("failed to build unsubscribe link: %w", err)
		}
		out += fmt.Sprintf("\nUnsubscribe: %s/%s", f.unsubscribeBase, token)
	}

	return out, nil
}
