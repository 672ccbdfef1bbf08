package provider

import (
	"strings"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
)

var acceptedStates = map[string]struct{}{
	"delivered":  {},
	"sent":       {},
	"accepted":   {},
	"enroute":    {},
	"submitted":  {},
	"dispatched": {},
}

var failedStates = map[string]struct{}{
	"failed":            {},
	"undelivered":       {},
	"undeliverable":     {},
	"rejected":          {},
	"expired":           {},
	"deleted":           {},
	"blocked":           {},
	"unknownsubscriber": {},
}

var pendingStates = map[string]struct{}{
	"queued":     {},
	"pending":    {},
	"scheduled":  {},
	"buffered":   {},
	"processing": {},
}

// MapDeliveryState folds a provider delivery state into a local status.
// ok is false when the provider still reports the message in flight and no
// transition should be attempted. Unrecognised states resolve to sent.
func MapDeliveryState(state string) (status domain.MessageStatus, ok bool) {
	key := strings.ToLower(strings.TrimSpace(state))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

	if _, hit := acceptedStates[key]; hit {
		return domain.StatusSent, true
	}
	if _, hit := failedStates[key]; hit {
		return domain.StatusFailed, true
	}
	if _, hit := pendingStates[key]; hit {
		return "", false
	}

	logger.Warnf("Unrecognised provider delivery state %q, treating as sent", state)
	return domain.StatusSent, true
}
