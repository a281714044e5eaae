package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// KeyMode selects how ledger keys are derived from a notification.
type KeyMode string

const (
	// KeyModeStrengthened keys on (type, payment id) only, so every
	// redelivery of one payment maps to the same ledger row.
	KeyModeStrengthened KeyMode = "strengthened"
	// KeyModeTimestamped appends the receipt time in milliseconds. Two
	// deliveries of the same event only collide within one millisecond.
	KeyModeTimestamped KeyMode = "timestamped"
)

// ParseKeyMode maps a config value to a KeyMode; unknown values fall back to
// the strengthened mode.
func ParseKeyMode(s string) KeyMode {
	if KeyMode(strings.ToLower(strings.TrimSpace(s))) == KeyModeTimestamped {
		return KeyModeTimestamped
	}
	return KeyModeStrengthened
}

// IdempotencyKey derives the ledger key for a notification.
func IdempotencyKey(mode KeyMode, eventType, paymentID string, receivedAt time.Time) string {
	if mode == KeyModeTimestamped {
		return fmt.Sprintf("%s_%s_%d", eventType, paymentID, receivedAt.UnixMilli())
	}
	return fmt.Sprintf("%s_%s", eventType, paymentID)
}

var paymentIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ValidPaymentID reports whether id is a provider payment id. Internally
// generated ids (uuids and the like) fail this check.
func ValidPaymentID(id string) bool {
	return paymentIDPattern.MatchString(id)
}
