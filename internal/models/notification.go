package models

import (
	"fmt"
	"time"
)

// DeliveryStatus is the recorded outcome of a notification attempt.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// IdempotencyKey identifies one logical notification. Exactly one ledger row
// ever exists per key; re-attempts update that row.
type IdempotencyKey struct {
	TenantID   string
	TargetType string
	TargetID   string
	OccurredOn string // calendar date, YYYY-MM-DD
	Kind       string
}

// NotificationKeyFor builds the key for a target on a given day.
func NotificationKeyFor(tenantID, targetType, targetID, kind string, day time.Time) IdempotencyKey {
	return IdempotencyKey{
		TenantID:   tenantID,
		TargetType: targetType,
		TargetID:   targetID,
		OccurredOn: day.UTC().Format("2006-01-02"),
		Kind:       kind,
	}
}

// String renders the key for logging. Safe to log: contains identifiers only.
func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.TenantID, k.TargetType, k.TargetID, k.OccurredOn, k.Kind)
}

// LedgerEntry is one row of the notification ledger.
type LedgerEntry struct {
	Key           IdempotencyKey
	Status        DeliveryStatus
	RetryCount    int
	Channel       string
	ChannelTarget string
	ErrorDetail   string
	LastAttemptAt time.Time
}
