package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// RecordAttempt writes one notification attempt under its idempotency key.
// The first attempt inserts the row; later attempts for the same key update
// it in place, bumping retry_count only when the previous attempt had not
// already succeeded. A success status is sticky: once recorded it is never
// downgraded by a later failed retry.
func (s *Store) RecordAttempt(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	k := entry.Key
	if k.TenantID == "" || k.TargetType == "" || k.TargetID == "" || k.OccurredOn == "" || k.Kind == "" {
		return models.LedgerEntry{}, fmt.Errorf("ledger entry missing key fields: %s", k)
	}
	at := entry.LastAttemptAt
	if at.IsZero() {
		at = time.Now()
	}

	var stored models.LedgerEntry
	err := s.withWriteTx(ctx, "record notification attempt", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notification_ledger
				(tenant_id, target_type, target_id, occurred_on, kind,
				 status, retry_count, channel, channel_target, error_detail, last_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, target_type, target_id, occurred_on, kind)
			DO UPDATE SET
				status = CASE WHEN notification_ledger.status = 'success'
					THEN notification_ledger.status ELSE excluded.status END,
				retry_count = CASE WHEN notification_ledger.status = 'success'
					THEN notification_ledger.retry_count ELSE notification_ledger.retry_count + 1 END,
				channel = excluded.channel,
				channel_target = excluded.channel_target,
				error_detail = CASE WHEN notification_ledger.status = 'success'
					THEN notification_ledger.error_detail ELSE excluded.error_detail END,
				last_attempt_at = excluded.last_attempt_at
		`, k.TenantID, k.TargetType, k.TargetID, k.OccurredOn, k.Kind,
			string(entry.Status), entry.Channel, entry.ChannelTarget, entry.ErrorDetail, toNanos(at))
		if err != nil {
			return err
		}
		stored, err = scanLedgerEntry(tx.QueryRowContext(ctx, selectLedger+ledgerKeyWhere,
			k.TenantID, k.TargetType, k.TargetID, k.OccurredOn, k.Kind))
		return err
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return stored, nil
}

// HasSucceeded reports whether a successful delivery is already recorded for
// the key. Callers use it to short-circuit duplicate sends.
func (s *Store) HasSucceeded(ctx context.Context, k models.IdempotencyKey) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM notification_ledger`+ledgerKeyWhere,
		k.TenantID, k.TargetType, k.TargetID, k.OccurredOn, k.Kind).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return models.DeliveryStatus(status) == models.DeliverySuccess, nil
}

// GetLedgerEntry fetches the ledger row for a key or ErrNotFound.
func (s *Store) GetLedgerEntry(ctx context.Context, k models.IdempotencyKey) (models.LedgerEntry, error) {
	entry, err := scanLedgerEntry(s.db.QueryRowContext(ctx, selectLedger+ledgerKeyWhere,
		k.TenantID, k.TargetType, k.TargetID, k.OccurredOn, k.Kind))
	if err == sql.ErrNoRows {
		return models.LedgerEntry{}, utils.ErrNotFound
	}
	return entry, err
}

const selectLedger = `
	SELECT tenant_id, target_type, target_id, occurred_on, kind,
	       status, retry_count, channel, channel_target, error_detail, last_attempt_at
	FROM notification_ledger`

const ledgerKeyWhere = `
	WHERE tenant_id = ? AND target_type = ? AND target_id = ? AND occurred_on = ? AND kind = ?`

func scanLedgerEntry(row rowScanner) (models.LedgerEntry, error) {
	var (
		entry     models.LedgerEntry
		status    string
		attemptAt int64
	)
	err := row.Scan(&entry.Key.TenantID, &entry.Key.TargetType, &entry.Key.TargetID,
		&entry.Key.OccurredOn, &entry.Key.Kind, &status, &entry.RetryCount,
		&entry.Channel, &entry.ChannelTarget, &entry.ErrorDetail, &attemptAt)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	entry.Status = models.DeliveryStatus(status)
	entry.LastAttemptAt = fromNanos(attemptAt)
	return entry, nil
}
