package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// SaveReport stores a generated digest under (tenant, period start).
// Regenerating an unsent period overwrites the draft in place; a period whose
// digest was already delivered is immutable and returns ErrReportAlreadySent.
func (s *Store) SaveReport(ctx context.Context, report models.Report) (models.Report, error) {
	if report.TenantID == "" || report.PeriodStart.IsZero() {
		return models.Report{}, fmt.Errorf("report missing tenant or period start")
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Status == "" {
		report.Status = models.ReportDraft
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now()
	}
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return models.Report{}, fmt.Errorf("encode summary: %w", err)
	}
	insightIDs, err := json.Marshal(report.InsightIDs)
	if err != nil {
		return models.Report{}, fmt.Errorf("encode insight ids: %w", err)
	}
	periodStart := reportPeriod(report.PeriodStart)

	var stored models.Report
	err = s.withWriteTx(ctx, "save report", func(tx *sql.Tx) error {
		var existingStatus string
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM reports WHERE tenant_id = ? AND period_start = ?
		`, report.TenantID, periodStart).Scan(&existingStatus)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if models.ReportStatus(existingStatus) == models.ReportSent {
			return fmt.Errorf("%w: tenant %s period %s", utils.ErrReportAlreadySent, report.TenantID, periodStart)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reports
				(id, tenant_id, period_start, period_end, body, summary, insight_ids,
				 status, delivery_error, generated_at, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id, period_start) DO UPDATE SET
				body = excluded.body,
				summary = excluded.summary,
				insight_ids = excluded.insight_ids,
				period_end = excluded.period_end,
				status = excluded.status,
				delivery_error = excluded.delivery_error,
				generated_at = excluded.generated_at
			WHERE reports.status != 'sent'
		`, report.ID, report.TenantID, periodStart, reportPeriod(report.PeriodEnd),
			report.Body, string(summary), string(insightIDs),
			string(report.Status), report.DeliveryError,
			toNanos(report.GeneratedAt), nullableNanos(report.SentAt))
		if err != nil {
			return err
		}

		stored, err = scanReport(tx.QueryRowContext(ctx, selectReport+`
			WHERE tenant_id = ? AND period_start = ?`, report.TenantID, periodStart))
		return err
	})
	if err != nil {
		return models.Report{}, err
	}
	return stored, nil
}

// GetReport fetches the digest for a tenant period or ErrNotFound.
func (s *Store) GetReport(ctx context.Context, tenantID string, periodStart time.Time) (models.Report, error) {
	report, err := scanReport(s.db.QueryRowContext(ctx, selectReport+`
		WHERE tenant_id = ? AND period_start = ?`, tenantID, reportPeriod(periodStart)))
	if err == sql.ErrNoRows {
		return models.Report{}, utils.ErrNotFound
	}
	return report, err
}

// MarkReportSent records a successful delivery. Sending is terminal: the row
// keeps its content and only delivery fields change.
func (s *Store) MarkReportSent(ctx context.Context, tenantID string, periodStart, sentAt time.Time) error {
	return s.withWriteTx(ctx, "mark report sent", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE reports SET status = 'sent', sent_at = ?, delivery_error = ''
			WHERE tenant_id = ? AND period_start = ? AND status != 'sent'
		`, toNanos(sentAt), tenantID, reportPeriod(periodStart))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return utils.ErrNotFound
		}
		return nil
	})
}

// MarkReportFailed records a failed delivery attempt with its error detail.
// A sent report is never downgraded.
func (s *Store) MarkReportFailed(ctx context.Context, tenantID string, periodStart time.Time, detail string) error {
	return s.withWriteTx(ctx, "mark report failed", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE reports SET status = 'failed', delivery_error = ?
			WHERE tenant_id = ? AND period_start = ? AND status != 'sent'
		`, detail, tenantID, reportPeriod(periodStart))
		return err
	})
}

// reportPeriod canonicalizes a period boundary to its UTC calendar date.
func reportPeriod(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

const selectReport = `
	SELECT id, tenant_id, period_start, period_end, body, summary, insight_ids,
	       status, delivery_error, generated_at, sent_at
	FROM reports`

func scanReport(row rowScanner) (models.Report, error) {
	var (
		report                   models.Report
		periodStart, periodEnd   string
		summaryJSON, insightJSON string
		status                   string
		generatedAt              int64
		sentAt                   sql.NullInt64
	)
	err := row.Scan(&report.ID, &report.TenantID, &periodStart, &periodEnd,
		&report.Body, &summaryJSON, &insightJSON, &status,
		&report.DeliveryError, &generatedAt, &sentAt)
	if err != nil {
		return models.Report{}, err
	}
	report.PeriodStart, err = time.ParseInLocation("2006-01-02", periodStart, time.UTC)
	if err != nil {
		return models.Report{}, fmt.Errorf("decode period start: %w", err)
	}
	report.PeriodEnd, err = time.ParseInLocation("2006-01-02", periodEnd, time.UTC)
	if err != nil {
		return models.Report{}, fmt.Errorf("decode period end: %w", err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &report.Summary); err != nil {
		return models.Report{}, fmt.Errorf("decode summary: %w", err)
	}
	if insightJSON != "" && insightJSON != "[]" && insightJSON != "null" {
		if err := json.Unmarshal([]byte(insightJSON), &report.InsightIDs); err != nil {
			return models.Report{}, fmt.Errorf("decode insight ids: %w", err)
		}
	}
	report.Status = models.ReportStatus(status)
	report.GeneratedAt = fromNanos(generatedAt)
	report.SentAt = scanNullableTime(sentAt)
	return report, nil
}
