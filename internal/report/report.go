// Package report rolls the insight ledger up into per-tenant, per-period
// digest texts and drives their delivery.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightstack/assist-sentinel/internal/metrics"
	"github.com/insightstack/assist-sentinel/internal/models"
)

// InsightSource reads the insights a period's digest covers.
type InsightSource interface {
	InsightsTouchedBetween(ctx context.Context, tenantID string, start, end time.Time) ([]models.Insight, error)
}

// ReportStore persists generated digests and their delivery state.
type ReportStore interface {
	SaveReport(ctx context.Context, report models.Report) (models.Report, error)
	MarkReportSent(ctx context.Context, tenantID string, periodStart, sentAt time.Time) error
	MarkReportFailed(ctx context.Context, tenantID string, periodStart time.Time, detail string) error
	GetReport(ctx context.Context, tenantID string, periodStart time.Time) (models.Report, error)
}

// Deliverer sends a digest through the notification path.
type Deliverer interface {
	SendDigest(ctx context.Context, report models.Report) error
}

// Aggregator generates digest reports from the insight ledger.
type Aggregator struct {
	logger    *slog.Logger
	insights  InsightSource
	store     ReportStore
	deliverer Deliverer
}

// New constructs an Aggregator; deliverer may be nil when digests are only
// stored, not sent.
func New(logger *slog.Logger, insights InsightSource, store ReportStore, deliverer Deliverer) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		logger:    logger,
		insights:  insights,
		store:     store,
		deliverer: deliverer,
	}
}

// Generate builds and stores the digest for [periodStart, periodEnd).
// Regenerating an unsent period replaces its draft; a sent period is
// immutable and the call fails with ErrReportAlreadySent.
func (a *Aggregator) Generate(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (models.Report, error) {
	if tenantID == "" {
		return models.Report{}, fmt.Errorf("report tenant required")
	}
	if !periodEnd.After(periodStart) {
		return models.Report{}, fmt.Errorf("report period end %s not after start %s",
			periodEnd.Format("2006-01-02"), periodStart.Format("2006-01-02"))
	}

	insights, err := a.insights.InsightsTouchedBetween(ctx, tenantID, periodStart, periodEnd)
	if err != nil {
		return models.Report{}, fmt.Errorf("collect insights: %w", err)
	}

	summary := summarize(insights, periodStart, periodEnd)
	ids := make([]string, 0, len(insights))
	for _, insight := range insights {
		ids = append(ids, insight.ID)
	}

	report := models.Report{
		TenantID:    tenantID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Body:        renderDigest(tenantID, periodStart, periodEnd, summary, insights),
		Summary:     summary,
		InsightIDs:  ids,
		Status:      models.ReportDraft,
		GeneratedAt: time.Now(),
	}

	stored, err := a.store.SaveReport(ctx, report)
	if err != nil {
		return models.Report{}, err
	}
	metrics.ObserveReportGenerated()
	a.logger.Info("digest report generated",
		slog.String("tenant", tenantID),
		slog.String("period", periodStart.UTC().Format("2006-01-02")),
		slog.Int("insights", summary.Total))
	return stored, nil
}

// GenerateAndSend generates the period's digest and delivers it. The stored
// report tracks the delivery outcome; a failed send leaves the report in
// failed state for a later retry, and the notification ledger guarantees a
// retry after a recorded success does not send twice.
func (a *Aggregator) GenerateAndSend(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (models.Report, error) {
	report, err := a.Generate(ctx, tenantID, periodStart, periodEnd)
	if err != nil {
		return models.Report{}, err
	}
	if a.deliverer == nil {
		return report, nil
	}

	if err := a.deliverer.SendDigest(ctx, report); err != nil {
		if markErr := a.store.MarkReportFailed(ctx, tenantID, periodStart, err.Error()); markErr != nil {
			a.logger.Error("failed to record report delivery failure",
				slog.String("tenant", tenantID), slog.Any("error", markErr))
		}
		return report, fmt.Errorf("deliver digest: %w", err)
	}

	sentAt := time.Now()
	if err := a.store.MarkReportSent(ctx, tenantID, periodStart, sentAt); err != nil {
		return report, fmt.Errorf("mark report sent: %w", err)
	}
	return a.store.GetReport(ctx, tenantID, periodStart)
}

func summarize(insights []models.Insight, periodStart, periodEnd time.Time) models.ReportSummary {
	summary := models.ReportSummary{Total: len(insights)}
	for _, insight := range insights {
		switch insight.Severity {
		case models.SeverityCritical:
			summary.Critical++
		case models.SeverityHigh:
			summary.High++
		case models.SeverityMedium:
			summary.Medium++
		default:
			summary.Low++
		}
		if !insight.CreatedAt.Before(periodStart) && insight.CreatedAt.Before(periodEnd) {
			summary.NewInRange++
		}
	}
	return summary
}

// renderDigest produces the human-readable digest body: headline counts
// first, then insights grouped most severe first.
func renderDigest(tenantID string, periodStart, periodEnd time.Time, summary models.ReportSummary, insights []models.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assist digest for %s: %s to %s\n",
		tenantID, periodStart.UTC().Format("2006-01-02"), periodEnd.UTC().Format("2006-01-02"))

	if summary.Total == 0 {
		b.WriteString("No insights this period.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%d insights (%d new): %d critical, %d high, %d medium, %d low\n",
		summary.Total, summary.NewInRange, summary.Critical, summary.High, summary.Medium, summary.Low)

	for _, severity := range []models.Severity{
		models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow,
	} {
		section := sectionFor(insights, severity)
		if len(section) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n", strings.ToUpper(string(severity)))
		for _, insight := range section {
			fmt.Fprintf(&b, "- %s [%s]\n", insight.Title, insight.Status)
			if insight.RecommendedAction != "" {
				fmt.Fprintf(&b, "  Suggested: %s\n", insight.RecommendedAction)
			}
		}
	}
	return b.String()
}

func sectionFor(insights []models.Insight, severity models.Severity) []models.Insight {
	var out []models.Insight
	for _, insight := range insights {
		if insight.Severity == severity {
			out = append(out, insight)
		}
	}
	return out
}
