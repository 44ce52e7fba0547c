package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/insightstack/assist-sentinel/internal/config"
	"github.com/insightstack/assist-sentinel/internal/metrics"
	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// Notification kinds recorded in the ledger.
const (
	kindInsightAlert = "insight_alert"
	kindDigestReport = "digest_report"
)

// Ledger is the idempotency surface the notifier records through.
type Ledger interface {
	HasSucceeded(ctx context.Context, key models.IdempotencyKey) (bool, error)
	RecordAttempt(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)
}

// Notifier delivers insight alerts and digest reports through a channel,
// rate-limited and deduplicated by the ledger. At most one successful send
// ever happens per idempotency key; retries after failures update the same
// ledger row.
type Notifier struct {
	logger  *slog.Logger
	channel Channel
	ledger  Ledger
	limiter *rate.Limiter
	cfg     config.NotifierConfig
}

// New constructs a Notifier from configuration.
func New(logger *slog.Logger, channel Channel, ledger Ledger, cfg config.NotifierConfig) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Notifier{
		logger:  logger,
		channel: channel,
		ledger:  ledger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		cfg:     cfg,
	}
}

// Dispatch satisfies the detection pipeline's sink contract. Delivery runs
// detached so the detection path never blocks on chat; failures are logged
// and left in the ledger for a later retry.
func (n *Notifier) Dispatch(insight models.Insight) {
	if !n.cfg.Enabled {
		return
	}
	window := n.cfg.DispatchWindow
	if window <= 0 {
		window = 15 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), window)
		defer cancel()
		if err := n.NotifyInsight(ctx, insight); err != nil {
			n.logger.Error("insight notification failed",
				slog.String("insight", insight.ID),
				slog.String("tenant", insight.TenantID),
				slog.Any("error", err))
		}
	}()
}

// NotifyInsight sends one insight alert. Insights below the configured
// minimum severity are dropped without a ledger row; a key whose delivery
// already succeeded is skipped.
func (n *Notifier) NotifyInsight(ctx context.Context, insight models.Insight) error {
	minSeverity := models.Severity(n.cfg.MinSeverity)
	if minSeverity == "" {
		minSeverity = models.SeverityHigh
	}
	if insight.Severity.Rank() < minSeverity.Rank() {
		n.logger.Debug("insight below notification severity",
			slog.String("insight", insight.ID),
			slog.String("severity", string(insight.Severity)))
		return nil
	}

	key := models.NotificationKeyFor(insight.TenantID, "insight", insight.ID, kindInsightAlert, time.Now())
	return n.deliver(ctx, key, n.cfg.DefaultTarget, renderInsight(insight))
}

// SendDigest delivers a generated digest report to the report channel. The
// idempotency day is the report's period start, so regenerating and resending
// the same period is a no-op once a send has succeeded.
func (n *Notifier) SendDigest(ctx context.Context, report models.Report) error {
	target := n.cfg.ReportChannel
	if target == "" {
		target = n.cfg.DefaultTarget
	}
	key := models.NotificationKeyFor(report.TenantID, "report", report.ID, kindDigestReport, report.PeriodStart)
	return n.deliver(ctx, key, target, report.Body)
}

func (n *Notifier) deliver(ctx context.Context, key models.IdempotencyKey, target, text string) error {
	done, err := n.ledger.HasSucceeded(ctx, key)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if done {
		metrics.ObserveNotification(string(models.DeliverySkipped))
		n.logger.Debug("notification already delivered", slog.String("key", key.String()))
		return nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	entry := models.LedgerEntry{
		Key:           key,
		Channel:       "webhook",
		ChannelTarget: target,
		LastAttemptAt: time.Now(),
	}

	sendErr := n.channel.Send(ctx, target, text)
	if sendErr != nil {
		entry.Status = models.DeliveryFailed
		entry.ErrorDetail = sendErr.Error()
	} else {
		entry.Status = models.DeliverySuccess
	}

	if _, err := n.ledger.RecordAttempt(ctx, entry); err != nil {
		// The ledger write failed after the send attempt; surface both.
		return fmt.Errorf("record attempt for %s: %w (send error: %v)", key, err, sendErr)
	}
	metrics.ObserveNotification(string(entry.Status))

	if sendErr != nil {
		return fmt.Errorf("%w: %s: %v", utils.ErrDeliveryFailed, key, sendErr)
	}
	n.logger.Info("notification delivered",
		slog.String("key", key.String()),
		slog.String("target", target))
	return nil
}

func renderInsight(insight models.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(insight.Severity)), insight.Title)
	if insight.Description != "" {
		b.WriteString(insight.Description)
		b.WriteString("\n")
	}
	if insight.RecommendedAction != "" {
		fmt.Fprintf(&b, "Suggested action: %s\n", insight.RecommendedAction)
	}
	fmt.Fprintf(&b, "Insight ID: %s", insight.ID)
	return b.String()
}
