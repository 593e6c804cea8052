// Package notify is an optional Slack side channel: a read-only
// notification on REJECTED verdicts and
// permanently-failed tasks, never a precondition for correctness. A
// failed notification is logged and dropped, exactly like an audit log
// failure — the business operation it rides alongside has
// already committed by the time this runs.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/auditeng/compliance/internal/config"
)

// Notifier posts best-effort Slack messages. A nil or zero-value
// Notifier (no webhook URL) is a no-op, so callers don't need to branch on whether
// notifications are configured.
type Notifier struct {
	webhookURL string
	channel    string
	logger     *zap.Logger
}

func New(cfg config.NotifyConfig, logger *zap.Logger) *Notifier {
	return &Notifier{webhookURL: cfg.SlackWebhookURL, channel: cfg.SlackChannel, logger: logger}
}

func (n *Notifier) enabled() bool {
	return n != nil && n.webhookURL != ""
}

// NotifyRejected posts a message for a REJECTED analysis once the
// pipeline completes.
func (n *Notifier) NotifyRejected(ctx context.Context, taskID, equipmentTag string, score float64) {
	n.post(ctx, fmt.Sprintf(":x: Analysis *%s* (%s) was REJECTED — compliance score %.1f", taskID, equipmentTag, score))
}

// NotifyPermanentFailure posts a message once the job broker gives up
// on a task (attempts or age limit exhausted).
func (n *Notifier) NotifyPermanentFailure(ctx context.Context, taskID, reason string) {
	n.post(ctx, fmt.Sprintf(":warning: Task *%s* failed permanently: %s", taskID, reason))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if !n.enabled() {
		return
	}
	msg := &slack.WebhookMessage{Channel: n.channel, Text: text}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		n.logger.Warn("slack notification failed", zap.Error(err))
	}
}
