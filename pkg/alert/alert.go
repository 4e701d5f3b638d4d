// Package alert delivers AlertEvent notifications raised by the Scheduler's
// health sweep and by outright SyncRun failures, grounded in the original
// system's alert_service.py (which emailed operators on the same triggers;
// this system posts to Slack instead).
package alert

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
	"github.com/scrollit/logikal-sync/pkg/model"
)

// Notifier delivers one AlertEvent to whatever external channel is
// configured. Implementations must not mutate ev.
type Notifier interface {
	Notify(ctx context.Context, ev model.AlertEvent) error
}

// NoopNotifier discards every event — used when no webhook is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, model.AlertEvent) error { return nil }

// SlackNotifier posts AlertEvents to an incoming webhook. Critical and
// warning severities get an emoji prefix so a busy channel can be triaged at
// a glance; info severity is posted plain.
type SlackNotifier struct {
	WebhookURL string
	Channel    string
	Logger     *logrus.Logger
}

func NewSlackNotifier(webhookURL, channel string, logger *logrus.Logger) *SlackNotifier {
	return &SlackNotifier{WebhookURL: webhookURL, Channel: channel, Logger: logger}
}

func (s *SlackNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	prefix := ""
	switch ev.Severity {
	case model.AlertSeverityCritical:
		prefix = ":rotating_light: "
	case model.AlertSeverityWarning:
		prefix = ":warning: "
	}

	msg := &slack.WebhookMessage{
		Channel: s.Channel,
		Text:    prefix + ev.Message,
	}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return synerr.New("alert.SlackNotifier.Notify", synerr.CategoryTransport, err)
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"category": ev.Category,
			"severity": ev.Severity,
			"count":    ev.Count,
		}).Info("alert delivered")
	}
	return nil
}
