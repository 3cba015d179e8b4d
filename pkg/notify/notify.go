package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/config"
	"github.com/flowmedic/flowmedic/pkg/metrics"
)

// Message is one outbound alert, rendered per channel.
type Message struct {
	Title string
	Body  string
}

// Notifier delivers a message over one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Manager fans a message out to every configured channel, gated by the
// per-workflow rate limiter. Channel failures are independent: one channel
// erroring never blocks the others.
type Manager struct {
	notifiers []Notifier
	limiter   *RateLimiter
	logger    zerolog.Logger
}

// NewManager builds the channel set from config. Disabled channels are
// simply absent.
func NewManager(cfg config.NotificationConfig, limiter *RateLimiter, logger zerolog.Logger) *Manager {
	m := &Manager{limiter: limiter, logger: logger}

	if cfg.DingTalk.Enabled {
		m.notifiers = append(m.notifiers, NewDingTalk(cfg.DingTalk, logger))
	}
	if cfg.WeCom.Enabled {
		m.notifiers = append(m.notifiers, NewWeCom(cfg.WeCom, logger))
	}
	if cfg.Email.Enabled {
		m.notifiers = append(m.notifiers, NewEmail(cfg.Email, logger))
	}

	return m
}

// Channels returns the names of the active channels.
func (m *Manager) Channels() []string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Notify sends a message about one workflow through every channel, subject
// to the rate limit. It returns whether the message was sent (to at least
// one channel, or rate limiting permitted the attempt with no channels
// configured).
func (m *Manager) Notify(ctx context.Context, projectCode, definitionCode int64, workflowName string, msg Message) bool {
	if m.limiter != nil && !m.limiter.CanNotify(projectCode, definitionCode) {
		m.logger.Info().
			Str("workflow", workflowName).
			Int("sent_in_window", m.limiter.Count(projectCode, definitionCode)).
			Msg("notification suppressed by rate limit")
		metrics.NotificationsSuppressed.Inc()
		return false
	}

	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			m.logger.Error().Err(err).
				Str("channel", n.Name()).
				Str("workflow", workflowName).
				Msg("notification send failed")
			metrics.NotificationsTotal.WithLabelValues(n.Name(), "error").Inc()
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(n.Name(), "sent").Inc()
	}

	if m.limiter != nil {
		m.limiter.RecordNotification(projectCode, definitionCode, workflowName)
	}
	return true
}
