// Package forwarder turns discovered mail into chat notifications,
// deduplicating along the way.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracyhatemice/mailwatch/internal/dedup"
	"github.com/tracyhatemice/mailwatch/internal/mailbox"
	"github.com/tracyhatemice/mailwatch/internal/notify"
)

// Forwarder watches the mailbox monitor and republishes every new
// message as a notification, at most once per message key. Delivery
// failures are logged, not retried: the message is marked seen either
// way, a deliberate at-most-once policy.
type Forwarder struct {
	monitor *mailbox.Monitor
	sink    notify.Sink
	tracker *dedup.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Forwarder over the given monitor and sink.
func New(monitor *mailbox.Monitor, sink notify.Sink, tracker *dedup.Tracker, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		monitor: monitor,
		sink:    sink,
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
	}
}

// Name identifies the feature.
func (f *Forwarder) Name() string { return "mail-forwarder" }

// Init registers the dispatch callbacks and connects the monitor. A
// failed initial connect is not fatal: the connections keep retrying
// in the background and the callbacks are already armed.
func (f *Forwarder) Init(ctx context.Context) error {
	f.monitor.RegisterMailCallback(f.handleMail)
	f.monitor.RegisterErrorCallback(func(err error, context string) {
		f.logger.Error("mailbox error", "context", context, "error", err)
	})

	if err := f.monitor.Connect(); err != nil {
		f.logger.Error("initial mailbox connect failed, will keep retrying", "error", err)
	}
	return nil
}

// Shutdown disconnects the monitor.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	f.monitor.Disconnect()
	return nil
}

func (f *Forwarder) handleMail(item mailbox.Fetched, origin mailbox.Origin) {
	key := f.notifyKey(item.Message)

	if f.tracker.Seen(key) {
		f.logger.Debug("duplicate message, skipping", "key", key)
		return
	}

	n := formatMail(item.Message, origin, f.now())
	if err := f.sink.SendNotification(n); err != nil {
		f.logger.Warn("notification delivery failed, not retrying",
			"key", key,
			"subject", item.Message.Subject,
			"error", err,
		)
	} else {
		f.logger.Info("notification sent",
			"origin", origin,
			"subject", item.Message.Subject,
		)
	}

	// Marked seen even when delivery failed: duplicates are worse than
	// a dropped notification during a sink outage.
	f.tracker.MarkSeen(key)
}

// notifyKey derives the dedup key: the Message-ID when present,
// otherwise a timestamp key. Two ID-less messages handled within the
// same timestamp tick collide and count as one; see the tests.
func (f *Forwarder) notifyKey(m *mailbox.Message) string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return fmt.Sprintf("no-id-%d", f.now().UnixNano())
}

func formatMail(m *mailbox.Message, origin mailbox.Origin, now time.Time) notify.Notification {
	subject := m.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	title := "📧 新しいメール: " + subject
	color := 0x0099FF
	if origin == mailbox.OriginSent {
		title = "📤 送信済みメール: " + subject
		color = 0x57F287
	}

	description := m.Text
	if description == "" {
		description = m.Snippet
	}

	date := "N/A"
	if !m.Date.IsZero() {
		date = m.Date.Format(time.RFC1123)
	}

	return notify.Notification{
		Title:       title,
		Description: description,
		Color:       color,
		Fields: []notify.Field{
			{Name: "From", Value: joinAddrs(m.From), Inline: true},
			{Name: "To", Value: joinAddrs(m.To), Inline: true},
			{Name: "Date", Value: date, Inline: true},
		},
		Timestamp: now,
	}
}

func joinAddrs(addrs []string) string {
	if len(addrs) == 0 {
		return "N/A"
	}
	out := addrs[0]
	for _, a := range addrs[1:] {
		out += ", " + a
	}
	return out
}
