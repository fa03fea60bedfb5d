package forwarder

import (
	"context"
	"log/slog"
	"time"

	"github.com/tracyhatemice/mailwatch/internal/config"
	"github.com/tracyhatemice/mailwatch/internal/dedup"
	"github.com/tracyhatemice/mailwatch/internal/filter"
	"github.com/tracyhatemice/mailwatch/internal/mailbox"
	"github.com/tracyhatemice/mailwatch/internal/notify"
	"github.com/tracyhatemice/mailwatch/internal/receiver"
)

// FilteredPoller polls one account on a fixed interval and notifies
// for messages that pass the promotional qualification filter. The
// filter runs before dedup and never touches the seen-set, so a
// rejected message stays rejected on every poll rather than being
// consumed.
type FilteredPoller struct {
	account   config.FilteredAccount
	receiver  receiver.Receiver
	qualifier *filter.Qualifier
	sink      notify.Sink
	tracker   *dedup.Tracker
	logger    *slog.Logger
}

// NewFilteredPoller creates a poller for the given account.
func NewFilteredPoller(
	account config.FilteredAccount,
	recv receiver.Receiver,
	qualifier *filter.Qualifier,
	sink notify.Sink,
	tracker *dedup.Tracker,
	logger *slog.Logger,
) *FilteredPoller {
	return &FilteredPoller{
		account:   account,
		receiver:  recv,
		qualifier: qualifier,
		sink:      sink,
		tracker:   tracker,
		logger:    logger.With("account", account.Name),
	}
}

// Run polls the account on the configured interval until ctx is
// cancelled.
func (p *FilteredPoller) Run(ctx context.Context) {
	p.logger.Info("starting filtered poller",
		"host", p.account.Host,
		"interval", p.account.CheckInterval(),
	)

	// Run immediately on start, then on interval.
	p.poll()

	ticker := time.NewTicker(p.account.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("filtered poller stopped")
			if err := p.receiver.Close(); err != nil {
				p.logger.Warn("receiver close failed", "error", err)
			}
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *FilteredPoller) poll() {
	p.logger.Debug("polling")

	emails, err := p.receiver.Fetch(p.tracker.SeenIDs(), p.account.GetProcessDays())
	if err != nil {
		p.logger.Error("fetch failed", "error", err)
		return
	}
	if len(emails) == 0 {
		p.logger.Debug("no new emails")
		return
	}

	for _, email := range emails {
		p.process(email)
	}
}

func (p *FilteredPoller) process(email receiver.Email) {
	msg, err := mailbox.ParseMessage(email.Content)
	if err != nil {
		p.logger.Error("parse failed, skipping message", "msg_id", email.ID, "error", err)
		return
	}

	from := ""
	if len(msg.From) > 0 {
		from = msg.From[0]
	}
	if !p.qualifier.Qualifies(msg.Subject, from) {
		p.logger.Debug("promotional message filtered", "subject", msg.Subject)
		return
	}

	if p.tracker.Seen(email.ID) {
		return
	}

	n := formatMail(msg, mailbox.OriginInbox, time.Now())
	err = p.send(n)
	if err != nil {
		p.logger.Warn("notification delivery failed, not retrying",
			"msg_id", email.ID,
			"error", err,
		)
	} else {
		p.logger.Info("notification sent", "subject", msg.Subject)
	}
	p.tracker.MarkSeen(email.ID)
}

func (p *FilteredPoller) send(n notify.Notification) error {
	if p.account.ChannelID != "" {
		return p.sink.Send(p.account.ChannelID, n)
	}
	return p.sink.SendNotification(n)
}
