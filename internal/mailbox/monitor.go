package mailbox

import "log/slog"

// Origin tags which mailbox a message came from, so consumers can
// format received and sent mail differently.
type Origin string

const (
	OriginInbox Origin = "inbox"
	OriginSent  Origin = "sent"
)

// Monitor presents the inbox and sent watchers as one logical mailbox
// service.
type Monitor struct {
	inbox  *InboxWatcher
	sent   *SentWatcher
	logger *slog.Logger
}

// NewMonitor aggregates the two watchers.
func NewMonitor(inbox *InboxWatcher, sent *SentWatcher, logger *slog.Logger) *Monitor {
	return &Monitor{
		inbox:  inbox,
		sent:   sent,
		logger: logger,
	}
}

// RegisterMailCallback registers cb on both watchers, tagging every
// delivered message with its origin mailbox.
func (m *Monitor) RegisterMailCallback(cb func(Fetched, Origin)) {
	m.inbox.RegisterMailCallback(func(f Fetched) { cb(f, OriginInbox) })
	m.sent.RegisterMailCallback(func(f Fetched) { cb(f, OriginSent) })
}

// RegisterErrorCallback registers cb on both watchers with a context
// string identifying the failing side.
func (m *Monitor) RegisterErrorCallback(cb func(err error, context string)) {
	m.inbox.RegisterErrorCallback(func(err error) { cb(err, "inbox monitor") })
	m.sent.RegisterErrorCallback(func(err error) { cb(err, "sent monitor") })
}

// Connect connects both watchers concurrently. The first failure is
// returned, but each side's connection keeps retrying on its own, so a
// transient failure here does not stop the other side from coming up.
func (m *Monitor) Connect() error {
	m.logger.Info("connecting to mailboxes")

	errc := make(chan error, 2)
	go func() { errc <- m.inbox.Connect() }()
	go func() { errc <- m.sent.Connect() }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		m.logger.Error("failed to connect one or more mailboxes", "error", first)
		return first
	}

	m.logger.Info("all mailboxes connected")
	return nil
}

// Disconnect disconnects both watchers, best-effort and independent.
func (m *Monitor) Disconnect() {
	m.logger.Info("disconnecting from all mailboxes")
	m.inbox.Disconnect()
	m.sent.Disconnect()
}
