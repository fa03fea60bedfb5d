package mailbox

import (
	"log/slog"

	"github.com/emersion/go-imap/v2"
)

// inboxFetchLimit bounds how many unseen messages a single push signal
// fetches. Under burst load recency wins over completeness.
const inboxFetchLimit = 5

// InboxWatcher reacts to server-pushed new-mail signals on one
// mailbox: each signal triggers a search for unseen messages, of which
// the most recent few are fetched and marked seen so the same signal
// is not reprocessed.
type InboxWatcher struct {
	conn   *Conn
	logger *slog.Logger
}

// NewInboxWatcher wraps conn with push-driven new-mail discovery.
func NewInboxWatcher(conn *Conn, logger *slog.Logger) *InboxWatcher {
	w := &InboxWatcher{
		conn:   conn,
		logger: logger.With("watcher", "inbox"),
	}
	conn.RegisterUpdateCallback(w.handleNewMail)
	return w
}

// RegisterMailCallback registers cb for every fetched message.
func (w *InboxWatcher) RegisterMailCallback(cb func(Fetched)) {
	w.conn.RegisterMailCallback(cb)
}

// RegisterErrorCallback registers cb for connection errors.
func (w *InboxWatcher) RegisterErrorCallback(cb func(error)) {
	w.conn.RegisterErrorCallback(cb)
}

// Connect connects the underlying mailbox connection.
func (w *InboxWatcher) Connect() error {
	return w.conn.Connect()
}

// Disconnect disconnects the underlying mailbox connection.
func (w *InboxWatcher) Disconnect() {
	w.conn.Disconnect()
}

// handleNewMail runs once per push signal. Search and fetch failures
// are logged and abandoned until the next signal; connection-level
// errors are already routed through the Conn's reconnect path.
func (w *InboxWatcher) handleNewMail() {
	w.logger.Info("new mail event received, searching")

	uids, err := w.conn.Search(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	})
	if err != nil {
		w.logger.Error("search for unseen mail failed", "error", err)
		return
	}
	if len(uids) == 0 {
		return
	}

	latest := uids
	if len(latest) > inboxFetchLimit {
		latest = latest[len(latest)-inboxFetchLimit:]
	}
	w.logger.Info("unseen messages found", "total", len(uids), "fetching", len(latest))

	if err := w.conn.FetchAndProcess(latest, true); err != nil {
		w.logger.Error("fetch failed", "error", err)
	}
}
