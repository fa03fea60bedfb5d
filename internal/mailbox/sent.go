package mailbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
)

// defaultPollInterval is how often the sent mailbox is checked.
const defaultPollInterval = 60 * time.Second

// SentWatcher discovers new messages in a mailbox that pushes no
// events by polling with a high-water-mark UID. Each tick queries the
// full UID set and filters client-side: range searches for "UID
// greater than N" proved unreliable against at least one real server,
// and a personal sent folder is small enough that fetching every UID
// each minute is cheap.
type SentWatcher struct {
	conn     *Conn
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	lastUID imap.UID
	stop    chan struct{}
}

// NewSentWatcher wraps conn with poll-driven new-mail discovery.
func NewSentWatcher(conn *Conn, logger *slog.Logger) *SentWatcher {
	return &SentWatcher{
		conn:     conn,
		logger:   logger.With("watcher", "sent"),
		interval: defaultPollInterval,
	}
}

// RegisterMailCallback registers cb for every fetched message.
func (w *SentWatcher) RegisterMailCallback(cb func(Fetched)) {
	w.conn.RegisterMailCallback(cb)
}

// RegisterErrorCallback registers cb for connection errors.
func (w *SentWatcher) RegisterErrorCallback(cb func(error)) {
	w.conn.RegisterErrorCallback(cb)
}

// Connect connects the underlying mailbox connection, initializes the
// UID watermark and starts the poll loop.
func (w *SentWatcher) Connect() error {
	if err := w.conn.Connect(); err != nil {
		return err
	}
	w.initLastUID()

	w.mu.Lock()
	if w.stop == nil {
		w.stop = make(chan struct{})
		go w.loop(w.stop)
	}
	w.mu.Unlock()
	return nil
}

// Disconnect stops the poll loop and disconnects the connection.
func (w *SentWatcher) Disconnect() {
	w.mu.Lock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
	w.mu.Unlock()
	w.conn.Disconnect()
}

func (w *SentWatcher) loop(stop chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// initLastUID sets the watermark to the highest UID currently in the
// mailbox. An empty mailbox leaves it at zero; the next tick retries.
func (w *SentWatcher) initLastUID() {
	uids, err := w.conn.Search(&imap.SearchCriteria{})
	if err != nil {
		w.logger.Error("initializing last uid failed", "error", err)
		return
	}
	if len(uids) == 0 {
		w.logger.Info("mailbox empty, starting with uid 0")
		return
	}
	max := maxUID(uids)
	w.mu.Lock()
	w.lastUID = max
	w.mu.Unlock()
	w.logger.Info("initialized last uid", "uid", max)
}

// check fetches every message whose UID is strictly greater than the
// watermark. Failures leave the watermark unchanged so the same
// messages are retried next tick.
func (w *SentWatcher) check() {
	w.mu.Lock()
	last := w.lastUID
	w.mu.Unlock()

	if last == 0 {
		// Covers a mailbox that was empty at startup and has messages
		// now; avoids fetching the entire mailbox as "new".
		w.initLastUID()
		w.mu.Lock()
		last = w.lastUID
		w.mu.Unlock()
		if last == 0 {
			return
		}
	}

	uids, err := w.conn.Search(&imap.SearchCriteria{})
	if err != nil {
		w.logger.Error("checking for sent mail failed", "error", err)
		return
	}

	var fresh []imap.UID
	for _, uid := range uids {
		if uid > last {
			fresh = append(fresh, uid)
		}
	}
	if len(fresh) == 0 {
		return
	}

	newMax := maxUID(fresh)
	w.logger.Info("new sent messages found", "count", len(fresh), "max_uid", newMax)

	w.mu.Lock()
	if newMax > w.lastUID {
		w.lastUID = newMax
	}
	w.mu.Unlock()

	// Sent messages keep their read state.
	if err := w.conn.FetchAndProcess(fresh, false); err != nil {
		w.logger.Error("fetch failed", "error", err)
	}
}

func maxUID(uids []imap.UID) imap.UID {
	var max imap.UID
	for _, uid := range uids {
		if uid > max {
			max = uid
		}
	}
	return max
}
