package mailbox

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
)

// State is the connection lifecycle state of a Conn.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateReconnectScheduled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnectScheduled:
		return "reconnect-scheduled"
	default:
		return "unknown"
	}
}

// reconnectDelay is the fixed wait before a reconnect attempt.
// Constant cadence, not exponential: repeated failures retry forever.
const reconnectDelay = 15 * time.Second

// Fetched is one successfully fetched and parsed message.
type Fetched struct {
	UID     imap.UID
	Message *Message
}

// Conn owns one mailbox session and survives its replacement: on an
// unsolicited error or end it rebuilds the session from the original
// config after a fixed delay, and every registered callback keeps
// firing against the fresh session. Callers never deal with
// reconnection themselves.
type Conn struct {
	cfg    Config
	dial   DialFunc
	logger *slog.Logger

	// delay is reconnectDelay in production; tests shorten it.
	delay time.Duration

	mu           sync.Mutex
	sess         Session
	state        State
	manual       bool
	reconnecting bool
	mailCbs      []func(Fetched)
	errorCbs     []func(error)
	updateCbs    []func()
}

// NewConn creates a Conn for the given mailbox. Nothing is dialed
// until Connect.
func NewConn(cfg Config, dial DialFunc, logger *slog.Logger) *Conn {
	return &Conn{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With("mailbox", cfg.Mailbox),
		delay:  reconnectDelay,
	}
}

// RegisterMailCallback adds a callback invoked once per fetched and
// parsed message. Registration survives reconnects.
func (c *Conn) RegisterMailCallback(cb func(Fetched)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailCbs = append(c.mailCbs, cb)
}

// RegisterErrorCallback adds a callback invoked on connection errors.
// Registration survives reconnects.
func (c *Conn) RegisterErrorCallback(cb func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCbs = append(c.errorCbs, cb)
}

// RegisterUpdateCallback adds a callback invoked when the server
// signals that the mailbox changed. Registration survives reconnects.
func (c *Conn) RegisterUpdateCallback(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCbs = append(c.updateCbs, cb)
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials a fresh session and opens the configured mailbox. On
// failure the error is both returned and reported through the error
// callbacks, and a reconnect is scheduled unless the connection was
// manually disconnected.
func (c *Conn) Connect() error {
	c.mu.Lock()
	c.state = StateConnecting
	c.manual = false
	c.mu.Unlock()

	c.logger.Info("connecting")

	events := SessionEvents{
		MailboxUpdate: c.notifyUpdate,
		Error:         c.handleSessionError,
		End:           c.handleSessionEnd,
	}

	sess, err := c.dial(c.cfg, events)
	if err != nil {
		c.logger.Error("connect failed", "error", err)
		c.notifyError(err)
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.manual {
		// Disconnect raced the dial; drop the fresh session.
		c.mu.Unlock()
		sess.Close()
		return fmt.Errorf("connect aborted: manually disconnected")
	}
	c.sess = sess
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("mailbox opened")
	return nil
}

// Disconnect ends the session and suppresses further reconnects.
// Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.state = StateDisconnected
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			c.logger.Warn("close failed", "error", err)
		}
	}
}

// Search forwards criteria to the session and returns matching UIDs.
func (c *Conn) Search(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	return sess.Search(criteria)
}

// FetchAndProcess fetches each UID, parses it and hands every
// successfully parsed message to the registered mail callbacks.
// Messages that fail to parse are logged and skipped. An empty UID
// sequence is a no-op.
func (c *Conn) FetchAndProcess(uids []imap.UID, markSeen bool) error {
	if len(uids) == 0 {
		return nil
	}

	sess, err := c.session()
	if err != nil {
		return err
	}

	raws, err := sess.Fetch(uids, markSeen)
	if err != nil {
		return err
	}

	c.mu.Lock()
	cbs := append(([]func(Fetched))(nil), c.mailCbs...)
	c.mu.Unlock()

	for _, raw := range raws {
		msg, err := ParseMessage(raw.Body)
		if err != nil {
			c.logger.Error("parse failed, skipping message", "uid", raw.UID, "error", err)
			continue
		}
		for _, cb := range cbs {
			cb(Fetched{UID: raw.UID, Message: msg})
		}
	}
	return nil
}

func (c *Conn) session() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, fmt.Errorf("mailbox %s: not connected", c.cfg.Mailbox)
	}
	return c.sess, nil
}

func (c *Conn) handleSessionError(err error) {
	c.logger.Error("session error", "error", err)
	c.notifyError(err)
	c.scheduleReconnect()
}

func (c *Conn) handleSessionEnd() {
	c.logger.Info("session ended")
	c.scheduleReconnect()
}

// scheduleReconnect arms a single reconnect attempt after the fixed
// delay. Concurrent failures while one attempt is pending coalesce
// into it; a manual disconnect suppresses it entirely.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.manual || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.state = StateReconnectScheduled
	delay := c.delay
	c.mu.Unlock()

	c.logger.Info("reconnecting", "delay", delay)

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.manual {
			// Disconnected while the attempt was pending.
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		err := c.Connect()

		c.mu.Lock()
		c.reconnecting = false
		manual := c.manual
		c.mu.Unlock()

		if err == nil {
			c.logger.Info("reconnected")
			return
		}
		if manual {
			return
		}
		c.logger.Error("reconnect failed", "error", err)
		// The failed attempt emits no further events, so rearm here to
		// keep retrying at constant cadence.
		c.scheduleReconnect()
	})
}

func (c *Conn) notifyError(err error) {
	c.mu.Lock()
	cbs := append(([]func(error))(nil), c.errorCbs...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}

func (c *Conn) notifyUpdate() {
	c.mu.Lock()
	cbs := append(([]func())(nil), c.updateCbs...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}
