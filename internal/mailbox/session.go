package mailbox

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Config identifies one mailbox on one server. It is immutable per
// Conn and reused verbatim on every reconnect.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	UseTLS    bool
	Mailbox   string
	Keepalive time.Duration
}

func (c Config) keepalive() time.Duration {
	if c.Keepalive <= 0 {
		return 10 * time.Second
	}
	return c.Keepalive
}

// RawMessage is one fetched message before parsing.
type RawMessage struct {
	UID  imap.UID
	Body []byte
}

// SessionEvents receives unsolicited events from a live session.
// Callbacks may be invoked from session-owned goroutines.
type SessionEvents struct {
	// MailboxUpdate fires when the server signals the mailbox changed
	// (new mail may be available, without saying which).
	MailboxUpdate func()

	// Error fires on a fatal session error.
	Error func(err error)

	// End fires when the session ends without a prior error.
	End func()
}

// Session is the minimal surface of a live protocol session used by
// Conn. The real implementation wraps an IMAP client; tests substitute
// fakes.
type Session interface {
	// Search returns the UIDs matching criteria.
	Search(criteria *imap.SearchCriteria) ([]imap.UID, error)

	// Fetch retrieves the raw bytes of each UID. With markSeen the
	// fetch consumes the unseen state of the messages.
	Fetch(uids []imap.UID, markSeen bool) ([]RawMessage, error)

	// Close ends the session. Idempotent.
	Close() error
}

// DialFunc opens a session for cfg with ev wired to the underlying
// connection.
type DialFunc func(cfg Config, ev SessionEvents) (Session, error)

// DialIMAP is the production DialFunc: it dials the server, logs in,
// selects the configured mailbox and starts a keepalive loop that also
// surfaces unsolicited mailbox updates.
func DialIMAP(cfg Config, ev SessionEvents) (Session, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			// Runs on the client's read goroutine; hand off so the
			// consumer can issue commands without stalling reads.
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil && ev.MailboxUpdate != nil {
					go ev.MailboxUpdate()
				}
			},
		},
	}

	var client *imapclient.Client
	var err error
	if cfg.UseTLS {
		options.TLSConfig = &tls.Config{ServerName: cfg.Host}
		client, err = imapclient.DialTLS(addr, options)
	} else {
		client, err = imapclient.DialInsecure(addr, options)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login %s: %w", cfg.Username, err)
	}

	if _, err := client.Select(cfg.Mailbox, nil).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap select %s: %w", cfg.Mailbox, err)
	}

	s := &imapSession{
		client: client,
		stop:   make(chan struct{}),
	}
	go s.keepalive(cfg.keepalive(), ev)
	return s, nil
}

// imapSession adapts imapclient.Client to the Session interface.
type imapSession struct {
	client    *imapclient.Client
	stop      chan struct{}
	closeOnce sync.Once
}

// keepalive NOOPs the session on a fixed period. The NOOP round trip
// both keeps the connection alive and gives the server a chance to
// deliver untagged EXISTS responses, which arrive through the
// unilateral data handler. A failed NOOP means the session is gone.
func (s *imapSession) keepalive(interval time.Duration, ev SessionEvents) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.client.Noop().Wait(); err != nil {
				select {
				case <-s.stop:
					// Manual close raced the NOOP; not an error.
				default:
					if ev.Error != nil {
						ev.Error(fmt.Errorf("imap keepalive: %w", err))
					}
				}
				return
			}
		}
	}
}

func (s *imapSession) Search(criteria *imap.SearchCriteria) ([]imap.UID, error) {
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	return data.AllUIDs(), nil
}

func (s *imapSession) Fetch(uids []imap.UID, markSeen bool) ([]RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: !markSeen}
	options := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	buffers, err := s.client.Fetch(imap.UIDSetNum(uids...), options).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	messages := make([]RawMessage, 0, len(buffers))
	for _, buf := range buffers {
		messages = append(messages, RawMessage{
			UID:  buf.UID,
			Body: buf.FindBodySection(section),
		})
	}
	return messages, nil
}

func (s *imapSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		if logoutErr := s.client.Logout().Wait(); logoutErr != nil {
			err = s.client.Close()
		}
	})
	return err
}
