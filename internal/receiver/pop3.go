package receiver

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-message/mail"
	pop3client "github.com/knadh/go-pop3"
)

// POP3Receiver fetches emails over POP3/POP3S. A fresh connection is
// made per Fetch; POP3 sessions are cheap and short-lived.
type POP3Receiver struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger
}

// NewPOP3 creates a new POP3 receiver.
func NewPOP3(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *POP3Receiver {
	return &POP3Receiver{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

func (r *POP3Receiver) Fetch(seenIDs map[string]struct{}, processDays int) ([]Email, error) {
	addr := net.JoinHostPort(r.host, fmt.Sprintf("%d", r.port))

	client := pop3client.New(pop3client.Opt{
		Host:       r.host,
		Port:       r.port,
		TLSEnabled: r.useTLS,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect %s: %w", addr, err)
	}
	defer conn.Quit()

	if err := conn.Auth(r.username, r.password); err != nil {
		return nil, fmt.Errorf("pop3 auth %s: %w", r.username, err)
	}

	listing, err := conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 list: %w", err)
	}

	// UIDs are stable across sessions, unlike the sequence numbers from
	// LIST. Not every server implements UIDL, so a failure is tolerated.
	uids := make(map[int]string)
	if uidListing, err := conn.Uidl(0); err == nil {
		for _, u := range uidListing {
			uids[u.ID] = u.UID
		}
	}

	cutoff := time.Now().AddDate(0, 0, -processDays)
	var emails []Email

	for _, item := range listing {
		rawBuf, err := conn.RetrRaw(item.ID)
		if err != nil {
			r.logger.Warn("pop3 retrieve failed", "msg_id", item.ID, "error", err)
			continue
		}
		raw := rawBuf.Bytes()

		id, date := headerMeta(raw)
		if id == "" {
			if uid := uids[item.ID]; uid != "" {
				id = fmt.Sprintf("pop3-uid-%s-%s", uid, r.username)
			} else {
				id = fmt.Sprintf("pop3-%d-%s", item.ID, r.username)
			}
		}

		if _, seen := seenIDs[id]; seen {
			continue
		}
		if !date.IsZero() && date.Before(cutoff) {
			continue
		}

		emails = append(emails, Email{
			ID:      id,
			Date:    date,
			Content: raw,
		})
	}

	r.logger.Debug("pop3 fetch complete", "listed", len(listing), "new", len(emails))
	return emails, nil
}

func (r *POP3Receiver) Close() error {
	return nil
}

// headerMeta extracts the Message-ID and Date headers from raw email
// bytes. Either may be missing; the zero value stands in.
func headerMeta(raw []byte) (string, time.Time) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", time.Time{}
	}
	defer reader.Close()

	id := reader.Header.Get("Message-ID")
	date, err := reader.Header.Date()
	if err != nil {
		date = time.Time{}
	}
	return id, date
}
