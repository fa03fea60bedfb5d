package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
)

// snippetLimit caps the generated message snippet, in runes.
const snippetLimit = 200

// Message is the parsed form of a fetched email.
type Message struct {
	// MessageID is the Message-ID header, empty when the message
	// carries none.
	MessageID string
	Subject   string
	From      []string
	To        []string
	Date      time.Time
	Text      string
	Snippet   string
}

// ParseMessage parses raw RFC 5322 bytes into a Message. The body is
// the first inline text part found; HTML is accepted when no plain
// text part exists.
func ParseMessage(raw []byte) (*Message, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer reader.Close()

	msg := &Message{
		MessageID: reader.Header.Get("Message-ID"),
	}
	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := reader.Header.Date(); err == nil {
		msg.Date = date
	}
	msg.From = addressList(reader.Header, "From")
	msg.To = addressList(reader.Header, "To")

	var htmlBody string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part does not invalidate what was already read.
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		switch contentType {
		case "text/plain":
			if msg.Text == "" {
				body, _ := io.ReadAll(part.Body)
				msg.Text = string(body)
			}
		case "text/html":
			if htmlBody == "" {
				body, _ := io.ReadAll(part.Body)
				htmlBody = string(body)
			}
		}
	}
	if msg.Text == "" {
		msg.Text = htmlBody
	}

	msg.Snippet = makeSnippet(msg.Text)
	return msg, nil
}

func addressList(header mail.Header, key string) []string {
	addrs, err := header.AddressList(key)
	if err != nil {
		// Fall back to the raw header so a malformed list still
		// yields something displayable.
		if raw := header.Get(key); raw != "" {
			return []string{raw}
		}
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			out = append(out, a.Address)
		}
	}
	return out
}

func makeSnippet(text string) string {
	s := strings.TrimSpace(strings.Join(strings.Fields(text), " "))
	if utf8.RuneCountInString(s) <= snippetLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:snippetLimit])
}
