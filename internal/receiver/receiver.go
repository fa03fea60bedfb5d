// Package receiver fetches raw email from accounts that offer no
// event-capable session, for the polling notification path.
package receiver

import "time"

// Email is one fetched message, unparsed.
type Email struct {
	ID      string    // Message-ID when present, otherwise a synthesized ID
	Date    time.Time // zero when the Date header is absent or malformed
	Content []byte    // raw RFC 5322 message bytes
}

// Receiver fetches emails from a remote mail server.
type Receiver interface {
	// Fetch returns emails from approximately the last processDays
	// days, skipping IDs present in seenIDs.
	Fetch(seenIDs map[string]struct{}, processDays int) ([]Email, error)

	// Close releases any resources held by the receiver.
	Close() error
}
