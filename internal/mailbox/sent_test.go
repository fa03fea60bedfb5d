package mailbox

import (
	"testing"

	"github.com/emersion/go-imap/v2"
)

func TestSentWatermarkAdvance(t *testing.T) {
	d := &fakeDialer{setup: func(s *fakeSession) {
		s.uids = []imap.UID{5, 8}
	}}
	c := testConn(t, d)
	w := NewSentWatcher(c, testLogger())
	t.Cleanup(w.Disconnect)

	if err := w.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := d.session(t, 0)

	w.mu.Lock()
	if w.lastUID != 8 {
		w.mu.Unlock()
		t.Fatalf("expected initial watermark 8, got %d", w.lastUID)
	}
	w.lastUID = 10
	w.mu.Unlock()

	s.setUIDs(5, 8, 12, 15)
	s.mu.Lock()
	s.msgs[12] = rawMessage("a@example.com", "new 12", "x")
	s.msgs[15] = rawMessage("b@example.com", "new 15", "y")
	s.mu.Unlock()

	w.check()

	calls := s.fetchCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(calls))
	}
	if len(calls[0].uids) != 2 || calls[0].uids[0] != 12 || calls[0].uids[1] != 15 {
		t.Fatalf("expected uids [12 15], got %v", calls[0].uids)
	}
	if calls[0].markSeen {
		t.Fatal("sent fetch must not alter read state")
	}

	w.mu.Lock()
	if w.lastUID != 15 {
		w.mu.Unlock()
		t.Fatalf("expected watermark 15, got %d", w.lastUID)
	}
	w.mu.Unlock()

	// Same UID set again: nothing above the watermark.
	w.check()
	if calls := s.fetchCalls(); len(calls) != 1 {
		t.Fatalf("expected no further fetch, got %d", len(calls))
	}
}

func TestSentEmptyMailboxInitRetries(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)
	w := NewSentWatcher(c, testLogger())
	t.Cleanup(w.Disconnect)

	if err := w.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := d.session(t, 0)

	w.mu.Lock()
	if w.lastUID != 0 {
		w.mu.Unlock()
		t.Fatalf("expected watermark 0 for empty mailbox, got %d", w.lastUID)
	}
	w.mu.Unlock()

	// Still empty: tick is skipped entirely.
	w.check()
	if calls := s.fetchCalls(); len(calls) != 0 {
		t.Fatalf("expected no fetch, got %d", len(calls))
	}

	// Mail appeared since startup: initialization catches up without
	// notifying for the backlog.
	s.setUIDs(3)
	w.check()
	if calls := s.fetchCalls(); len(calls) != 0 {
		t.Fatalf("expected late init not to fetch backlog, got %d fetches", len(calls))
	}
	w.mu.Lock()
	if w.lastUID != 3 {
		w.mu.Unlock()
		t.Fatalf("expected watermark 3 after late init, got %d", w.lastUID)
	}
	w.mu.Unlock()
}
