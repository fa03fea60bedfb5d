package mailbox

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fetchCall struct {
	uids     []imap.UID
	markSeen bool
}

type fakeSession struct {
	mu        sync.Mutex
	uids      []imap.UID
	searchErr error
	fetchErr  error
	msgs      map[imap.UID][]byte
	fetches   []fetchCall
	events    SessionEvents
	closed    bool
}

func (s *fakeSession) Search(_ *imap.SearchCriteria) ([]imap.UID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return append([]imap.UID(nil), s.uids...), nil
}

func (s *fakeSession) Fetch(uids []imap.UID, markSeen bool) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.fetches = append(s.fetches, fetchCall{append([]imap.UID(nil), uids...), markSeen})
	var out []RawMessage
	for _, uid := range uids {
		if body, ok := s.msgs[uid]; ok {
			out = append(out, RawMessage{UID: uid, Body: body})
		}
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) setUIDs(uids ...imap.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uids = uids
}

func (s *fakeSession) addMessage(uid imap.UID, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[uid] = raw
	s.uids = append(s.uids, uid)
}

func (s *fakeSession) fetchCalls() []fetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fetchCall(nil), s.fetches...)
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	setup    func(*fakeSession)
	sessions []*fakeSession
}

func (d *fakeDialer) dial(_ Config, ev SessionEvents) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	s := &fakeSession{
		msgs:   make(map[imap.UID][]byte),
		events: ev,
	}
	if d.setup != nil {
		d.setup(s)
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(t *testing.T, i int) *fakeSession {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		t.Fatalf("session %d not dialed (have %d)", i, len(d.sessions))
	}
	return d.sessions[i]
}

func rawMessage(id, subject, body string) []byte {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", id)
	}
	b.WriteString("From: Alice <alice@example.com>\r\n")
	b.WriteString("To: bob@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body + "\r\n")
	return []byte(b.String())
}

func testConn(t *testing.T, d *fakeDialer) *Conn {
	t.Helper()
	c := NewConn(Config{Host: "mail.example.com", Port: 993, Mailbox: "INBOX"}, d.dial, testLogger())
	c.delay = 5 * time.Millisecond
	t.Cleanup(c.Disconnect)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFetchAndProcessEmptyIsNoop(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)
	calls := 0
	c.RegisterMailCallback(func(Fetched) { calls++ })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.FetchAndProcess(nil, false); err != nil {
		t.Fatalf("FetchAndProcess: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected 0 callbacks, got %d", calls)
	}
	if got := d.session(t, 0).fetchCalls(); len(got) != 0 {
		t.Fatalf("expected no fetch calls, got %d", len(got))
	}
}

func TestFetchAndProcessDeliversEachMessage(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)

	var mu sync.Mutex
	var got []Fetched
	c.RegisterMailCallback(func(f Fetched) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := d.session(t, 0)
	s.addMessage(1, rawMessage("one@example.com", "first", "body one"))
	s.addMessage(2, rawMessage("two@example.com", "second", "body two"))
	s.addMessage(3, rawMessage("three@example.com", "third", "body three"))

	if err := c.FetchAndProcess([]imap.UID{1, 2, 3}, false); err != nil {
		t.Fatalf("FetchAndProcess: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(got))
	}
	if got[1].UID != 2 {
		t.Fatalf("expected uid 2, got %d", got[1].UID)
	}
	if got[1].Message.Subject != "second" {
		t.Fatalf("expected subject %q, got %q", "second", got[1].Message.Subject)
	}
	if !strings.Contains(got[2].Message.Text, "body three") {
		t.Fatalf("unexpected body: %q", got[2].Message.Text)
	}
}

func TestFetchAndProcessSkipsMalformed(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)

	calls := 0
	c.RegisterMailCallback(func(Fetched) { calls++ })

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := d.session(t, 0)
	s.addMessage(1, rawMessage("ok@example.com", "fine", "hello"))
	s.addMessage(2, []byte("this is not an email\r\n\r\n"))
	s.addMessage(3, rawMessage("ok2@example.com", "also fine", "hello"))

	if err := c.FetchAndProcess([]imap.UID{1, 2, 3}, false); err != nil {
		t.Fatalf("FetchAndProcess: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 callbacks, got %d", calls)
	}
}

func TestFetchAndProcessNotConnected(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)
	if err := c.FetchAndProcess([]imap.UID{1}, false); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestReconnectAfterSessionError(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)

	var mu sync.Mutex
	var got []Fetched
	// Registered before the failure; must still fire afterwards.
	c.RegisterMailCallback(func(f Fetched) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d.session(t, 0).events.Error(errors.New("connection reset"))

	waitFor(t, "reconnect", func() bool {
		return d.count() == 2 && c.State() == StateReady
	})

	s2 := d.session(t, 1)
	s2.addMessage(7, rawMessage("late@example.com", "after reconnect", "still alive"))
	if err := c.FetchAndProcess([]imap.UID{7}, false); err != nil {
		t.Fatalf("FetchAndProcess after reconnect: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Message.Subject != "after reconnect" {
		t.Fatalf("callback did not survive reconnect: %+v", got)
	}
}

func TestReconnectCoalesced(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	s := d.session(t, 0)
	s.events.Error(errors.New("boom"))
	s.events.Error(errors.New("boom again"))
	s.events.End()

	waitFor(t, "reconnect", func() bool { return c.State() == StateReady && d.count() > 1 })
	time.Sleep(20 * time.Millisecond)
	if n := d.count(); n != 2 {
		t.Fatalf("expected overlapping failures to coalesce into 1 retry, dialed %d sessions", n)
	}
}

func TestConnectFailureReportsAndRetries(t *testing.T) {
	d := &fakeDialer{failures: 1}
	c := testConn(t, d)

	var mu sync.Mutex
	errCount := 0
	c.RegisterErrorCallback(func(error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})

	if err := c.Connect(); err == nil {
		t.Fatal("expected Connect to fail")
	}
	mu.Lock()
	if errCount != 1 {
		mu.Unlock()
		t.Fatalf("expected error callback, got %d calls", errCount)
	}
	mu.Unlock()

	waitFor(t, "retry to succeed", func() bool {
		return d.count() == 1 && c.State() == StateReady
	})
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := testConn(t, d)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s := d.session(t, 0)

	c.Disconnect()
	if !s.closed {
		t.Fatal("expected session closed on disconnect")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %v", c.State())
	}

	s.events.End()
	s.events.Error(errors.New("late error"))
	time.Sleep(30 * time.Millisecond)
	if n := d.count(); n != 1 {
		t.Fatalf("expected no reconnect after manual disconnect, dialed %d", n)
	}

	// Idempotent.
	c.Disconnect()
}
