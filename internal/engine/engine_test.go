package engine

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/identity"
	"github.com/nifad2005/bjm/internal/store"
	"github.com/nifad2005/bjm/internal/wire"
)

// mockTransport records publishes and returns configurable results.
type mockTransport struct {
	mu        sync.Mutex
	connected bool
	err       error
	calls     []publishCall
}

type publishCall struct {
	Topic   string
	Payload string
	Retain  bool
}

func (m *mockTransport) Publish(topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, publishCall{Topic: topic, Payload: string(payload), Retain: retain})
	return m.err
}

func (m *mockTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) published() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockTransport) onTopic(topic string) []publishCall {
	var out []publishCall
	for _, c := range m.published() {
		if c.Topic == topic {
			out = append(out, c)
		}
	}
	return out
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *mockNotifier) Notify(senderID, content string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, senderID+"/"+content)
}

func testEngine(t *testing.T, connected bool) (*Engine, *mockTransport, *store.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ident, err := identity.Open(filepath.Join(dir, "identity.toml"), nil)
	if err != nil {
		t.Fatal(err)
	}

	mock := &mockTransport{connected: connected}
	e := New(db, mock, ident, wire.Topics{Prefix: "bjm"}, nil, bus.New(), nil)
	return e, mock, db, ident.ID()
}

func TestSendMessageWhileDisconnected(t *testing.T) {
	e, mock, db, self := testEngine(t, false)

	localID, err := e.SendMessage("peer", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if localID <= 0 {
		t.Fatalf("local id = %d", localID)
	}

	// No publish attempt offline; the message waits for a sweep.
	if len(mock.published()) != 0 {
		t.Errorf("got %d publishes, want 0", len(mock.published()))
	}

	msgs, _ := db.ListMessagesWith("peer", self)
	if len(msgs) != 1 || msgs[0].Status != store.StatusPending {
		t.Fatalf("got %+v, want one PENDING message", msgs)
	}
	f, _ := db.GetFriend("peer")
	if f == nil {
		t.Error("friend row not created on send")
	}
}

func TestSendMessageWhileConnected(t *testing.T) {
	e, mock, db, self := testEngine(t, true)

	localID, err := e.SendMessage("peer", "hello there")
	if err != nil {
		t.Fatal(err)
	}

	calls := mock.onTopic("bjm/chat/peer")
	if len(calls) != 1 {
		t.Fatalf("got %d chat publishes, want 1", len(calls))
	}
	want := fmt.Sprintf("%s:%d:hello there", self, localID)
	if calls[0].Payload != want {
		t.Errorf("payload = %q, want %q", calls[0].Payload, want)
	}
	if calls[0].Retain {
		t.Error("chat publish must not be retained")
	}

	msgs, _ := db.ListMessagesWith("peer", self)
	if msgs[0].Status != store.StatusSent {
		t.Errorf("status = %s, want SENT", msgs[0].Status)
	}
}

func TestSendMessagePublishFailureLeavesPending(t *testing.T) {
	e, mock, db, self := testEngine(t, true)
	mock.err = fmt.Errorf("broker unreachable")

	if _, err := e.SendMessage("peer", "hi"); err != nil {
		t.Fatalf("publish failure must not surface to caller: %v", err)
	}

	msgs, _ := db.ListMessagesWith("peer", self)
	if msgs[0].Status != store.StatusPending {
		t.Errorf("status = %s, want PENDING after failed publish", msgs[0].Status)
	}
}

func TestResendOutstandingSweep(t *testing.T) {
	e, mock, db, self := testEngine(t, false)

	// Two outstanding, one delivered (must not resend).
	id1, _ := e.SendMessage("peer", "one")
	id2, _ := e.SendMessage("other", "two")
	id3, _ := e.SendMessage("peer", "three")
	if _, err := db.SetMessageStatus(id3, store.StatusDelivered); err != nil {
		t.Fatal(err)
	}

	mock.connected = true
	e.ResendOutstanding()

	calls := mock.published()
	if len(calls) != 2 {
		t.Fatalf("got %d publishes, want 2 (one per outstanding message)", len(calls))
	}
	seen := map[string]bool{}
	for _, c := range calls {
		seen[c.Payload] = true
	}
	if !seen[fmt.Sprintf("%s:%d:one", self, id1)] || !seen[fmt.Sprintf("%s:%d:two", self, id2)] {
		t.Errorf("unexpected sweep payloads: %v", calls)
	}

	// Both advanced to SENT after successful publish.
	msgs, _ := db.UndeliveredOutgoing(self)
	for _, m := range msgs {
		if m.Status != store.StatusSent {
			t.Errorf("message %d status = %s, want SENT", m.ID, m.Status)
		}
	}
}

func TestResendToTargetsOnePeer(t *testing.T) {
	e, mock, _, _ := testEngine(t, false)

	_, _ = e.SendMessage("peer", "one")
	_, _ = e.SendMessage("other", "two")

	mock.connected = true
	e.ResendTo("peer")

	calls := mock.published()
	if len(calls) != 1 {
		t.Fatalf("got %d publishes, want 1", len(calls))
	}
	if calls[0].Topic != "bjm/chat/peer" {
		t.Errorf("topic = %q, want bjm/chat/peer", calls[0].Topic)
	}
}

func TestHandleChatStoresAcksAndNotifies(t *testing.T) {
	e, mock, db, self := testEngine(t, true)
	notifier := &mockNotifier{}
	e.notifier = notifier

	e.HandleChat([]byte("alice:42:hello"))

	// Friend row created.
	f, err := db.GetFriend("alice")
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || !f.IsOnline {
		t.Fatalf("friend = %+v, want online alice", f)
	}

	// Message stored as received.
	msgs, _ := db.ListMessagesWith("alice", self)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.SenderID != "alice" || m.ReceiverID != self || m.Content != "hello" || m.FromMe {
		t.Errorf("message = %+v", m)
	}

	// Exactly one DELIVERED ack back to the sender.
	acks := mock.onTopic("bjm/ack/alice")
	if len(acks) != 1 {
		t.Fatalf("got %d acks, want 1", len(acks))
	}
	if acks[0].Payload != self+":42:DELIVERED" {
		t.Errorf("ack payload = %q", acks[0].Payload)
	}

	// Notification handed off.
	if len(notifier.calls) != 1 || notifier.calls[0] != "alice/hello" {
		t.Errorf("notifier calls = %v", notifier.calls)
	}
}

func TestHandleChatDuplicateStillAcks(t *testing.T) {
	e, mock, db, self := testEngine(t, true)
	notifier := &mockNotifier{}
	e.notifier = notifier

	e.HandleChat([]byte("alice:42:hello"))
	e.HandleChat([]byte("alice:42:hello"))

	msgs, _ := db.ListMessagesWith("alice", self)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (dedup on correlation token)", len(msgs))
	}
	// The resent copy is re-acked so a lost ack cannot wedge the sender.
	if acks := mock.onTopic("bjm/ack/alice"); len(acks) != 2 {
		t.Errorf("got %d acks, want 2", len(acks))
	}
	if len(notifier.calls) != 1 {
		t.Errorf("notifier called %d times, want 1", len(notifier.calls))
	}
}

func TestHandleChatMalformedDropped(t *testing.T) {
	e, mock, db, self := testEngine(t, true)

	e.HandleChat([]byte("garbage"))
	e.HandleChat([]byte("alice:notanumber:hi"))

	msgs, _ := db.ListMessagesWith("alice", self)
	if len(msgs) != 0 || len(mock.published()) != 0 {
		t.Error("malformed payloads must not mutate state or publish")
	}
}

func TestHandleAckPerMessage(t *testing.T) {
	e, _, db, self := testEngine(t, true)
	localID, _ := e.SendMessage("peer", "hi")

	e.HandleAck([]byte(fmt.Sprintf("peer:%d:DELIVERED", localID)))

	msgs, _ := db.ListMessagesWith("peer", self)
	if msgs[0].Status != store.StatusDelivered {
		t.Errorf("status = %s, want DELIVERED", msgs[0].Status)
	}

	// A late SENT ack is an earlier stage: no-op.
	e.HandleAck([]byte(fmt.Sprintf("peer:%d:SENT", localID)))
	msgs, _ = db.ListMessagesWith("peer", self)
	if msgs[0].Status != store.StatusDelivered {
		t.Errorf("status downgraded to %s", msgs[0].Status)
	}
}

func TestHandleAckBulkSeen(t *testing.T) {
	e, _, db, self := testEngine(t, true)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, _ := e.SendMessage("peer", fmt.Sprintf("m%d", i))
		ids = append(ids, id)
	}
	otherID, _ := e.SendMessage("other", "x")

	e.HandleAck([]byte("peer:ALL:SEEN"))

	msgs, _ := db.ListMessagesWith("peer", self)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	for _, m := range msgs {
		if m.Status != store.StatusSeen {
			t.Errorf("message %d status = %s, want SEEN", m.ID, m.Status)
		}
	}
	otherMsgs, _ := db.ListMessagesWith("other", self)
	if otherMsgs[0].ID != otherID || otherMsgs[0].Status == store.StatusSeen {
		t.Errorf("bulk ack leaked to another peer: %+v", otherMsgs[0])
	}
	_ = ids
}

func TestHandleTypingAutoClear(t *testing.T) {
	e, _, db, _ := testEngine(t, true)
	e.TypingClearAfter = 50 * time.Millisecond

	if err := db.InsertFriendIgnoringConflict(&store.Friend{ID: "alice", Name: "alice"}); err != nil {
		t.Fatal(err)
	}

	e.HandleTyping([]byte("alice:true"))
	f, _ := db.GetFriend("alice")
	if !f.IsTyping {
		t.Fatal("isTyping not set")
	}

	// The false signal is lost; the timer clears the flag.
	time.Sleep(150 * time.Millisecond)
	f, _ = db.GetFriend("alice")
	if f.IsTyping {
		t.Error("isTyping not auto-cleared after timeout")
	}
}

func TestHandleTypingExplicitClearCancelsTimer(t *testing.T) {
	e, _, db, _ := testEngine(t, true)
	e.TypingClearAfter = time.Hour

	if err := db.InsertFriendIgnoringConflict(&store.Friend{ID: "alice", Name: "alice"}); err != nil {
		t.Fatal(err)
	}

	e.HandleTyping([]byte("alice:true"))
	e.HandleTyping([]byte("alice:false"))

	f, _ := db.GetFriend("alice")
	if f.IsTyping {
		t.Error("isTyping not cleared by explicit signal")
	}

	e.mu.Lock()
	pending := len(e.typing)
	e.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d typing timers still armed, want 0", pending)
	}
}

func TestHandlePresenceOnlineTriggersResend(t *testing.T) {
	e, mock, db, _ := testEngine(t, false)

	_, _ = e.SendMessage("alice", "queued while offline")
	_, _ = e.SendMessage("bob", "other peer")

	mock.connected = true
	e.HandlePresence("alice", []byte("online"))

	f, _ := db.GetFriend("alice")
	if !f.IsOnline || f.LastSeen == 0 {
		t.Errorf("presence not recorded: %+v", f)
	}

	chats := mock.onTopic("bjm/chat/alice")
	if len(chats) != 1 {
		t.Fatalf("got %d resends to alice, want 1", len(chats))
	}
	if len(mock.onTopic("bjm/chat/bob")) != 0 {
		t.Error("presence-triggered resend leaked to another peer")
	}
}

func TestHandlePresenceOffline(t *testing.T) {
	e, mock, db, _ := testEngine(t, true)
	if err := db.InsertFriendIgnoringConflict(&store.Friend{ID: "alice", Name: "alice", IsOnline: true}); err != nil {
		t.Fatal(err)
	}

	e.HandlePresence("alice", []byte("offline"))

	f, _ := db.GetFriend("alice")
	if f.IsOnline {
		t.Error("friend still online after offline presence")
	}
	if len(mock.published()) != 0 {
		t.Error("offline presence must not trigger resends")
	}
}

func TestHandleProfile(t *testing.T) {
	e, _, db, _ := testEngine(t, true)
	if err := db.InsertFriendIgnoringConflict(&store.Friend{ID: "alice", Name: "alice"}); err != nil {
		t.Fatal(err)
	}

	e.HandleProfile("alice", []byte("Alice|YXZhdGFy"))
	f, _ := db.GetFriend("alice")
	if f.Name != "Alice" || f.ProfilePic != "YXZhdGFy" {
		t.Errorf("friend = %+v", f)
	}

	// Name-only update keeps the existing avatar.
	e.HandleProfile("alice", []byte("Alice B."))
	f, _ = db.GetFriend("alice")
	if f.Name != "Alice B." || f.ProfilePic != "YXZhdGFy" {
		t.Errorf("friend = %+v after name-only update", f)
	}
}

func TestMarkAsSeen(t *testing.T) {
	e, mock, db, self := testEngine(t, true)

	e.HandleChat([]byte("alice:1:first"))
	e.HandleChat([]byte("alice:2:second"))
	mock.mu.Lock()
	mock.calls = nil
	mock.mu.Unlock()

	if err := e.MarkAsSeen("alice"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessagesWith("alice", self)
	for _, m := range msgs {
		if m.Status != store.StatusSeen {
			t.Errorf("message %q status = %s, want SEEN", m.Content, m.Status)
		}
	}

	acks := mock.onTopic("bjm/ack/alice")
	if len(acks) != 1 {
		t.Fatalf("got %d acks, want exactly 1 bulk ack", len(acks))
	}
	if acks[0].Payload != self+":ALL:SEEN" {
		t.Errorf("ack payload = %q", acks[0].Payload)
	}
}

func TestSendTyping(t *testing.T) {
	e, mock, _, self := testEngine(t, true)

	e.SendTyping("peer", true)
	e.SendTyping("peer", false)

	calls := mock.onTopic("bjm/typing/peer")
	if len(calls) != 2 {
		t.Fatalf("got %d typing publishes, want 2", len(calls))
	}
	if calls[0].Payload != self+":true" || calls[1].Payload != self+":false" {
		t.Errorf("payloads = %v", calls)
	}
}

func TestPublishPresenceRetained(t *testing.T) {
	e, mock, _, self := testEngine(t, true)

	e.PublishPresence(true)
	e.PublishPresence(false)

	calls := mock.onTopic("bjm/presence/" + self)
	if len(calls) != 2 {
		t.Fatalf("got %d presence publishes, want 2", len(calls))
	}
	if calls[0].Payload != "online" || calls[1].Payload != "offline" {
		t.Errorf("payloads = %v", calls)
	}
	for _, c := range calls {
		if !c.Retain {
			t.Error("presence must be retained so late subscribers see current state")
		}
	}
}

func TestPublishProfileRetained(t *testing.T) {
	e, mock, _, self := testEngine(t, true)

	e.PublishProfile()

	calls := mock.onTopic("bjm/profile/" + self)
	if len(calls) != 1 {
		t.Fatalf("got %d profile publishes, want 1", len(calls))
	}
	if !calls[0].Retain {
		t.Error("profile must be retained")
	}
	if !strings.HasPrefix(calls[0].Payload, "User_") {
		t.Errorf("payload = %q, want default name", calls[0].Payload)
	}
}
