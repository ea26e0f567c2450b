// Package engine implements the message delivery and synchronization
// core: it turns user intents (send, mark-seen, typing) and inbound
// broker payloads into record-store mutations and outbound publishes,
// maintaining the forward-only message status machine and the
// pending-resend policy.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/identity"
	"github.com/nifad2005/bjm/internal/store"
	"github.com/nifad2005/bjm/internal/wire"
	"go.uber.org/zap"
)

// DefaultTypingClear is how long a typing indicator stays on without a
// clearing signal. The explicit false signal may be lost; the timer
// guarantees the flag never sticks.
const DefaultTypingClear = 5 * time.Second

// Transport is the outbound half of the broker connection consumed by
// the engine. Publish failures are recoverable: the affected message
// stays at its last confirmed status and is picked up by a later sweep.
type Transport interface {
	Publish(topic string, payload []byte, retain bool) error
	Connected() bool
}

// Notifier is the external notification collaborator, invoked for every
// freshly stored inbound chat message.
type Notifier interface {
	Notify(senderID, content string)
}

// Engine is the delivery engine. Entry points are safe for concurrent
// use: status read-modify-writes are atomic single-row UPDATEs in the
// store, and the typing timers are guarded per friend.
type Engine struct {
	db        *store.DB
	transport Transport
	ident     *identity.Store
	topics    wire.Topics
	notifier  Notifier
	bus       *bus.Bus
	logger    *zap.Logger

	// TypingClearAfter overrides DefaultTypingClear, settable before use.
	TypingClearAfter time.Duration

	mu     sync.Mutex
	typing map[string]*time.Timer
}

// New creates a delivery engine. notifier may be nil.
func New(db *store.DB, transport Transport, ident *identity.Store, topics wire.Topics, notifier Notifier, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:               db,
		transport:        transport,
		ident:            ident,
		topics:           topics,
		notifier:         notifier,
		bus:              b,
		logger:           logger,
		TypingClearAfter: DefaultTypingClear,
		typing:           make(map[string]*time.Timer),
	}
}

// SendMessage stores an outgoing message and attempts to publish it.
// The returned local id is the acknowledgement correlation key. A store
// failure is returned to the caller; a publish failure is not — the
// message stays PENDING and is resent on the next sweep.
func (e *Engine) SendMessage(peerID, content string) (int64, error) {
	self := e.ident.ID()
	now := time.Now().UnixMilli()

	if err := e.db.InsertFriendIgnoringConflict(&store.Friend{ID: peerID, Name: peerID}); err != nil {
		return 0, fmt.Errorf("ensure friend: %w", err)
	}

	localID, err := e.db.InsertMessage(&store.Message{
		SenderID:   self,
		ReceiverID: peerID,
		Content:    content,
		Timestamp:  now,
		FromMe:     true,
		Status:     store.StatusPending,
		UUID:       uuid.New().String(),
	})
	if err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	if err := e.db.TouchFriendLastMessageTime(peerID, now); err != nil {
		e.logger.Error("touch conversation time failed", zap.Error(err), zap.String("peer", peerID))
	}
	e.publishEvent("message.upserted", map[string]any{"peer": peerID, "local_id": localID})

	if e.transport.Connected() {
		e.publishChat(peerID, localID, content)
	}
	return localID, nil
}

// MarkAsSeen marks every received message from the peer as SEEN locally
// and sends one bulk acknowledgement covering all of them.
func (e *Engine) MarkAsSeen(peerID string) error {
	self := e.ident.ID()
	if err := e.db.MarkAllSeenFrom(peerID, self); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	e.publishEvent("message.status_changed", map[string]any{"peer": peerID})

	payload := wire.EncodeAck(wire.Ack{SenderID: self, Bulk: true, Status: string(store.StatusSeen)})
	if err := e.transport.Publish(e.topics.Ack(peerID), payload, false); err != nil {
		e.logger.Warn("bulk seen ack publish failed", zap.Error(err), zap.String("peer", peerID))
	}
	return nil
}

// SendTyping publishes a typing signal to the peer. Debounce is the
// presentation layer's job; the engine sends what it is told.
func (e *Engine) SendTyping(peerID string, active bool) {
	payload := wire.EncodeTyping(wire.Typing{SenderID: e.ident.ID(), Active: active})
	if err := e.transport.Publish(e.topics.Typing(peerID), payload, false); err != nil {
		e.logger.Warn("typing publish failed", zap.Error(err), zap.String("peer", peerID))
	}
}

// ResendOutstanding republishes every PENDING/SENT outgoing message.
// Triggered on reconnect. The sweep operates on a snapshot, so a
// message sent concurrently by SendMessage is not double-sent by the
// same sweep.
func (e *Engine) ResendOutstanding() {
	msgs, err := e.db.UndeliveredOutgoing(e.ident.ID())
	if err != nil {
		e.logger.Error("resend snapshot failed", zap.Error(err))
		return
	}
	for _, m := range msgs {
		e.publishChat(m.ReceiverID, m.ID, m.Content)
	}
	if len(msgs) > 0 {
		e.logger.Info("resend sweep completed", zap.Int("messages", len(msgs)))
	}
}

// ResendTo republishes outstanding messages addressed to one peer.
// Triggered when that peer's presence flips to online.
func (e *Engine) ResendTo(peerID string) {
	msgs, err := e.db.UndeliveredOutgoing(e.ident.ID())
	if err != nil {
		e.logger.Error("resend snapshot failed", zap.Error(err))
		return
	}
	for _, m := range msgs {
		if m.ReceiverID == peerID {
			e.publishChat(m.ReceiverID, m.ID, m.Content)
		}
	}
}

// PublishPresence publishes the retained online/offline flag on our own
// presence address.
func (e *Engine) PublishPresence(online bool) {
	payload := wire.PresenceOffline
	if online {
		payload = wire.PresenceOnline
	}
	if err := e.transport.Publish(e.topics.Presence(e.ident.ID()), []byte(payload), true); err != nil {
		e.logger.Warn("presence publish failed", zap.Error(err))
	}
}

// PublishProfile publishes the retained profile payload on our own
// profile address, so late subscribers observe current state.
func (e *Engine) PublishProfile() {
	name, avatar := e.ident.Profile()
	payload := wire.EncodeProfile(wire.Profile{Name: name, Avatar: avatar})
	if err := e.transport.Publish(e.topics.Profile(e.ident.ID()), payload, true); err != nil {
		e.logger.Warn("profile publish failed", zap.Error(err))
	}
}

// publishChat attempts one publish of a stored message and advances it
// to SENT on success. "Sent" means the local publish succeeded, not
// that the peer received anything.
func (e *Engine) publishChat(peerID string, localID int64, content string) {
	payload := wire.EncodeChat(wire.ChatMessage{SenderID: e.ident.ID(), LocalID: localID, Content: content})
	if err := e.transport.Publish(e.topics.Chat(peerID), payload, false); err != nil {
		e.logger.Warn("chat publish failed, message stays outstanding",
			zap.Error(err), zap.String("peer", peerID), zap.Int64("local_id", localID))
		return
	}
	changed, err := e.db.SetMessageStatus(localID, store.StatusSent)
	if err != nil {
		e.logger.Error("advance to SENT failed", zap.Error(err), zap.Int64("local_id", localID))
		return
	}
	if changed {
		e.publishEvent("message.status_changed", map[string]any{"local_id": localID, "status": store.StatusSent})
	}
}

func (e *Engine) publishEvent(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
