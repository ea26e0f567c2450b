package session

import (
	"context"
	"sync"

	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/engine"
	"github.com/nifad2005/bjm/internal/identity"
	"github.com/nifad2005/bjm/internal/status"
	"github.com/nifad2005/bjm/internal/store"
	"github.com/nifad2005/bjm/internal/wire"
	"go.uber.org/zap"
)

// Transport is the connection-lifecycle half of the broker adapter
// consumed by the controller. Reconnect backoff lives inside the
// adapter; the controller only reacts to the connected event firing
// again.
type Transport interface {
	Connect()
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Disconnect()
}

// Controller orchestrates the connect lifecycle: initial subscription
// fan-out across all known friends, retained presence/profile publish
// and the reconnect-triggered resynchronization sweep.
type Controller struct {
	ident     *identity.Store
	db        *store.DB
	transport Transport
	engine    *engine.Engine
	machine   *status.Machine
	topics    wire.Topics
	bus       *bus.Bus
	logger    *zap.Logger

	mu         sync.Mutex
	subscribed map[string]bool
	cancel     context.CancelFunc
}

// NewController creates a session controller.
func NewController(ident *identity.Store, db *store.DB, transport Transport, eng *engine.Engine, machine *status.Machine, topics wire.Topics, b *bus.Bus, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		ident:      ident,
		db:         db,
		transport:  transport,
		engine:     eng,
		machine:    machine,
		topics:     topics,
		bus:        b,
		logger:     logger,
		subscribed: make(map[string]bool),
	}
}

// Start initiates the broker connection and begins reacting to
// transport, friend and profile events. Non-blocking.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	_ = c.machine.Transition(status.Connecting)

	ch, unsub := c.bus.Subscribe(64, "transport.", "friend.", "identity.")
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	c.transport.Connect()
}

// Stop publishes retained offline presence, then tears the session
// down. The offline flag must go out before the disconnect or peers
// keep seeing a stale online.
func (c *Controller) Stop() {
	c.engine.PublishPresence(false)
	c.transport.Disconnect()
	_ = c.machine.Transition(status.Stopped)
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "transport.connected":
		c.onReady()
	case "transport.disconnected":
		if c.machine.Current() == status.Online {
			_ = c.machine.Transition(status.Reconnecting)
		}
	case "friend.updated":
		c.syncPeerSubscriptions()
	case "identity.profile_updated":
		c.engine.PublishProfile()
	}
}

// onReady runs on every established session, first connect and
// reconnects alike: subscribe our own address spaces, announce
// presence and profile (retained), sweep outstanding messages and fan
// out per-friend subscriptions.
func (c *Controller) onReady() {
	_ = c.machine.Transition(status.Online)

	self := c.ident.ID()
	c.ensureSubscribed(c.topics.Chat(self), func(_ string, p []byte) { c.engine.HandleChat(p) })
	c.ensureSubscribed(c.topics.Typing(self), func(_ string, p []byte) { c.engine.HandleTyping(p) })
	c.ensureSubscribed(c.topics.Ack(self), func(_ string, p []byte) { c.engine.HandleAck(p) })

	c.engine.PublishPresence(true)
	c.engine.PublishProfile()
	c.engine.ResendOutstanding()
	c.syncPeerSubscriptions()
}

// SubscribePeer establishes the presence and profile subscriptions for
// one peer. Safe to call repeatedly; each address is subscribed once
// per session. Also invoked directly by the pairing flow so a freshly
// added friend is observed without waiting for a store event.
func (c *Controller) SubscribePeer(peerID string) {
	id := peerID
	c.ensureSubscribed(c.topics.Presence(id), func(_ string, p []byte) { c.engine.HandlePresence(id, p) })
	c.ensureSubscribed(c.topics.Profile(id), func(_ string, p []byte) { c.engine.HandleProfile(id, p) })
}

// syncPeerSubscriptions lazily subscribes to presence/profile of every
// friend observed in the store that is not yet subscribed.
func (c *Controller) syncPeerSubscriptions() {
	friends, err := c.db.ListFriends()
	if err != nil {
		c.logger.Error("list friends for subscription fan-out failed", zap.Error(err))
		return
	}
	for _, f := range friends {
		if f.ID == c.ident.ID() {
			continue
		}
		c.SubscribePeer(f.ID)
	}
}

func (c *Controller) ensureSubscribed(topic string, handler func(topic string, payload []byte)) {
	c.mu.Lock()
	if c.subscribed[topic] {
		c.mu.Unlock()
		return
	}
	c.subscribed[topic] = true
	c.mu.Unlock()

	if err := c.transport.Subscribe(topic, handler); err != nil {
		c.logger.Warn("subscribe failed", zap.Error(err), zap.String("topic", topic))
		c.mu.Lock()
		delete(c.subscribed, topic)
		c.mu.Unlock()
	}
}
