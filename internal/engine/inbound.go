package engine

import (
	"errors"
	"strconv"
	"time"

	"github.com/nifad2005/bjm/internal/store"
	"github.com/nifad2005/bjm/internal/wire"
	"go.uber.org/zap"
)

// HandleChat processes an inbound chat payload: store the message,
// ensure the sender's friend row exists, acknowledge DELIVERED and hand
// off to the notifier. Malformed payloads are dropped, logged only.
func (e *Engine) HandleChat(payload []byte) {
	msg, err := wire.ParseChat(payload)
	if err != nil {
		e.logger.Warn("dropping malformed chat payload", zap.Error(err))
		return
	}

	self := e.ident.ID()
	now := time.Now().UnixMilli()

	if err := e.db.InsertFriendIgnoringConflict(&store.Friend{
		ID:            msg.SenderID,
		Name:          msg.SenderID,
		IsOnline:      true,
		LastSeen:      now,
		LastMessageAt: now,
	}); err != nil {
		e.logger.Error("ensure friend failed", zap.Error(err), zap.String("peer", msg.SenderID))
		return
	}

	// The uuid ties the row to the sender's correlation id, so resent
	// copies of the same message dedup on the unique index.
	_, err = e.db.InsertMessage(&store.Message{
		SenderID:   msg.SenderID,
		ReceiverID: self,
		Content:    msg.Content,
		Timestamp:  now,
		FromMe:     false,
		Status:     store.StatusDelivered,
		UUID:       msg.SenderID + ":" + strconv.FormatInt(msg.LocalID, 10),
	})
	duplicate := errors.Is(err, store.ErrDuplicateMessage)
	if err != nil && !duplicate {
		e.logger.Error("store inbound message failed", zap.Error(err), zap.String("peer", msg.SenderID))
		return
	}

	if !duplicate {
		if err := e.db.TouchFriendLastMessageTime(msg.SenderID, now); err != nil {
			e.logger.Error("touch conversation time failed", zap.Error(err))
		}
		e.publishEvent("message.upserted", map[string]any{"peer": msg.SenderID})
		e.publishEvent("friend.updated", msg.SenderID)
		if e.notifier != nil {
			e.notifier.Notify(msg.SenderID, msg.Content)
		}
	}

	// Always acknowledge, duplicates included: the sender resends until
	// it sees DELIVERED, so a lost ack must not wedge the message.
	ack := wire.EncodeAck(wire.Ack{SenderID: self, LocalID: msg.LocalID, Status: string(store.StatusDelivered)})
	if err := e.transport.Publish(e.topics.Ack(msg.SenderID), ack, false); err != nil {
		e.logger.Warn("delivered ack publish failed", zap.Error(err), zap.String("peer", msg.SenderID))
	}
}

// HandleAck processes an acknowledgement. Per-message acks advance one
// local message by its correlation id; bulk acks batch-advance every
// not-yet-seen message sent to the acknowledging peer. Earlier-stage
// acks are no-ops via the monotonic store guard.
func (e *Engine) HandleAck(payload []byte) {
	ack, err := wire.ParseAck(payload)
	if err != nil {
		e.logger.Warn("dropping malformed ack payload", zap.Error(err))
		return
	}

	status := store.MessageStatus(ack.Status)
	if ack.Bulk {
		n, err := e.db.BulkSetStatusForSender(ack.SenderID, e.ident.ID(), status)
		if err != nil {
			e.logger.Error("bulk status update failed", zap.Error(err), zap.String("peer", ack.SenderID))
			return
		}
		if n > 0 {
			e.publishEvent("message.status_changed", map[string]any{"peer": ack.SenderID, "status": status})
		}
		return
	}

	changed, err := e.db.SetMessageStatus(ack.LocalID, status)
	if err != nil {
		e.logger.Error("status update failed", zap.Error(err), zap.Int64("local_id", ack.LocalID))
		return
	}
	if changed {
		e.publishEvent("message.status_changed", map[string]any{"local_id": ack.LocalID, "status": status})
	}
}

// HandleTyping processes a typing signal. An active signal arms a
// per-friend auto-clear timer in case the clearing signal is lost; an
// inactive signal clears immediately and cancels the timer.
func (e *Engine) HandleTyping(payload []byte) {
	tp, err := wire.ParseTyping(payload)
	if err != nil {
		e.logger.Warn("dropping malformed typing payload", zap.Error(err))
		return
	}

	if err := e.db.UpdateFriendTyping(tp.SenderID, tp.Active); err != nil {
		e.logger.Error("typing update failed", zap.Error(err), zap.String("peer", tp.SenderID))
		return
	}
	e.publishEvent("friend.updated", tp.SenderID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, ok := e.typing[tp.SenderID]; ok {
		timer.Stop()
		delete(e.typing, tp.SenderID)
	}
	if tp.Active {
		peer := tp.SenderID
		e.typing[peer] = time.AfterFunc(e.TypingClearAfter, func() {
			e.mu.Lock()
			delete(e.typing, peer)
			e.mu.Unlock()
			if err := e.db.UpdateFriendTyping(peer, false); err != nil {
				e.logger.Error("typing auto-clear failed", zap.Error(err), zap.String("peer", peer))
				return
			}
			e.publishEvent("friend.updated", peer)
		})
	}
}

// HandlePresence processes a retained presence payload for the given
// peer. A transition to online triggers a targeted resend of everything
// still outstanding for that peer.
func (e *Engine) HandlePresence(peerID string, payload []byte) {
	online := string(payload) == wire.PresenceOnline
	if err := e.db.UpdateFriendPresence(peerID, online, time.Now().UnixMilli()); err != nil {
		e.logger.Error("presence update failed", zap.Error(err), zap.String("peer", peerID))
		return
	}
	e.publishEvent("friend.updated", peerID)

	if online {
		e.ResendTo(peerID)
	}
}

// HandleProfile processes a retained profile payload for the given peer.
func (e *Engine) HandleProfile(peerID string, payload []byte) {
	p, err := wire.ParseProfile(payload)
	if err != nil {
		e.logger.Warn("dropping malformed profile payload", zap.Error(err), zap.String("peer", peerID))
		return
	}

	if err := e.db.UpdateFriendName(peerID, p.Name); err != nil {
		e.logger.Error("name update failed", zap.Error(err), zap.String("peer", peerID))
		return
	}
	if p.Avatar != "" {
		if err := e.db.UpdateFriendPic(peerID, p.Avatar); err != nil {
			e.logger.Error("avatar update failed", zap.Error(err), zap.String("peer", peerID))
			return
		}
	}
	e.publishEvent("friend.updated", peerID)
}
