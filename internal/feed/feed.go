// Package feed exposes live, re-queried views of the record store to
// the presentation layer. Each observer holds a bus subscription and
// pushes a fresh snapshot whenever a relevant mutation event lands.
package feed

import (
	"context"

	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/store"
	"go.uber.org/zap"
)

// Feed builds snapshot observers over the record store.
type Feed struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a feed.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{db: db, bus: b, logger: logger}
}

// ObserveFriends returns a channel of friend-list snapshots ordered by
// conversation recency. The current snapshot is pushed immediately and
// a new one after every friend or message mutation. Snapshots are
// latest-wins: if the receiver lags, intermediate states are dropped.
func (f *Feed) ObserveFriends(ctx context.Context) <-chan []store.Friend {
	out := make(chan []store.Friend, 1)
	ch, unsub := f.bus.Subscribe(64, "friend.", "message.")

	push := func() {
		friends, err := f.db.ListFriends()
		if err != nil {
			f.logger.Error("friend snapshot failed", zap.Error(err))
			return
		}
		select {
		case out <- friends:
		default:
			select {
			case <-out:
			default:
			}
			out <- friends
		}
	}

	go func() {
		defer unsub()
		defer close(out)
		push()
		for {
			select {
			case <-ch:
				push()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ObserveMessages returns a channel of conversation snapshots for one
// peer, oldest first. Same push semantics as ObserveFriends.
func (f *Feed) ObserveMessages(ctx context.Context, peerID, selfID string) <-chan []store.Message {
	out := make(chan []store.Message, 1)
	ch, unsub := f.bus.Subscribe(64, "message.")

	push := func() {
		msgs, err := f.db.ListMessagesWith(peerID, selfID)
		if err != nil {
			f.logger.Error("conversation snapshot failed", zap.Error(err), zap.String("peer", peerID))
			return
		}
		select {
		case out <- msgs:
		default:
			select {
			case <-out:
			default:
			}
			out <- msgs
		}
	}

	go func() {
		defer unsub()
		defer close(out)
		push()
		for {
			select {
			case <-ch:
				push()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
