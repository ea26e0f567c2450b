// Package pairing implements friend exchange: rendering the local
// identity id as a scannable QR code and registering a peer id typed or
// scanned from the other side.
package pairing

import (
	"errors"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/identity"
	"github.com/nifad2005/bjm/internal/store"
)

var (
	ErrEmptyPeerID = errors.New("peer id is empty")
	ErrSelfPeerID  = errors.New("peer id is our own identity")
)

// Subscriber is the session-side collaborator that watches a newly
// added peer's presence and profile addresses.
type Subscriber interface {
	SubscribePeer(peerID string)
}

// Service handles adding friends and exposing our own id for pairing.
type Service struct {
	ident *identity.Store
	db    *store.DB
	subs  Subscriber
	bus   *bus.Bus
}

// New creates a pairing service. subs may be nil when no session is up.
func New(ident *identity.Store, db *store.DB, subs Subscriber, b *bus.Bus) *Service {
	return &Service{ident: ident, db: db, subs: subs, bus: b}
}

// Add registers a peer as a friend. Idempotent: adding a known peer is
// a no-op that still ensures its subscriptions exist.
func (s *Service) Add(peerID string) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return ErrEmptyPeerID
	}
	if peerID == s.ident.ID() {
		return ErrSelfPeerID
	}

	if err := s.db.InsertFriendIgnoringConflict(&store.Friend{ID: peerID, Name: peerID}); err != nil {
		return err
	}
	if s.subs != nil {
		s.subs.SubscribePeer(peerID)
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: "friend.updated", Timestamp: time.Now(), Payload: peerID})
	}
	return nil
}

// QRText renders the local identity id as a compact ASCII QR code
// using Unicode half-block characters.
func (s *Service) QRText() string {
	return renderQR(s.ident.ID())
}

func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := false
			if y+1 < rows {
				bot = bitmap[y+1][x]
			}
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top && !bot:
				sb.WriteRune('▀')
			case !top && bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
