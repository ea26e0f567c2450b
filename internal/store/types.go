package store

// MessageStatus is the delivery status of a message. Transitions are
// forward-only: PENDING -> SENT -> DELIVERED -> SEEN. Stages may be
// skipped when acks race ahead of the local publish confirmation, but a
// status never moves backwards.
type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusSeen      MessageStatus = "SEEN"
)

// Friend represents a known peer.
type Friend struct {
	ID            string
	Name          string
	IsOnline      bool
	LastSeen      int64
	IsTyping      bool
	ProfilePic    string
	LastMessageAt int64
}

// Message represents one stored chat message. Rows are append-only;
// only the status field is ever updated. UUID is the duplicate-insert
// correlation token (unique index), distinct from the store-assigned ID
// used for acknowledgement correlation.
type Message struct {
	ID         int64
	SenderID   string
	ReceiverID string
	Content    string
	Timestamp  int64
	FromMe     bool
	Status     MessageStatus
	UUID       string
}
