// Package wire encodes and parses the delimiter-separated payloads
// exchanged over the broker. The format is inherited from the original
// protocol: colon-delimited fields, with message content allowed to
// contain colons (only the first two delimiters are significant) and
// profile payloads using a pipe between name and avatar.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// BulkID is the correlation field value marking a bulk acknowledgement
// covering every outstanding message from the acknowledging peer.
const BulkID = "ALL"

// ChatMessage is a chat payload: sender, correlation id and content.
type ChatMessage struct {
	SenderID string
	LocalID  int64
	Content  string
}

// Ack is an acknowledgement payload. Bulk acks cover all messages the
// sender received from us that were not already seen; otherwise LocalID
// names the one message being acknowledged. The wire keeps the original
// string disambiguation ("ALL" vs a numeric id); parsing turns it into
// this tagged form.
type Ack struct {
	SenderID string
	Bulk     bool
	LocalID  int64
	Status   string
}

// Typing is a typing indicator payload.
type Typing struct {
	SenderID string
	Active   bool
}

// Profile is a profile payload: display name and optional base64 avatar.
type Profile struct {
	Name   string
	Avatar string
}

// Presence payload literals (published retained).
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// EncodeChat encodes a chat payload as "senderId:localId:content".
func EncodeChat(m ChatMessage) []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", m.SenderID, m.LocalID, m.Content))
}

// ParseChat parses a chat payload. Content may contain colons: only the
// first two delimiters split fields.
func ParseChat(payload []byte) (ChatMessage, error) {
	parts := strings.SplitN(string(payload), ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return ChatMessage{}, fmt.Errorf("malformed chat payload: %q", payload)
	}
	localID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("malformed chat correlation id %q: %w", parts[1], err)
	}
	return ChatMessage{SenderID: parts[0], LocalID: localID, Content: parts[2]}, nil
}

// EncodeAck encodes an acknowledgement as "senderId:localId|ALL:status".
func EncodeAck(a Ack) []byte {
	id := BulkID
	if !a.Bulk {
		id = strconv.FormatInt(a.LocalID, 10)
	}
	return []byte(fmt.Sprintf("%s:%s:%s", a.SenderID, id, a.Status))
}

// ParseAck parses an acknowledgement payload.
func ParseAck(payload []byte) (Ack, error) {
	parts := strings.Split(string(payload), ":")
	if len(parts) != 3 || parts[0] == "" {
		return Ack{}, fmt.Errorf("malformed ack payload: %q", payload)
	}
	a := Ack{SenderID: parts[0], Status: parts[2]}
	switch a.Status {
	case "SENT", "DELIVERED", "SEEN":
	default:
		return Ack{}, fmt.Errorf("unknown ack status %q", parts[2])
	}
	if parts[1] == BulkID {
		a.Bulk = true
		return a, nil
	}
	localID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Ack{}, fmt.Errorf("malformed ack correlation id %q: %w", parts[1], err)
	}
	a.LocalID = localID
	return a, nil
}

// EncodeTyping encodes a typing signal as "senderId:bool".
func EncodeTyping(tp Typing) []byte {
	return []byte(fmt.Sprintf("%s:%t", tp.SenderID, tp.Active))
}

// ParseTyping parses a typing signal.
func ParseTyping(payload []byte) (Typing, error) {
	parts := strings.Split(string(payload), ":")
	if len(parts) != 2 || parts[0] == "" {
		return Typing{}, fmt.Errorf("malformed typing payload: %q", payload)
	}
	return Typing{SenderID: parts[0], Active: parts[1] == "true"}, nil
}

// EncodeProfile encodes a profile payload as "name" or "name|avatar".
// The avatar is omitted entirely when absent.
func EncodeProfile(p Profile) []byte {
	if p.Avatar == "" {
		return []byte(p.Name)
	}
	return []byte(p.Name + "|" + p.Avatar)
}

// ParseProfile parses a profile payload. The first pipe splits name from
// avatar; a name containing a pipe therefore mis-parses. Known fragility
// of the wire format, kept for compatibility.
func ParseProfile(payload []byte) (Profile, error) {
	if len(payload) == 0 {
		return Profile{}, fmt.Errorf("empty profile payload")
	}
	parts := strings.SplitN(string(payload), "|", 2)
	p := Profile{Name: parts[0]}
	if len(parts) == 2 {
		p.Avatar = parts[1]
	}
	return p, nil
}
