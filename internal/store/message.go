package store

import (
	"errors"
	"time"
)

// ErrDuplicateMessage is returned by InsertMessage when a message with
// the same correlation token was already stored. At-least-once delivery
// makes duplicates routine on resend; callers treat this as success
// minus the insert.
var ErrDuplicateMessage = errors.New("message already stored")

// InsertMessage appends a message and returns the store-assigned local
// id. The unique index on uuid makes the insert idempotent: a duplicate
// returns ErrDuplicateMessage and leaves the stored row untouched.
func (db *DB) InsertMessage(m *Message) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (sender_id, receiver_id, content, timestamp, from_me, status, uuid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO NOTHING`,
		m.SenderID, m.ReceiverID, m.Content, m.Timestamp, m.FromMe, m.Status, m.UUID, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrDuplicateMessage
	}
	return res.LastInsertId()
}

// ListMessagesWith returns the full conversation with a peer, ascending
// by timestamp.
func (db *DB) ListMessagesWith(peerID, selfID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, sender_id, receiver_id, content, timestamp, from_me, status, uuid
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY timestamp ASC, id ASC`,
		peerID, selfID, selfID, peerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.FromMe, &m.Status, &m.UUID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SetMessageStatus advances a message's status. Statuses are ranked
// PENDING < SENT < DELIVERED < SEEN and the update only applies when
// the new status ranks strictly higher than the current one, so a
// racing SENT confirmation can never downgrade a DELIVERED or SEEN
// message. The comparison runs inside a single UPDATE statement, which
// makes the read-modify-write atomic per row. The returned bool reports
// whether the row actually changed.
func (db *DB) SetMessageStatus(id int64, status MessageStatus) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE id = ?
		AND (CASE status WHEN 'PENDING' THEN 0 WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'SEEN' THEN 3 ELSE -1 END)
		  < (CASE ?      WHEN 'PENDING' THEN 0 WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'SEEN' THEN 3 ELSE -1 END)`,
		status, id, status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// BulkSetStatusForSender advances the status of every message sent by
// selfID to peerID that is not already SEEN. Used for bulk "ALL" acks.
// Returns the number of rows changed.
func (db *DB) BulkSetStatusForSender(peerID, selfID string, status MessageStatus) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE sender_id = ? AND receiver_id = ? AND status != 'SEEN'
		AND (CASE status WHEN 'PENDING' THEN 0 WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'SEEN' THEN 3 ELSE -1 END)
		  < (CASE ?      WHEN 'PENDING' THEN 0 WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'SEEN' THEN 3 ELSE -1 END)`,
		status, selfID, peerID, status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UndeliveredOutgoing returns every locally originated message still at
// PENDING or SENT, the resend-sweep snapshot.
func (db *DB) UndeliveredOutgoing(selfID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, sender_id, receiver_id, content, timestamp, from_me, status, uuid
		FROM messages
		WHERE status IN ('PENDING', 'SENT') AND sender_id = ?
		ORDER BY id ASC`, selfID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.FromMe, &m.Status, &m.UUID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkAllSeenFrom marks every received message from peerID as SEEN.
// Already-seen rows are untouched.
func (db *DB) MarkAllSeenFrom(peerID, selfID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = 'SEEN'
		WHERE sender_id = ? AND receiver_id = ? AND status != 'SEEN'`,
		peerID, selfID)
	return err
}
