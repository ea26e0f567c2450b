package store

import "database/sql"

// InsertFriendIgnoringConflict creates a friend row if none exists for
// the id. An existing row is never overwritten: creation on first
// contact must not clobber presence or profile state learned earlier.
func (db *DB) InsertFriendIgnoringConflict(f *Friend) error {
	_, err := db.Exec(`
		INSERT INTO friends (id, name, is_online, last_seen, is_typing, profile_pic, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		f.ID, f.Name, f.IsOnline, f.LastSeen, f.IsTyping, f.ProfilePic, f.LastMessageAt)
	return err
}

// UpdateFriendPresence sets the online flag and last-seen timestamp.
func (db *DB) UpdateFriendPresence(id string, online bool, lastSeen int64) error {
	_, err := db.Exec(`UPDATE friends SET is_online = ?, last_seen = ? WHERE id = ?`, online, lastSeen, id)
	return err
}

// UpdateFriendTyping sets the typing indicator flag.
func (db *DB) UpdateFriendTyping(id string, typing bool) error {
	_, err := db.Exec(`UPDATE friends SET is_typing = ? WHERE id = ?`, typing, id)
	return err
}

// UpdateFriendName sets the display name learned from a profile publish.
func (db *DB) UpdateFriendName(id, name string) error {
	_, err := db.Exec(`UPDATE friends SET name = ? WHERE id = ?`, name, id)
	return err
}

// UpdateFriendPic sets the avatar payload learned from a profile publish.
func (db *DB) UpdateFriendPic(id, pic string) error {
	_, err := db.Exec(`UPDATE friends SET profile_pic = ? WHERE id = ?`, pic, id)
	return err
}

// TouchFriendLastMessageTime advances the conversation-ordering
// timestamp. It never moves backwards, so out-of-order delivery cannot
// reorder the friend list incorrectly.
func (db *DB) TouchFriendLastMessageTime(id string, ts int64) error {
	_, err := db.Exec(`UPDATE friends SET last_message_at = MAX(last_message_at, ?) WHERE id = ?`, ts, id)
	return err
}

// ListFriends returns all friends ordered by most recent conversation.
func (db *DB) ListFriends() ([]Friend, error) {
	rows, err := db.Query(`
		SELECT id, name, is_online, last_seen, is_typing, profile_pic, last_message_at
		FROM friends
		ORDER BY last_message_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var friends []Friend
	for rows.Next() {
		var f Friend
		if err := rows.Scan(&f.ID, &f.Name, &f.IsOnline, &f.LastSeen, &f.IsTyping, &f.ProfilePic, &f.LastMessageAt); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// GetFriend returns a single friend by id, or nil if unknown.
func (db *DB) GetFriend(id string) (*Friend, error) {
	var f Friend
	err := db.QueryRow(`
		SELECT id, name, is_online, last_seen, is_typing, profile_pic, last_message_at
		FROM friends WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.IsOnline, &f.LastSeen, &f.IsTyping, &f.ProfilePic, &f.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
