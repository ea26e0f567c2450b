package wire

// Topics builds the per-identity topic addresses. Chat, typing and ack
// are addressed to the receiving identity; presence and profile are
// retained addresses owned by the publishing identity.
type Topics struct {
	Prefix string
}

func (t Topics) Chat(id string) string     { return t.Prefix + "/chat/" + id }
func (t Topics) Typing(id string) string   { return t.Prefix + "/typing/" + id }
func (t Topics) Ack(id string) string      { return t.Prefix + "/ack/" + id }
func (t Topics) Presence(id string) string { return t.Prefix + "/presence/" + id }
func (t Topics) Profile(id string) string  { return t.Prefix + "/profile/" + id }
