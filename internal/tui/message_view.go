package tui

import (
	"fmt"

	"github.com/nifad2005/bjm/internal/store"
	"github.com/rivo/tview"
)

// messageView displays the conversation with a single friend.
type messageView struct {
	*tview.TextView
}

func newMessageView() *messageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &messageView{TextView: tv}
}

// SetPeerName updates the title with the friend's display name.
func (mv *messageView) SetPeerName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// Update refreshes the view with a conversation snapshot, oldest first.
func (mv *messageView) Update(msgs []store.Message) {
	mv.Clear()

	for _, m := range msgs {
		sender := m.SenderID
		marker := ""
		if m.FromMe {
			sender = "You"
			marker = " " + statusMarker(m.Status)
		}
		ts := formatTimestamp(m.Timestamp)
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s%s[-:-:-]\n%s\n\n",
			sanitizeForTerminal(sender), ts, marker, sanitizeForTerminal(m.Content))
		_, _ = fmt.Fprint(mv, line)
	}

	mv.ScrollToEnd()
}

// statusMarker renders the delivery stage of an outgoing message.
func statusMarker(s store.MessageStatus) string {
	switch s {
	case store.StatusPending:
		return "[grey]o[-]"
	case store.StatusSent:
		return "[grey]v[-]"
	case store.StatusDelivered:
		return "[grey]vv[-]"
	case store.StatusSeen:
		return "[blue]vv[-]"
	default:
		return ""
	}
}
