package tui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// statusBar displays identity, connection state and flash messages.
type statusBar struct {
	*tview.TextView
	identity string
	state    string
	flash    string
}

func newStatusBar() *statusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &statusBar{TextView: tv}
}

// SetIdentity updates the identity display.
func (sb *statusBar) SetIdentity(id string) {
	sb.identity = id
	sb.render()
}

// SetState updates the connection state display.
func (sb *statusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *statusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *statusBar) render() {
	sb.Clear()

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.identity, sb.state, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sanitizeForTerminal(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
