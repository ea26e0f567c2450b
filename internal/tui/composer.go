package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// composer is the text input for sending messages. It reports typing
// state transitions: true when the draft goes empty to non-empty, false
// when it goes back to empty or is sent.
type composer struct {
	*tview.InputField
	onSend   func(text string)
	onTyping func(active bool)
	wasEmpty bool
}

func newComposer() *composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &composer{InputField: input, wasEmpty: true}

	input.SetChangedFunc(func(text string) {
		empty := text == ""
		if empty != c.wasEmpty && c.onTyping != nil {
			c.onTyping(!empty)
		}
		c.wasEmpty = empty
	})

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && c.onSend != nil {
			text := c.GetText()
			if text != "" {
				c.onSend(text)
				c.SetText("")
			}
		}
	})

	return c
}

// SetOnSend sets the callback when a message is sent.
func (c *composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnTyping sets the callback for typing state transitions.
func (c *composer) SetOnTyping(fn func(active bool)) {
	c.onTyping = fn
}

// Reset clears the draft without firing a typing transition.
func (c *composer) Reset() {
	c.wasEmpty = true
	c.SetText("")
}
