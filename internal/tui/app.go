// Package tui is the terminal front end: a friends table, a per-friend
// conversation view with a composer, and a pairing view showing the
// local identity as a QR code. All data arrives through store feeds and
// bus events; the widgets never touch the database directly.
package tui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/nifad2005/bjm/internal/bus"
	"github.com/nifad2005/bjm/internal/engine"
	"github.com/nifad2005/bjm/internal/feed"
	"github.com/nifad2005/bjm/internal/identity"
	"github.com/nifad2005/bjm/internal/pairing"
	"github.com/nifad2005/bjm/internal/status"
	"github.com/nifad2005/bjm/internal/store"
	"github.com/rivo/tview"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	friends  *friendList
	msgView  *messageView
	composer *composer
	pairView *tview.TextView
	addInput *tview.InputField
	profile  *tview.Form
	bar      *statusBar
	flash    flash

	eng     *engine.Engine
	feeds   *feed.Feed
	pair    *pairing.Service
	ident   *identity.Store
	bus     *bus.Bus
	machine *status.Machine

	ctx        context.Context
	cancel     context.CancelFunc
	activePeer string
	cancelMsgs context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(eng *engine.Engine, feeds *feed.Feed, pair *pairing.Service, ident *identity.Store, b *bus.Bus, machine *status.Machine) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:      tview.NewApplication(),
		pages:    tview.NewPages(),
		friends:  newFriendList(),
		msgView:  newMessageView(),
		composer: newComposer(),
		bar:      newStatusBar(),
		eng:      eng,
		feeds:    feeds,
		pair:     pair,
		ident:    ident,
		bus:      b,
		machine:  machine,
		ctx:      ctx,
		cancel:   cancel,
	}

	a.pairView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.pairView.SetBorder(true).SetTitle(" Your ID ")

	a.addInput = tview.NewInputField().
		SetLabel(" Friend ID: ").
		SetFieldWidth(40)

	a.buildProfileForm()

	a.bar.SetIdentity(ident.ID())
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.friends.SetSelectedFunc(func(row, col int) {
		if id := a.friends.Selected(); id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		peer := a.activePeer
		if peer == "" {
			return
		}
		go func() {
			a.eng.SendTyping(peer, false)
			if _, err := a.eng.SendMessage(peer, text); err != nil {
				a.flash.Set("Send failed: "+err.Error(), 5*time.Second)
				a.app.QueueUpdateDraw(func() { a.bar.SetFlash(a.flash.Get()) })
			}
		}()
	})

	a.composer.SetOnTyping(func(active bool) {
		peer := a.activePeer
		if peer == "" {
			return
		}
		go a.eng.SendTyping(peer, active)
	})

	a.addInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		id := a.addInput.GetText()
		a.addInput.SetText("")
		go func() {
			if err := a.pair.Add(id); err != nil {
				a.flash.Set("Add failed: "+err.Error(), 5*time.Second)
			} else {
				a.flash.Set("Friend added", 3*time.Second)
			}
			a.app.QueueUpdateDraw(func() {
				a.bar.SetFlash(a.flash.Get())
				a.pages.SwitchToPage("friends")
				a.app.SetFocus(a.friends)
			})
		}()
	})
}

// buildProfileForm creates the profile editor. Saving persists the
// identity, which the session controller picks up and republishes as a
// retained profile payload.
func (a *App) buildProfileForm() {
	name, _ := a.ident.Profile()
	form := tview.NewForm().
		AddInputField("Name", name, 30, nil, nil).
		AddInputField("Avatar file (optional)", "", 40, nil, nil)
	form.SetBorder(true).SetTitle(" Profile ")

	form.AddButton("Save", func() {
		newName := form.GetFormItemByLabel("Name").(*tview.InputField).GetText()
		avatarPath := form.GetFormItemByLabel("Avatar file (optional)").(*tview.InputField).GetText()
		go func() {
			_, avatar := a.ident.Profile()
			if avatarPath != "" {
				raw, err := os.ReadFile(avatarPath)
				if err == nil {
					avatar, err = identity.EncodeAvatar(raw)
				}
				if err != nil {
					a.flash.Set("Avatar failed: "+err.Error(), 5*time.Second)
					a.app.QueueUpdateDraw(func() { a.bar.SetFlash(a.flash.Get()) })
					return
				}
			}
			if err := a.ident.SetProfile(newName, avatar); err != nil {
				a.flash.Set("Profile save failed: "+err.Error(), 5*time.Second)
			} else {
				a.flash.Set("Profile updated", 3*time.Second)
			}
			a.app.QueueUpdateDraw(func() {
				a.bar.SetFlash(a.flash.Get())
				a.pages.SwitchToPage("friends")
				a.app.SetFocus(a.friends)
			})
		}()
	})
	form.AddButton("Cancel", func() {
		a.pages.SwitchToPage("friends")
		a.app.SetFocus(a.friends)
	})

	a.profile = form
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	addFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.addInput, 3, 0, true).
		AddItem(tview.NewBox(), 0, 1, false)

	a.pages.AddPage("friends", a.friends, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("pair", a.pairView, true, false)
	a.pages.AddPage("add", addFlex, true, false)
	a.pages.AddPage("profile", a.profile, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.bar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat", "pair", "add", "profile":
				a.closeChat()
				a.pages.SwitchToPage("friends")
				a.app.SetFocus(a.friends)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if currentPage == "friends" && event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.Stop()
				return nil
			case 'i':
				a.showPairView()
				return nil
			case 'a':
				a.pages.SwitchToPage("add")
				a.app.SetFocus(a.addInput)
				return nil
			case 'p':
				a.pages.SwitchToPage("profile")
				a.app.SetFocus(a.profile)
				return nil
			}
		}

		return event
	})
}

// openChat switches to the conversation page and starts following its
// snapshot feed. Unseen inbound messages are acknowledged as seen once
// the conversation is on screen.
func (a *App) openChat(peerID string) {
	a.closeChat()
	a.activePeer = peerID

	ctx, cancel := context.WithCancel(a.ctx)
	a.cancelMsgs = cancel

	a.msgView.SetPeerName(a.friends.NameOf(peerID))
	a.pages.SwitchToPage("chat")
	a.composer.Reset()
	a.app.SetFocus(a.composer.InputField)

	ch := a.feeds.ObserveMessages(ctx, peerID, a.ident.ID())
	go func() {
		for msgs := range ch {
			snapshot := msgs
			a.app.QueueUpdateDraw(func() {
				a.msgView.Update(snapshot)
			})
			if hasUnseenInbound(snapshot, peerID) {
				_ = a.eng.MarkAsSeen(peerID)
			}
		}
	}()
}

func (a *App) closeChat() {
	if a.cancelMsgs != nil {
		a.cancelMsgs()
		a.cancelMsgs = nil
	}
	a.activePeer = ""
}

// hasUnseenInbound reports whether the snapshot still contains inbound
// messages not yet marked seen. Guards the mark-seen call so it does
// not re-fire on its own status-change echo.
func hasUnseenInbound(msgs []store.Message, peerID string) bool {
	for _, m := range msgs {
		if !m.FromMe && m.SenderID == peerID && m.Status != store.StatusSeen {
			return true
		}
	}
	return false
}

func (a *App) showPairView() {
	a.pairView.Clear()
	_, _ = fmt.Fprintf(a.pairView, "\n  Share this ID with a friend:\n\n  [::b]%s[-:-:-]\n\n%s\n  [::d]Press Esc to go back", a.ident.ID(), a.pair.QRText())
	a.pages.SwitchToPage("pair")
	a.app.SetFocus(a.pairView)
}

// Run starts the TUI application and blocks until it stops.
func (a *App) Run() error {
	friendCh := a.feeds.ObserveFriends(a.ctx)
	go func() {
		for friends := range friendCh {
			snapshot := friends
			a.app.QueueUpdateDraw(func() {
				a.friends.Update(snapshot)
			})
		}
	}()

	evtCh, unsub := a.bus.Subscribe(64, "notify.", "session.")
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-evtCh:
				a.handleEvent(evt)
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.startRefreshLoop()
	a.bar.SetState(string(a.machine.Current()))

	return a.app.Run()
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "notify.message":
		n, ok := evt.Payload.(map[string]string)
		if !ok {
			return
		}
		// No flash while that conversation is already on screen.
		if n["sender"] == a.activePeer {
			return
		}
		a.flash.Set(fmt.Sprintf("%s: %s", a.friends.NameOf(n["sender"]), n["content"]), 5*time.Second)
		a.app.QueueUpdateDraw(func() { a.bar.SetFlash(a.flash.Get()) })
	case "notify.update":
		msg, ok := evt.Payload.(string)
		if !ok {
			return
		}
		a.flash.Set(msg, 10*time.Second)
		a.app.QueueUpdateDraw(func() { a.bar.SetFlash(a.flash.Get()) })
	case "session.status_changed":
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() { a.bar.SetState(string(change.To)) })
	}
}

// startRefreshLoop keeps the clock and flash expiry current.
func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.app.QueueUpdateDraw(func() {
					a.bar.SetFlash(a.flash.Get())
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
