package tui

import (
	"time"

	"github.com/nifad2005/bjm/internal/store"
	"github.com/rivo/tview"
)

// friendList is the main friends table.
type friendList struct {
	*tview.Table
	friends    []store.Friend
	selectedFn func() (int, int)
}

func newFriendList() *friendList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Friends ")

	fl := &friendList{Table: table}
	fl.selectedFn = table.GetSelection
	return fl
}

// Update refreshes the table with a fresh snapshot.
func (fl *friendList) Update(friends []store.Friend) {
	fl.friends = friends
	fl.Clear()

	fl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	fl.SetCell(0, 1, tview.NewTableCell(" Status").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	fl.SetCell(0, 2, tview.NewTableCell(" Last").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, f := range friends {
		row := i + 1
		name := f.Name
		if name == "" {
			name = f.ID
		}

		status := "[grey]offline[-]"
		switch {
		case f.IsTyping:
			status = "[green]typing...[-]"
		case f.IsOnline:
			status = "[green]online[-]"
		}

		fl.SetCell(row, 0, tview.NewTableCell(" "+sanitizeForTerminal(name)).SetMaxWidth(30).SetExpansion(1))
		fl.SetCell(row, 1, tview.NewTableCell(" "+status).SetMaxWidth(12))
		fl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(f.LastMessageAt)).SetMaxWidth(12))
	}
}

// Selected returns the id of the currently selected friend.
func (fl *friendList) Selected() string {
	row, _ := fl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(fl.friends) {
		return fl.friends[idx].ID
	}
	return ""
}

// NameOf resolves a friend id to its display name from the last snapshot.
func (fl *friendList) NameOf(id string) string {
	for _, f := range fl.friends {
		if f.ID == id && f.Name != "" {
			return f.Name
		}
	}
	return id
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
