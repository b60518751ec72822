package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Open      key.Binding
	Back      key.Binding
	New       key.Binding
	Rename    key.Binding
	Delete    key.Binding
	Record    key.Binding
	Note      key.Binding
	Copy      key.Binding
	Refresh   key.Binding
	Help      key.Binding
	Quit      key.Binding
	ForceQuit key.Binding

	Submit key.Binding
	Cancel key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Open:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		Back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		New:       key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new thread")),
		Rename:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "rename")),
		Delete:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		Record:    key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "record/stop")),
		Note:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add note")),
		Copy:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy transcript")),
		Refresh:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c")),
		Submit:    key.NewBinding(key.WithKeys("enter")),
		Cancel:    key.NewBinding(key.WithKeys("esc")),
	}
}

// threadKeys and messageKeys implement help.KeyMap for each view.
type threadKeys struct{ k keyMap }

func (t threadKeys) ShortHelp() []key.Binding {
	return []key.Binding{t.k.Open, t.k.New, t.k.Refresh, t.k.Help, t.k.Quit}
}

func (t threadKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{t.k.Up, t.k.Down, t.k.Open},
		{t.k.New, t.k.Rename, t.k.Delete},
		{t.k.Refresh, t.k.Help, t.k.Quit},
	}
}

type messageKeys struct{ k keyMap }

func (m messageKeys) ShortHelp() []key.Binding {
	return []key.Binding{m.k.Record, m.k.Note, m.k.Copy, m.k.Back, m.k.Help}
}

func (m messageKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.k.Up, m.k.Down, m.k.Back},
		{m.k.Record, m.k.Note, m.k.Copy},
		{m.k.Delete, m.k.Rename, m.k.Refresh},
		{m.k.Help, m.k.Quit},
	}
}
