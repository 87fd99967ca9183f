package main

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Tap      key.Binding
	SwipeUp  key.Binding
	Open     key.Binding
	Toggle   key.Binding
	Next     key.Binding
	Previous key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tap, k.SwipeUp, k.Toggle, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tap, k.SwipeUp, k.Open},
		{k.Toggle, k.Next, k.Previous},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Tap:      key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "tap")),
	SwipeUp:  key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "swipe up")),
	Open:     key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open player")),
	Toggle:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "play/pause")),
	Next:     key.NewBinding(key.WithKeys("n", "right"), key.WithHelp("n/→", "next")),
	Previous: key.NewBinding(key.WithKeys("b", "left"), key.WithHelp("b/←", "previous")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
	Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}
