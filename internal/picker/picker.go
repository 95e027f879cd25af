// Package picker provides an interactive fuzzy selector for tunnels, used
// when a command that needs a tunnel name is invoked without one.
package picker

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrCanceled is returned when the user aborts the selection.
var ErrCanceled = errors.New("selection canceled")

// Item is one selectable row.
type Item struct {
	Title string
	Desc  string
}

type pickModel struct {
	prompt   string
	items    []Item
	filtered []int
	sel      int
	filter   string
	choice   int
	canceled bool
}

func newPickModel(prompt string, items []Item) pickModel {
	m := pickModel{prompt: prompt, items: items, choice: -1}
	m.applyFilter()
	return m
}

func (m *pickModel) applyFilter() {
	f := strings.ToLower(strings.TrimSpace(m.filter))
	m.filtered = m.filtered[:0]
	for i, it := range m.items {
		if f == "" || strings.Contains(strings.ToLower(it.Title), f) || strings.Contains(strings.ToLower(it.Desc), f) {
			m.filtered = append(m.filtered, i)
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func (m pickModel) Init() tea.Cmd { return nil }

func (m pickModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc":
		m.canceled = true
		return m, tea.Quit
	case "enter":
		if len(m.filtered) > 0 {
			m.choice = m.filtered[m.sel]
		}
		return m, tea.Quit
	case "down", "ctrl+n":
		if m.sel < len(m.filtered)-1 {
			m.sel++
		}
	case "up", "ctrl+p":
		if m.sel > 0 {
			m.sel--
		}
	case "backspace":
		if len(m.filter) > 0 {
			m.filter = m.filter[:len(m.filter)-1]
			m.applyFilter()
		}
	default:
		if len(key.String()) == 1 {
			m.filter += key.String()
			m.applyFilter()
		}
	}
	return m, nil
}

func (m pickModel) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render(m.prompt)
	var b strings.Builder
	b.WriteString(head + "\n")
	b.WriteString(fmt.Sprintf("Filter: %s\n\n", m.filter))
	for pos, idx := range m.filtered {
		cursor := "  "
		if pos == m.sel {
			cursor = "> "
		}
		line := fmt.Sprintf("%s%-24s %s", cursor, m.items[idx].Title, m.items[idx].Desc)
		if pos == m.sel {
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Render(line)
		}
		b.WriteString(line + "\n")
	}
	if len(m.filtered) == 0 {
		b.WriteString("  (no tunnels matched)\n")
	}
	b.WriteString("\ntype to filter | up/down move | Enter select | Esc cancel\n")
	return b.String()
}

// Pick runs the interactive selector and returns the index of the chosen
// item within items.
func Pick(prompt string, items []Item) (int, error) {
	if len(items) == 0 {
		return 0, errors.New("nothing to select")
	}
	p := tea.NewProgram(newPickModel(prompt, items))
	final, err := p.Run()
	if err != nil {
		return 0, err
	}
	m, ok := final.(pickModel)
	if !ok || m.canceled || m.choice < 0 {
		return 0, ErrCanceled
	}
	return m.choice, nil
}
