// Package wizard implements the interactive add-tunnel form.
package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/util"
)

// ErrCanceled is returned when the user aborts the form.
var ErrCanceled = errors.New("add canceled")

// Field indices for the tunnel form.
const (
	fieldName = iota
	fieldHostName
	fieldUser
	fieldListenPort
	fieldTargetHost
	fieldTargetPort
	fieldGroup
	fieldCount
)

var kinds = []model.ForwardKind{model.ForwardLocal, model.ForwardRemote, model.ForwardDynamic}

type formModel struct {
	fields   []textinput.Model
	focusIdx int
	kindIdx  int
	taken    map[string]bool

	errMsg   string
	result   *model.Tunnel
	canceled bool
}

func newFormModel(taken map[string]bool) formModel {
	placeholders := []string{
		"db-prod (required)",
		"db.internal.example.com (required)",
		"deploy (optional)",
		"5432 (required)",
		"localhost (target host)",
		"5432 (target port)",
		"work (optional group tag)",
	}
	limits := []int{64, 256, 64, 6, 256, 6, 64}

	f := formModel{taken: taken}
	f.fields = make([]textinput.Model, fieldCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 40
		f.fields[i] = ti
	}
	f.fields[0].Focus()
	return f
}

func (f formModel) Init() tea.Cmd {
	return f.fields[0].Cursor.BlinkCmd()
}

// targetFieldsActive reports whether target host/port apply to the current
// forward kind. Dynamic forwards have no fixed target.
func (f formModel) targetFieldsActive() bool {
	return kinds[f.kindIdx] != model.ForwardDynamic
}

func (f formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return f, nil
	}
	switch key.String() {
	case "ctrl+c", "esc":
		f.canceled = true
		return f, tea.Quit
	case "ctrl+k":
		f.kindIdx = (f.kindIdx + 1) % len(kinds)
		if !f.targetFieldsActive() && (f.focusIdx == fieldTargetHost || f.focusIdx == fieldTargetPort) {
			f.fields[f.focusIdx].Blur()
			f.focusIdx = fieldGroup
			f.fields[f.focusIdx].Focus()
		}
		return f, nil
	case "tab", "shift+tab":
		f.fields[f.focusIdx].Blur()
		step := 1
		if key.String() == "shift+tab" {
			step = fieldCount - 1
		}
		for {
			f.focusIdx = (f.focusIdx + step) % fieldCount
			if f.targetFieldsActive() || (f.focusIdx != fieldTargetHost && f.focusIdx != fieldTargetPort) {
				break
			}
		}
		f.fields[f.focusIdx].Focus()
		return f, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "enter":
		t, err := f.buildTunnel()
		if err != nil {
			f.errMsg = err.Error()
			return f, nil
		}
		f.result = &t
		return f, tea.Quit
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return f, cmd
	}
}

func (f formModel) buildTunnel() (model.Tunnel, error) {
	name := strings.TrimSpace(f.fields[fieldName].Value())
	hostname := strings.TrimSpace(f.fields[fieldHostName].Value())
	user := strings.TrimSpace(f.fields[fieldUser].Value())
	group := strings.TrimSpace(f.fields[fieldGroup].Value())

	if name == "" {
		return model.Tunnel{}, fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, " \t*!?") {
		return model.Tunnel{}, fmt.Errorf("name must not contain spaces or pattern characters")
	}
	if f.taken[name] {
		return model.Tunnel{}, fmt.Errorf("tunnel %q already exists", name)
	}
	if hostname == "" {
		return model.Tunnel{}, fmt.Errorf("hostname is required")
	}

	listen, err := parsePortField(f.fields[fieldListenPort].Value(), "listen port")
	if err != nil {
		return model.Tunnel{}, err
	}

	fwd := model.ForwardSpec{Kind: kinds[f.kindIdx], ListenPort: listen}
	if f.targetFieldsActive() {
		target := strings.TrimSpace(f.fields[fieldTargetHost].Value())
		if target == "" {
			target = "localhost"
		}
		tp, err := parsePortField(f.fields[fieldTargetPort].Value(), "target port")
		if err != nil {
			return model.Tunnel{}, err
		}
		fwd.TargetHost = target
		fwd.TargetPort = tp
	}

	return model.Tunnel{
		Name:     name,
		HostName: hostname,
		User:     user,
		Group:    group,
		Forward:  fwd,
	}, nil
}

func parsePortField(s, label string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%s is required", label)
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", label)
	}
	if err := util.ValidatePort(p); err != nil {
		return 0, fmt.Errorf("%s: %w", label, err)
	}
	return p, nil
}

func (f formModel) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")).Render("Add Tunnel")
	labels := []string{"Name:", "HostName:", "User:", "Listen port:", "Target host:", "Target port:", "Group:"}

	var b strings.Builder
	b.WriteString(head + "\n\n")
	b.WriteString(fmt.Sprintf("  Forward kind:  %s  (Ctrl+K to cycle)\n\n", kindLabel(kinds[f.kindIdx])))
	for i, label := range labels {
		if !f.targetFieldsActive() && (i == fieldTargetHost || i == fieldTargetPort) {
			continue
		}
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-14s %s\n", cursor, label, f.fields[i].View()))
	}

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}
	b.WriteString("\nTab/Shift-Tab navigate | Ctrl+K forward kind | Enter save | Esc cancel\n")
	return b.String()
}

func kindLabel(k model.ForwardKind) string {
	switch k {
	case model.ForwardRemote:
		return "remote (RemoteForward)"
	case model.ForwardDynamic:
		return "dynamic (DynamicForward / SOCKS)"
	default:
		return "local (LocalForward)"
	}
}

// Run collects a new tunnel definition interactively. Names in taken are
// rejected as duplicates.
func Run(taken map[string]bool) (model.Tunnel, error) {
	p := tea.NewProgram(newFormModel(taken))
	final, err := p.Run()
	if err != nil {
		return model.Tunnel{}, err
	}
	m, ok := final.(formModel)
	if !ok || m.canceled || m.result == nil {
		return model.Tunnel{}, ErrCanceled
	}
	return *m.result, nil
}
