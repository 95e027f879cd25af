// Package autostart manages boot-time tunnel startup through launchd
// agents. Each enabled tunnel gets a com.mole.<name>.plist under the user's
// LaunchAgents directory.
package autostart

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mole-cli/mole/internal/autossh"
	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/state"
)

const labelPrefix = "com.mole."

// Manager writes and loads launchd agents for tunnels.
type Manager struct {
	agentsDir string
	store     *state.Store
}

// New creates a manager using the default per-user LaunchAgents directory.
func New(store *state.Store) (*Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Manager{
		agentsDir: filepath.Join(home, "Library", "LaunchAgents"),
		store:     store,
	}, nil
}

// NewWithDir creates a manager rooted at an explicit agents directory.
func NewWithDir(dir string, store *state.Store) *Manager {
	return &Manager{agentsDir: dir, store: store}
}

func label(name string) string {
	return labelPrefix + name
}

func (m *Manager) plistPath(name string) string {
	return filepath.Join(m.agentsDir, label(name)+".plist")
}

// IsEnabled reports whether a launchd agent exists for the tunnel.
func (m *Manager) IsEnabled(name string) bool {
	_, err := os.Stat(m.plistPath(name))
	return err == nil
}

// Enabled returns the names of all tunnels with an agent installed.
func (m *Manager) Enabled() ([]string, error) {
	entries, err := os.ReadDir(m.agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		base := e.Name()
		if !strings.HasPrefix(base, labelPrefix) || !strings.HasSuffix(base, ".plist") {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(base, labelPrefix), ".plist"))
	}
	return names, nil
}

// Enable writes the agent plist for a tunnel and loads it into launchd.
// launchd then owns restarts; the plist points at the same autossh
// invocation the supervisor uses, so reconciliation can adopt the process.
func (m *Manager) Enable(t model.Tunnel) error {
	bin, err := autossh.BinaryPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.agentsDir, 0o755); err != nil {
		return err
	}
	path := m.plistPath(t.Name)
	if err := os.WriteFile(path, []byte(m.renderPlist(t, bin)), 0o644); err != nil {
		return fmt.Errorf("write agent plist: %w", err)
	}
	if err := launchctl("load", "-w", path); err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	return nil
}

// Disable unloads and removes the agent for a tunnel. Missing agents are
// not an error.
func (m *Manager) Disable(name string) error {
	path := m.plistPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := launchctl("unload", "-w", path); err != nil {
		return fmt.Errorf("unload agent: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Rename moves an agent from one tunnel name to another, reloading it so
// launchd tracks the new label.
func (m *Manager) Rename(t model.Tunnel, oldName string) error {
	if !m.IsEnabled(oldName) {
		return nil
	}
	if err := m.Disable(oldName); err != nil {
		return err
	}
	return m.Enable(t)
}

func (m *Manager) renderPlist(t model.Tunnel, binPath string) string {
	logPath := m.store.LogPath(t.Name)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	b.WriteString(`<plist version="1.0">` + "\n<dict>\n")
	fmt.Fprintf(&b, "  <key>Label</key>\n  <string>%s</string>\n", label(t.Name))
	b.WriteString("  <key>ProgramArguments</key>\n  <array>\n")
	fmt.Fprintf(&b, "    <string>%s</string>\n", binPath)
	for _, arg := range autossh.Args(t.Name) {
		fmt.Fprintf(&b, "    <string>%s</string>\n", arg)
	}
	b.WriteString("  </array>\n")
	b.WriteString("  <key>EnvironmentVariables</key>\n  <dict>\n")
	for _, kv := range autossh.Env() {
		k, v, _ := strings.Cut(kv, "=")
		fmt.Fprintf(&b, "    <key>%s</key>\n    <string>%s</string>\n", k, v)
	}
	b.WriteString("  </dict>\n")
	b.WriteString("  <key>RunAtLoad</key>\n  <true/>\n")
	b.WriteString("  <key>KeepAlive</key>\n  <dict>\n    <key>SuccessfulExit</key>\n    <false/>\n  </dict>\n")
	fmt.Fprintf(&b, "  <key>StandardErrorPath</key>\n  <string>%s</string>\n", logPath)
	fmt.Fprintf(&b, "  <key>StandardOutPath</key>\n  <string>%s</string>\n", logPath)
	b.WriteString("</dict>\n</plist>\n")
	return b.String()
}

func launchctl(args ...string) error {
	cmd := exec.Command("launchctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("launchctl %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
