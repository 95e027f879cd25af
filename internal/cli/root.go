// Package cli provides the command-line interface for mole.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mole-cli/mole/internal/appconfig"
	"github.com/mole-cli/mole/internal/autossh"
	"github.com/mole-cli/mole/internal/autostart"
	"github.com/mole-cli/mole/internal/events"
	"github.com/mole-cli/mole/internal/history"
	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/picker"
	"github.com/mole-cli/mole/internal/proc"
	"github.com/mole-cli/mole/internal/sshconfig"
	"github.com/mole-cli/mole/internal/state"
	"github.com/mole-cli/mole/internal/tunnel"
)

// app bundles the wired services every subcommand needs.
type app struct {
	cfg   appconfig.Config
	store *state.Store
	sup   *tunnel.Supervisor
	auto  *autostart.Manager
}

func newApp() (*app, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = appconfig.Default()
	}
	store, err := state.DefaultStore()
	if err != nil {
		return nil, err
	}
	sup := tunnel.New(store, proc.New(), autossh.New(), events.NewStore(), cfg.HealthTimeout(), int64(cfg.MaxLogSize))
	auto, err := autostart.New(store)
	if err != nil {
		return nil, err
	}
	sup.SetAutostartChecker(auto.IsEnabled)
	return &app{cfg: cfg, store: store, sup: sup, auto: auto}, nil
}

// tunnels parses the declared tunnels from the SSH config.
func (a *app) tunnels() ([]model.Tunnel, error) {
	root, err := a.cfg.SSHConfigPath()
	if err != nil {
		return nil, err
	}
	return sshconfig.Parse(root)
}

func (a *app) find(name string) (model.Tunnel, error) {
	tunnels, err := a.tunnels()
	if err != nil {
		return model.Tunnel{}, err
	}
	for _, t := range tunnels {
		if t.Name == name {
			return t, nil
		}
	}
	return model.Tunnel{}, fmt.Errorf("tunnel not found: %s", name)
}

// selectTargets resolves which tunnels an operation applies to. With no
// name, --all, or --group the user picks one interactively, most recently
// used first.
func (a *app) selectTargets(args []string, all bool, group, prompt string) ([]model.Tunnel, error) {
	tunnels, err := a.tunnels()
	if err != nil {
		return nil, err
	}
	if group != "" {
		var out []model.Tunnel
		for _, t := range tunnels {
			if t.Group == group {
				out = append(out, t)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no tunnels in group: %s", group)
		}
		return out, nil
	}
	if all {
		if len(tunnels) == 0 {
			return nil, errors.New("no tunnels declared in SSH config")
		}
		return tunnels, nil
	}
	if len(args) > 0 {
		var out []model.Tunnel
		for _, name := range args {
			t, err := a.find(name)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	t, err := a.pickOne(tunnels, prompt)
	if err != nil {
		return nil, err
	}
	return []model.Tunnel{t}, nil
}

func (a *app) pickOne(tunnels []model.Tunnel, prompt string) (model.Tunnel, error) {
	if len(tunnels) == 0 {
		return model.Tunnel{}, errors.New("no tunnels declared in SSH config")
	}
	lastUsed, err := history.LastUsed()
	if err != nil {
		lastUsed = map[string]int64{}
	}
	ordered := history.SortTunnelsRecent(tunnels, lastUsed)
	items := make([]picker.Item, len(ordered))
	for i, t := range ordered {
		items[i] = picker.Item{Title: t.Name, Desc: fmt.Sprintf("%s  %s", t.DisplayTarget(), t.Forward.String())}
	}
	idx, err := picker.Pick(prompt, items)
	if err != nil {
		return model.Tunnel{}, err
	}
	return ordered[idx], nil
}

func (a *app) touch(names ...string) {
	for _, name := range names {
		if err := history.Touch(name); err != nil {
			slog.Warn("failed to record tunnel history", "tunnel", name, "error", err)
		}
	}
}

// completeTunnelNames offers declared tunnel names for shell completion.
func (a *app) completeTunnelNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	tunnels, err := a.tunnels()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var names []string
	for _, t := range tunnels {
		if strings.HasPrefix(t.Name, toComplete) {
			names = append(names, fmt.Sprintf("%s\t%s", t.Name, t.DisplayTarget()))
		}
	}
	sort.Strings(names)
	return names, cobra.ShellCompDirectiveNoFileComp
}

// completeGroupNames offers declared group tags for --group completion.
func (a *app) completeGroupNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	tunnels, err := a.tunnels()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	seen := map[string]bool{}
	var groups []string
	for _, t := range tunnels {
		if t.Group == "" || seen[t.Group] || !strings.HasPrefix(t.Group, toComplete) {
			continue
		}
		seen[t.Group] = true
		groups = append(groups, t.Group)
	}
	sort.Strings(groups)
	return groups, cobra.ShellCompDirectiveNoFileComp
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() (*cobra.Command, error) {
	a, err := newApp()
	if err != nil {
		return nil, err
	}

	root := &cobra.Command{
		Use:           "mole",
		Short:         "Declarative SSH tunnel manager driven by ~/.ssh/config",
		Long:          "mole keeps long-lived SSH tunnels declared in ~/.ssh/config running,\nadopting externally started ones and cleaning up after dead processes.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newUpCmd(a),
		newDownCmd(a),
		newRestartCmd(a),
		newListCmd(a),
		newCheckCmd(a),
		newAddCmd(a),
		newEditCmd(a),
		newLogsCmd(a),
		newEventsCmd(a),
		newEnableCmd(a),
		newDisableCmd(a),
		newRenameCmd(a),
		newRemoveCmd(a),
		newConfigCmd(a),
		newDoctorCmd(a),
	)
	for _, cmd := range root.Commands() {
		if cmd.Flags().Lookup("group") != nil {
			_ = cmd.RegisterFlagCompletionFunc("group", a.completeGroupNames)
		}
	}
	return root, nil
}
