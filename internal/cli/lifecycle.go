package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/tunnel"
)

func newUpCmd(a *app) *cobra.Command {
	var all bool
	var group string
	var persist bool
	cmd := &cobra.Command{
		Use:               "up [name...]",
		Short:             "Start tunnels",
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := a.selectTargets(args, all, group, "Start which tunnel?")
			if err != nil {
				return err
			}
			if persist {
				for _, t := range targets {
					if err := a.auto.Enable(t); err != nil {
						return err
					}
					a.touch(t.Name)
					fmt.Printf("enabled %s at login; launchd is starting it\n", t.Name)
				}
				return nil
			}
			return reportResults(a.sup.StartMany(targets), func(r tunnel.OpResult) {
				a.touch(r.Tunnel.Name)
				line := fmt.Sprintf("started %s pid=%d %s", r.Tunnel.Name, r.State.PID, r.Tunnel.Forward)
				if r.State.Note != "" {
					line += " (" + r.State.Note + ")"
				}
				fmt.Println(line)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "start every declared tunnel")
	cmd.Flags().StringVar(&group, "group", "", "start all tunnels in a group")
	cmd.Flags().BoolVar(&persist, "persist", false, "start via launchd so the tunnel survives reboots")
	return cmd
}

func newDownCmd(a *app) *cobra.Command {
	var all bool
	var group string
	cmd := &cobra.Command{
		Use:               "down [name...]",
		Short:             "Stop tunnels",
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := a.selectTargets(args, all, group, "Stop which tunnel?")
			if err != nil {
				return err
			}
			return reportResults(a.sup.StopMany(targets), func(r tunnel.OpResult) {
				if r.State.Note != "" {
					fmt.Printf("%s %s\n", r.Tunnel.Name, r.State.Note)
					return
				}
				fmt.Printf("stopped %s\n", r.Tunnel.Name)
				if a.auto.IsEnabled(r.Tunnel.Name) {
					fmt.Printf("  note: %s is enabled at login; launchd may restart it (`mole disable %s`)\n",
						r.Tunnel.Name, r.Tunnel.Name)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "stop every declared tunnel")
	cmd.Flags().StringVar(&group, "group", "", "stop all tunnels in a group")
	return cmd
}

func newRestartCmd(a *app) *cobra.Command {
	var all bool
	var group string
	cmd := &cobra.Command{
		Use:               "restart [name...]",
		Short:             "Restart tunnels",
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := a.selectTargets(args, all, group, "Restart which tunnel?")
			if err != nil {
				return err
			}
			return reportResults(a.sup.RestartMany(targets), func(r tunnel.OpResult) {
				a.touch(r.Tunnel.Name)
				fmt.Printf("restarted %s pid=%d\n", r.Tunnel.Name, r.State.PID)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "restart every declared tunnel")
	cmd.Flags().StringVar(&group, "group", "", "restart all tunnels in a group")
	return cmd
}

// reportResults prints per-tunnel outcomes and returns an error when any
// tunnel failed. Starting an already-running tunnel counts as success.
func reportResults(results []tunnel.OpResult, onOK func(tunnel.OpResult)) error {
	failed := 0
	for _, r := range results {
		switch {
		case r.Err == nil:
			onOK(r)
		case errors.Is(r.Err, tunnel.ErrAlreadyRunning):
			fmt.Printf("%s is already running (pid %d)\n", r.Tunnel.Name, r.State.PID)
		default:
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Tunnel.Name, r.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tunnels failed", failed, len(results))
	}
	return nil
}

func statusLabel(r model.Reconciled) string {
	switch r.Status {
	case model.StatusActive:
		return "active"
	case model.StatusAdopted:
		return "adopted"
	default:
		return "inactive"
	}
}
