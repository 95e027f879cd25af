package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mole-cli/mole/internal/doctor"
	"github.com/mole-cli/mole/internal/health"
	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/proc"
	"github.com/mole-cli/mole/internal/util"
)

func newListCmd(a *app) *cobra.Command {
	var jsonOut bool
	var group string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "status"},
		Short:   "Show declared tunnels and their live status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tunnels, err := a.tunnels()
			if err != nil {
				return err
			}
			if group != "" {
				filtered := tunnels[:0]
				for _, t := range tunnels {
					if t.Group == group {
						filtered = append(filtered, t)
					}
				}
				tunnels = filtered
			}
			rows := a.sup.Reconcile(tunnels)
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			fmt.Printf("%-20s %-26s %-22s %-10s %-10s %-8s %-10s %-5s\n",
				"NAME", "TARGET", "FORWARD", "GROUP", "STATUS", "PID", "UPTIME", "AUTO")
			for _, r := range rows {
				pid := "-"
				if r.PID > 0 {
					pid = fmt.Sprintf("%d", r.PID)
				}
				auto := "-"
				if r.AutoStart {
					auto = "yes"
				}
				fmt.Printf("%-20s %-26s %-22s %-10s %-10s %-8s %-10s %-5s\n",
					r.Tunnel.Name,
					r.Tunnel.DisplayTarget(),
					r.Tunnel.Forward.String(),
					util.EmptyDash(r.Tunnel.Group),
					statusLabel(r),
					pid,
					util.EmptyDash(r.Uptime),
					auto)
				if r.Note != "" {
					fmt.Printf("  %s\n", r.Note)
				}
			}
			if len(rows) == 0 {
				fmt.Println("no tunnels declared; add one with `mole add`")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().StringVar(&group, "group", "", "only show tunnels in a group")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var group string
	var failUnhealthy bool
	cmd := &cobra.Command{
		Use:               "check [name...]",
		Short:             "Probe the local endpoints of running tunnels",
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []model.Tunnel
			var err error
			if len(args) == 0 && group == "" {
				targets, err = a.tunnels()
			} else {
				targets, err = a.selectTargets(args, false, group, "Check which tunnel?")
			}
			if err != nil {
				return err
			}

			unhealthy := 0
			for _, r := range a.sup.Reconcile(targets) {
				if !r.Running() {
					fmt.Printf("%-20s inactive\n", r.Tunnel.Name)
					continue
				}
				res := health.Check(r.Tunnel.Forward, a.cfg.HealthTimeout())
				fmt.Printf("%-20s %s (pid %d, %s)\n", r.Tunnel.Name, res, r.PID, r.Tunnel.Forward)
				if res == health.Unhealthy {
					unhealthy++
				}
			}
			if unhealthy > 0 {
				fmt.Printf("%d tunnels unhealthy\n", unhealthy)
			}
			return checkExit(unhealthy, failUnhealthy)
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "check all tunnels in a group")
	cmd.Flags().BoolVar(&failUnhealthy, "fail", false, "exit non-zero when any tunnel is unhealthy")
	return cmd
}

// checkExit maps the unhealthy count to the check command's result. Health
// is advisory, so an unhealthy tunnel only fails the command when the caller
// opted in with --fail.
func checkExit(unhealthy int, fail bool) error {
	if unhealthy == 0 || !fail {
		return nil
	}
	return fmt.Errorf("%d tunnels unhealthy", unhealthy)
}

func newDoctorCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and runtime problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			tunnels, parseErr := a.tunnels()
			report, err := doctor.Run(tunnels, parseErr, a.store, proc.New())
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Printf("[%s] %s %s: %s\n    -> %s\n",
					issue.Severity, issue.Check, issue.Target, issue.Message, issue.Recommendation)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
