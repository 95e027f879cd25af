package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mole-cli/mole/internal/history"
	"github.com/mole-cli/mole/internal/sshconfig"
	"github.com/mole-cli/mole/internal/wizard"
)

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add",
		Short: "Add a tunnel to the SSH config interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.cfg.SSHConfigPath()
			if err != nil {
				return err
			}
			taken := map[string]bool{}
			if tunnels, err := a.tunnels(); err == nil {
				for _, t := range tunnels {
					taken[t.Name] = true
				}
			}
			t, err := wizard.Run(taken)
			if err != nil {
				return err
			}
			if err := sshconfig.AppendTunnelBlock(root, t); err != nil {
				return err
			}
			a.touch(t.Name)
			fmt.Printf("added %s (%s %s); start it with `mole up %s`\n", t.Name, t.DisplayTarget(), t.Forward, t.Name)
			return nil
		},
	}
}

func newEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:               "edit [name]",
		Short:             "Open the SSH config file defining a tunnel in your editor",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.cfg.SSHConfigPath()
			if err != nil {
				return err
			}
			target := root
			if len(args) == 1 {
				t, err := a.find(args[0])
				if err != nil {
					return err
				}
				// A tunnel pulled in via Include lives in its own file.
				if file, _, err := sshconfig.ReadHostBlock(root, t.Name); err == nil && file != "" {
					target = file
				}
			}
			return runEditor(a.cfg.ResolveEditor(), target)
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:               "rename <old> <new>",
		Short:             "Rename a tunnel across config, state, and autostart",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			oldName, newName := args[0], args[1]
			t, err := a.find(oldName)
			if err != nil {
				return err
			}
			if _, err := a.find(newName); err == nil {
				return fmt.Errorf("tunnel %s already exists", newName)
			}
			root, err := a.cfg.SSHConfigPath()
			if err != nil {
				return err
			}

			// State first so an active tunnel aborts before the config moves.
			if err := a.sup.Rename(t, newName); err != nil {
				return err
			}
			if _, err := sshconfig.RenameHostBlock(root, oldName, newName); err != nil {
				return err
			}
			if err := history.Rename(oldName, newName); err != nil {
				return err
			}
			renamed := t
			renamed.Name = newName
			if err := a.auto.Rename(renamed, oldName); err != nil {
				return err
			}
			fmt.Printf("renamed %s to %s\n", oldName, newName)
			return nil
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:               "remove <name>",
		Aliases:           []string{"rm"},
		Short:             "Stop a tunnel and delete it from config, state, and autostart",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.find(args[0])
			if err != nil {
				return err
			}
			if !force && !confirm(fmt.Sprintf("Remove tunnel %s (%s)?", t.Name, t.DisplayTarget())) {
				fmt.Println("aborted")
				return nil
			}
			root, err := a.cfg.SSHConfigPath()
			if err != nil {
				return err
			}
			if err := a.auto.Disable(t.Name); err != nil {
				return err
			}
			if err := a.sup.Remove(t); err != nil {
				return err
			}
			file, err := sshconfig.RemoveHostBlock(root, t.Name)
			if err != nil {
				return err
			}
			fmt.Printf("removed %s from %s\n", t.Name, file)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

func runEditor(editor, path string) error {
	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(sc.Text()))
	return answer == "y" || answer == "yes"
}
