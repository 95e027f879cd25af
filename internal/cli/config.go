package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mole-cli/mole/internal/appconfig"
)

func newEnableCmd(a *app) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:               "enable [name]",
		Short:             "Start a tunnel at login via launchd",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := a.selectTargets(args, false, group, "Enable which tunnel?")
			if err != nil {
				return err
			}
			for _, t := range targets {
				if a.auto.IsEnabled(t.Name) {
					fmt.Printf("%s is already enabled\n", t.Name)
					continue
				}
				if err := a.auto.Enable(t); err != nil {
					return err
				}
				fmt.Printf("enabled %s; launchd keeps it running across logins\n", t.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "enable every tunnel in a group")
	return cmd
}

func newDisableCmd(a *app) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:               "disable [name]",
		Short:             "Stop starting a tunnel at login",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := a.selectTargets(args, false, group, "Disable which tunnel?")
			if err != nil {
				return err
			}
			for _, t := range targets {
				if !a.auto.IsEnabled(t.Name) {
					fmt.Printf("%s is not enabled\n", t.Name)
					continue
				}
				if err := a.auto.Disable(t.Name); err != nil {
					return err
				}
				fmt.Printf("disabled %s\n", t.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "disable every tunnel in a group")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage mole's own configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.ConfigFilePath()
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n", path)
			b, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(b))
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.Init()
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}

	edit := &cobra.Command{
		Use:   "edit",
		Short: "Open the config file in your editor",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.ConfigFilePath()
			if err != nil {
				return err
			}
			return runEditor(a.cfg.ResolveEditor(), path)
		},
	}

	root.AddCommand(show, initCmd, edit)
	return root
}
