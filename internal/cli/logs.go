package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mole-cli/mole/internal/events"
)

func newLogsCmd(a *app) *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:               "logs [name]",
		Short:             "Show a tunnel's autossh log",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
				if _, err := a.find(name); err != nil {
					return err
				}
			} else {
				tunnels, err := a.tunnels()
				if err != nil {
					return err
				}
				t, err := a.pickOne(tunnels, "Logs for which tunnel?")
				if err != nil {
					return err
				}
				name = t.Name
			}

			path := a.store.LogPath(name)
			f, err := os.Open(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Printf("no log yet for %s\n", name)
					return nil
				}
				return err
			}
			defer f.Close()

			offset, err := printTail(f, lines)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followFile(f, offset)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing as the log grows")
	return cmd
}

// printTail writes the last n lines of f to stdout and returns the offset
// where following should resume.
func printTail(f *os.File, n int) (int64, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text != "" {
		all := strings.Split(text, "\n")
		if n > 0 && len(all) > n {
			all = all[len(all)-n:]
		}
		for _, line := range all {
			fmt.Println(line)
		}
	}
	return int64(len(data)), nil
}

// followFile polls for appended bytes. Truncation (log rotation) resets the
// offset to the start of the new file.
func followFile(f *os.File, offset int64) error {
	for {
		time.Sleep(500 * time.Millisecond)
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.Size() < offset {
			offset = 0
		}
		if info.Size() == offset {
			continue
		}
		buf := make([]byte, info.Size()-offset)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return err
		}
		os.Stdout.Write(buf)
		offset = info.Size()
	}
}

func newEventsCmd(a *app) *cobra.Command {
	var limit int
	var eventType string
	cmd := &cobra.Command{
		Use:               "events [name]",
		Short:             "Show the tunnel lifecycle journal",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: a.completeTunnelNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{Limit: limit, EventType: eventType}
			if len(args) == 1 {
				q.Tunnel = args[0]
			}
			evts, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			for _, e := range evts {
				line := fmt.Sprintf("%s %-14s %s", e.Timestamp.Local().Format(time.RFC3339), e.EventType, e.Tunnel)
				if e.PID > 0 {
					line += fmt.Sprintf(" pid=%d", e.PID)
				}
				if e.Message != "" {
					line += " " + e.Message
				}
				fmt.Println(line)
			}
			if len(evts) == 0 {
				fmt.Println("no events recorded")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events to show")
	cmd.Flags().StringVar(&eventType, "type", "", "only show events of this type")
	return cmd
}
