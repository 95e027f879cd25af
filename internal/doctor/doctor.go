// Package doctor runs local diagnostics over the tunnel configuration and
// persisted runtime state.
package doctor

import (
	"fmt"
	"os/exec"
	"sort"

	"github.com/mole-cli/mole/internal/autossh"
	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/state"
	"github.com/mole-cli/mole/internal/tunnel"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Run executes diagnostics against the declared tunnels and state store.
// A parse failure of the SSH config is reported as an issue, not an error.
func Run(tunnels []model.Tunnel, parseErr error, store *state.Store, probe tunnel.Prober) (Report, error) {
	var issues []Issue

	if _, err := exec.LookPath(autossh.BinaryName); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "autossh-binary",
			Target:         "PATH",
			Message:        "autossh not found on PATH",
			Recommendation: "install autossh (brew install autossh / apt install autossh)",
		})
	}
	if _, err := exec.LookPath("ssh"); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "ssh-binary",
			Target:         "PATH",
			Message:        "ssh not found on PATH",
			Recommendation: "install the OpenSSH client",
		})
	}

	if parseErr != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "config-parse",
			Target:         "~/.ssh/config",
			Message:        parseErr.Error(),
			Recommendation: "fix the reported SSH config problem",
		})
	}

	issues = append(issues, duplicateBindIssues(tunnels)...)
	issues = append(issues, staleRecordIssues(tunnels, store, probe)...)
	issues = append(issues, orphanLogIssues(tunnels, store)...)

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

func duplicateBindIssues(tunnels []model.Tunnel) []Issue {
	seen := map[string][]string{}
	for _, t := range tunnels {
		port, ok := t.Forward.LocalPort()
		if !ok {
			continue
		}
		bind := t.Forward.BindAddr
		if bind == "" {
			bind = "127.0.0.1"
		}
		key := fmt.Sprintf("%s:%d", bind, port)
		seen[key] = append(seen[key], t.Name)
	}
	var issues []Issue
	for bind, names := range seen {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-bind",
			Target:         bind,
			Message:        fmt.Sprintf("local bind is declared by %d tunnels: %v", len(names), names),
			Recommendation: "use unique local ports per tunnel to avoid startup conflicts",
		})
	}
	return issues
}

func staleRecordIssues(tunnels []model.Tunnel, store *state.Store, probe tunnel.Prober) []Issue {
	if store == nil {
		return nil
	}
	names, err := store.List()
	if err != nil {
		return []Issue{{
			Severity:       SeverityMedium,
			Check:          "state-store",
			Target:         "pids",
			Message:        err.Error(),
			Recommendation: "check permissions on the mole config directory",
		}}
	}
	declared := map[string]bool{}
	for _, t := range tunnels {
		declared[t.Name] = true
	}
	var issues []Issue
	for _, name := range names {
		if !declared[name] {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "orphan-record",
				Target:         name,
				Message:        "state record exists for a tunnel not declared in SSH config",
				Recommendation: "run `mole down " + name + "` or delete the record manually",
			})
			continue
		}
		rec, err := store.Read(name)
		if err != nil || rec == nil {
			continue
		}
		if probe != nil && !probe.Alive(rec.PID) {
			issues = append(issues, Issue{
				Severity:       SeverityLow,
				Check:          "stale-record",
				Target:         name,
				Message:        fmt.Sprintf("record points at dead pid %d", rec.PID),
				Recommendation: "run `mole list` to let reconciliation clean it up",
			})
		}
	}
	return issues
}

func orphanLogIssues(tunnels []model.Tunnel, store *state.Store) []Issue {
	if store == nil {
		return nil
	}
	names, err := store.Logs()
	if err != nil {
		return nil
	}
	declared := map[string]bool{}
	for _, t := range tunnels {
		declared[t.Name] = true
	}
	var issues []Issue
	for _, name := range names {
		if declared[name] {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "orphan-log",
			Target:         name,
			Message:        "log file exists for a tunnel not declared in SSH config",
			Recommendation: "run `mole remove " + name + "` or delete the log manually",
		})
	}
	return issues
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
