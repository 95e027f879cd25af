// Package util provides common utility functions and constants used across
// mole. This package is intentionally kept dependency-free (no imports from
// other internal/* packages) to serve as a shared foundation without
// introducing circular dependencies.
package util

import "time"

const (
	// MaxIncludeDepth is the maximum nesting level for ssh_config Include
	// directives. It backstops the cycle detection for include chains that
	// escape the seen-set (e.g. symlinks resolving to distinct absolute
	// paths). Used by internal/sshconfig.
	MaxIncludeDepth = 16

	// ProbeTimeout bounds a single TCP health-check connect against a
	// tunnel's local listen port.
	ProbeTimeout = 2 * time.Second

	// ProbeRetryInterval is the pause between health probes when waiting
	// for a freshly started tunnel to come up.
	ProbeRetryInterval = 500 * time.Millisecond

	// SpawnSettle is how long a newly spawned forwarding process is given
	// to fail fast (bad port, unreachable host) before mole records it as
	// started.
	SpawnSettle = 1 * time.Second

	// StopGracePeriod bounds how long stop waits for a process to exit
	// after SIGTERM before giving up and untracking it.
	StopGracePeriod = 5 * time.Second

	// StopPollInterval is the liveness poll cadence during StopGracePeriod.
	StopPollInterval = 100 * time.Millisecond

	// BulkConcurrency caps how many tunnel operations a bulk command
	// (--all, --group) runs at once.
	BulkConcurrency = 4
)
