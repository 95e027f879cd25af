// Package proc answers OS-level questions about forwarding processes:
// liveness, command-line identity, local port occupancy, and the listening
// socket scan behind tunnel adoption. All queries are side-effect free.
package proc

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrAmbiguous is returned when more than one live process could plausibly
// own a tunnel's port. Adoption must not guess, so the caller treats this
// as "cannot determine status".
var ErrAmbiguous = errors.New("multiple candidate processes listening on port")

// Probe performs real OS queries. The zero value is usable.
type Probe struct{}

func New() *Probe { return &Probe{} }

// Alive reports whether a process with the given pid exists and is
// signalable by this user.
func (p *Probe) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// MatchesCommand reports whether the process command line contains every
// given fragment. It distinguishes a supervised forwarding process from an
// unrelated process that reused a recycled pid; a pid whose command line
// cannot be read never matches.
func (p *Probe) MatchesCommand(pid int, wants ...string) bool {
	if pid <= 0 {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	cmdline, err := proc.Cmdline()
	if err != nil || cmdline == "" {
		return false
	}
	for _, w := range wants {
		if !strings.Contains(cmdline, w) {
			return false
		}
	}
	return true
}

// PortInUse reports whether a loopback TCP port is already bound. It probes
// by attempting to bind the port itself, which is exactly the test the
// forwarding client will fail at spawn time.
func (p *Probe) PortInUse(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = l.Close()
	return false
}

// FindByPortAndArgs scans listening TCP sockets for a process bound to port
// whose command line contains every fragment in wants. It returns (0, nil)
// when no candidate exists and ErrAmbiguous when several distinct processes
// qualify: a best-effort adoption scan never guesses between candidates.
func (p *Probe) FindByPortAndArgs(port int, wants ...string) (int, error) {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		return 0, err
	}

	candidates := map[int]struct{}{}
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) || c.Pid <= 0 {
			continue
		}
		if p.MatchesCommand(int(c.Pid), wants...) {
			candidates[int(c.Pid)] = struct{}{}
		}
	}

	switch len(candidates) {
	case 0:
		return 0, nil
	case 1:
		for pid := range candidates {
			return pid, nil
		}
	}
	return 0, ErrAmbiguous
}

// StartTime returns the process creation time, for computing the uptime of
// adopted processes mole did not start itself.
func (p *Probe) StartTime(pid int) (time.Time, bool) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}, false
	}
	ms, err := proc.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
