// Package health probes tunnel endpoints for end-to-end liveness.
package health

import (
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/util"
)

// Result classifies one health probe. A refused or timed-out connection is
// Unhealthy, a normal reportable outcome, never an operational failure.
type Result string

const (
	Healthy   Result = "healthy"
	Unhealthy Result = "unhealthy"
	Unknown   Result = "unknown"
	// NotApplicable covers remote forwards: the bound port lives on the
	// remote host and cannot be observed locally.
	NotApplicable Result = "not-applicable"
)

// Check probes a forward's local listen port with a TCP connect bounded by
// timeout. It never blocks longer than timeout and never treats refusal as
// an error.
func Check(fwd model.ForwardSpec, timeout time.Duration) Result {
	port, ok := fwd.LocalPort()
	if !ok {
		return NotApplicable
	}
	return probe(port, timeout)
}

func probe(port int, timeout time.Duration) Result {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), timeout)
	if err == nil {
		_ = conn.Close()
		return Healthy
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Unhealthy
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Unhealthy
	}
	return Unknown
}

// WaitReachable polls the given local ports until all accept a connection
// or the timeout elapses. Used after a start to report whether the fresh
// tunnel came up; the outcome is advisory.
func WaitReachable(ports []int, timeout time.Duration) bool {
	if len(ports) == 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	for {
		all := true
		for _, p := range ports {
			if probe(p, util.ProbeTimeout) != Healthy {
				all = false
				break
			}
		}
		if all {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(util.ProbeRetryInterval)
	}
}
