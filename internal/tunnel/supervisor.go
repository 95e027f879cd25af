// Package tunnel reconciles declared tunnels against live processes and
// drives their lifecycle.
package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/mole-cli/mole/internal/autossh"
	"github.com/mole-cli/mole/internal/events"
	"github.com/mole-cli/mole/internal/health"
	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/state"
	"github.com/mole-cli/mole/internal/util"
)

var (
	// ErrAlreadyRunning is returned when starting a tunnel that has a live process.
	ErrAlreadyRunning = errors.New("tunnel already running")
	// ErrPortConflict is returned when the local port is held by an unrelated process.
	ErrPortConflict = errors.New("local port already in use")
	// ErrRenameActive is returned when renaming a tunnel that is still running.
	ErrRenameActive = errors.New("cannot rename a running tunnel")
)

// Spawner abstracts tunnel process creation for testing.
type Spawner interface {
	Spawn(t model.Tunnel, logFile *os.File) (int, error)
}

// Prober abstracts process inspection for testing.
type Prober interface {
	Alive(pid int) bool
	MatchesCommand(pid int, wants ...string) bool
	PortInUse(port int) bool
	FindByPortAndArgs(port int, wants ...string) (int, error)
	StartTime(pid int) (time.Time, bool)
}

// Journal abstracts lifecycle event recording.
type Journal interface {
	Append(evt events.Event) error
}

// AutostartChecker reports whether boot-time autostart is enabled for a tunnel.
type AutostartChecker func(name string) bool

// Supervisor owns the reconcile/start/stop lifecycle of declared tunnels.
type Supervisor struct {
	store         *state.Store
	probe         Prober
	spawner       Spawner
	journal       Journal
	autostart     AutostartChecker
	healthTimeout time.Duration
	maxLogSize    int64
}

// New creates a supervisor with the default autossh spawner and live process probe.
func New(store *state.Store, probe Prober, spawner Spawner, journal Journal, healthTimeout time.Duration, maxLogSize int64) *Supervisor {
	return &Supervisor{
		store:         store,
		probe:         probe,
		spawner:       spawner,
		journal:       journal,
		healthTimeout: healthTimeout,
		maxLogSize:    maxLogSize,
	}
}

// SetAutostartChecker wires the boot-time autostart lookup used by Reconcile.
func (s *Supervisor) SetAutostartChecker(fn AutostartChecker) {
	s.autostart = fn
}

func (s *Supervisor) record(evt events.Event) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(evt); err != nil {
		slog.Warn("failed to journal tunnel event", "tunnel", evt.Tunnel, "type", evt.EventType, "error", err)
	}
}

// cmdlineWants returns the fragments a live process must carry to be
// recognized as this tunnel's transport.
func cmdlineWants(t model.Tunnel) []string {
	return []string{autossh.BinaryName, t.Name}
}

// Reconcile resolves the live status of each declared tunnel. Stale records
// are removed, and externally started processes matching a declared tunnel
// are adopted into managed state.
func (s *Supervisor) Reconcile(tunnels []model.Tunnel) []model.Reconciled {
	out := make([]model.Reconciled, 0, len(tunnels))
	for _, t := range tunnels {
		out = append(out, s.reconcileOne(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tunnel.Name < out[j].Tunnel.Name })
	return out
}

// Status reconciles a single tunnel.
func (s *Supervisor) Status(t model.Tunnel) model.Reconciled {
	return s.reconcileOne(t)
}

func (s *Supervisor) reconcileOne(t model.Tunnel) model.Reconciled {
	rec := model.Reconciled{Tunnel: t, Status: model.StatusInactive}
	if s.autostart != nil {
		rec.AutoStart = s.autostart(t.Name)
	}

	stored, err := s.store.Read(t.Name)
	if err != nil {
		rec.Note = fmt.Sprintf("state unreadable: %v", err)
		return rec
	}

	if stored != nil {
		if s.probe.Alive(stored.PID) && s.probe.MatchesCommand(stored.PID, cmdlineWants(t)...) {
			rec.PID = stored.PID
			rec.Status = model.StatusActive
			s.fillUptime(&rec, stored.StartedAt)
			return rec
		}
		// Record points at a dead or recycled pid.
		if err := s.store.Delete(t.Name); err != nil {
			slog.Warn("failed to remove stale tunnel record", "tunnel", t.Name, "error", err)
		}
		s.record(events.Event{Tunnel: t.Name, EventType: events.TypeStaleCleaned, PID: stored.PID})
	}

	// No usable record. A matching process may have been started outside of
	// our control; adopt it if the local listen port pins it down uniquely.
	// Adoption persists a plain record, so after this one pass the tunnel is
	// indistinguishable from one we started ourselves.
	port, ok := t.Forward.LocalPort()
	if !ok {
		return rec
	}
	pid, err := s.probe.FindByPortAndArgs(port, cmdlineWants(t)...)
	if err != nil {
		rec.Note = fmt.Sprintf("adoption skipped: %v", err)
		return rec
	}
	if pid == 0 {
		return rec
	}

	started := time.Now()
	if ts, ok := s.probe.StartTime(pid); ok {
		started = ts
	}
	if err := s.store.Write(t.Name, state.Record{PID: pid, StartedAt: started}); err != nil {
		slog.Warn("failed to persist adopted tunnel", "tunnel", t.Name, "error", err)
	}
	s.record(events.Event{Tunnel: t.Name, EventType: events.TypeAdopted, PID: pid})

	rec.PID = pid
	rec.Status = model.StatusAdopted
	s.fillUptime(&rec, started)
	return rec
}

func (s *Supervisor) fillUptime(rec *model.Reconciled, started time.Time) {
	if started.IsZero() {
		return
	}
	d := time.Since(started)
	rec.UptimeSec = int64(d.Seconds())
	rec.Uptime = util.FormatUptime(d)
}

// Start spawns a tunnel process and records it. The health wait after spawn
// is advisory only; an unreachable port is reported but does not fail the
// start once the process is up.
func (s *Supervisor) Start(t model.Tunnel) (model.Reconciled, error) {
	current := s.reconcileOne(t)
	if current.Running() {
		return current, fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, t.Name, current.PID)
	}

	port, hasPort := t.Forward.LocalPort()
	if hasPort {
		if err := util.ValidatePort(port); err != nil {
			return current, fmt.Errorf("tunnel %s: %w", t.Name, err)
		}
		if s.probe.PortInUse(port) {
			return current, fmt.Errorf("%w: %d (tunnel %s)", ErrPortConflict, port, t.Name)
		}
	}

	logFile, err := s.store.OpenLog(t.Name, s.maxLogSize)
	if err != nil {
		return current, fmt.Errorf("open tunnel log: %w", err)
	}
	defer logFile.Close()

	pid, err := s.spawner.Spawn(t, logFile)
	if err != nil {
		s.record(events.Event{Tunnel: t.Name, EventType: events.TypeStartFailed, Message: err.Error()})
		return current, fmt.Errorf("start tunnel %s: %w", t.Name, err)
	}

	started := time.Now()
	if err := s.store.Write(t.Name, state.Record{PID: pid, StartedAt: started}); err != nil {
		slog.Warn("failed to persist tunnel record after start", "tunnel", t.Name, "error", err)
	}
	s.record(events.Event{Tunnel: t.Name, EventType: events.TypeStarted, PID: pid})

	rec := model.Reconciled{Tunnel: t, Status: model.StatusActive, PID: pid, AutoStart: current.AutoStart}
	s.fillUptime(&rec, started)

	if hasPort && s.healthTimeout > 0 {
		if !health.WaitReachable([]int{port}, s.healthTimeout) {
			rec.Note = fmt.Sprintf("port %d not reachable yet", port)
		}
	}
	return rec, nil
}

// Stop terminates a tunnel's process with SIGTERM and waits for it to exit.
// The state record is removed even if the process outlives the grace period.
// Stopping an inactive tunnel is a no-op success; the returned bool reports
// whether a live process was actually terminated.
func (s *Supervisor) Stop(t model.Tunnel) (bool, error) {
	stored, err := s.store.Read(t.Name)
	if err != nil {
		return false, fmt.Errorf("read tunnel state: %w", err)
	}
	if stored == nil || !s.probe.Alive(stored.PID) {
		// Clear any leftover record so a dead entry cannot linger.
		if delErr := s.store.Delete(t.Name); delErr != nil {
			slog.Warn("failed to remove tunnel record", "tunnel", t.Name, "error", delErr)
		}
		return false, nil
	}

	if p, findErr := os.FindProcess(stored.PID); findErr == nil {
		_ = p.Signal(syscall.SIGTERM)
	}

	exited := s.waitExit(stored.PID, util.StopGracePeriod)

	if err := s.store.Delete(t.Name); err != nil {
		slog.Warn("failed to remove tunnel record after stop", "tunnel", t.Name, "error", err)
	}
	if exited {
		s.record(events.Event{Tunnel: t.Name, EventType: events.TypeStopped, PID: stored.PID})
	} else {
		s.record(events.Event{Tunnel: t.Name, EventType: events.TypeStopTimeout, PID: stored.PID})
		slog.Warn("tunnel process did not exit within grace period", "tunnel", t.Name, "pid", stored.PID)
	}
	return true, nil
}

func (s *Supervisor) waitExit(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !s.probe.Alive(pid) {
			return true
		}
		time.Sleep(util.StopPollInterval)
	}
	return !s.probe.Alive(pid)
}

// Restart stops a tunnel if it is running, then starts it again.
func (s *Supervisor) Restart(t model.Tunnel) (model.Reconciled, error) {
	if _, err := s.Stop(t); err != nil {
		return model.Reconciled{Tunnel: t}, err
	}
	return s.Start(t)
}

// Rename moves a tunnel's persisted state to a new name. The tunnel process,
// if any, would keep running under the old alias, so active tunnels are
// rejected.
func (s *Supervisor) Rename(t model.Tunnel, newName string) error {
	if s.reconcileOne(t).Running() {
		return fmt.Errorf("%w: %s", ErrRenameActive, t.Name)
	}
	if err := s.store.Rename(t.Name, newName); err != nil {
		return fmt.Errorf("rename tunnel state: %w", err)
	}
	s.record(events.Event{Tunnel: t.Name, EventType: events.TypeRenamed, Message: "renamed to " + newName})
	return nil
}

// Remove stops a tunnel if needed and purges all of its persisted state.
func (s *Supervisor) Remove(t model.Tunnel) error {
	if _, err := s.Stop(t); err != nil {
		return err
	}
	if err := s.store.Purge(t.Name); err != nil {
		return fmt.Errorf("purge tunnel state: %w", err)
	}
	s.record(events.Event{Tunnel: t.Name, EventType: events.TypeRemoved})
	return nil
}

// OpResult carries the outcome of one tunnel in a bulk operation.
type OpResult struct {
	Tunnel model.Tunnel
	State  model.Reconciled
	Err    error
}

// StartMany starts tunnels concurrently with bounded parallelism, returning
// one result per tunnel in declaration order.
func (s *Supervisor) StartMany(tunnels []model.Tunnel) []OpResult {
	return s.forEach(tunnels, func(t model.Tunnel) (model.Reconciled, error) {
		return s.Start(t)
	})
}

// StopMany stops tunnels concurrently with bounded parallelism. Tunnels that
// were already inactive succeed with a note instead of failing.
func (s *Supervisor) StopMany(tunnels []model.Tunnel) []OpResult {
	return s.forEach(tunnels, func(t model.Tunnel) (model.Reconciled, error) {
		stopped, err := s.Stop(t)
		rec := model.Reconciled{Tunnel: t, Status: model.StatusInactive}
		if err == nil && !stopped {
			rec.Note = "was not running"
		}
		return rec, err
	})
}

// RestartMany restarts tunnels concurrently with bounded parallelism.
func (s *Supervisor) RestartMany(tunnels []model.Tunnel) []OpResult {
	return s.forEach(tunnels, func(t model.Tunnel) (model.Reconciled, error) {
		return s.Restart(t)
	})
}

func (s *Supervisor) forEach(tunnels []model.Tunnel, op func(model.Tunnel) (model.Reconciled, error)) []OpResult {
	results := make([]OpResult, len(tunnels))
	sem := make(chan struct{}, util.BulkConcurrency)
	var wg sync.WaitGroup
	for i, t := range tunnels {
		wg.Add(1)
		go func(idx int, tn model.Tunnel) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			st, err := op(tn)
			results[idx] = OpResult{Tunnel: tn, State: st, Err: err}
		}(i, t)
	}
	wg.Wait()
	return results
}
