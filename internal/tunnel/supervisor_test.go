// Supervisor tests use a fakeSpawner that launches "sleep 30" in place of
// autossh, so lifecycle transitions run against a real OS process that can
// be signaled and reaped, and a fakeProber that answers the cmdline and
// port questions a real tunnel process would.
package tunnel

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/state"
)

type fakeSpawner struct {
	mu    sync.Mutex
	fail  bool
	cmds  []*exec.Cmd
	calls int
}

func (f *fakeSpawner) Spawn(t model.Tunnel, logFile *os.File) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return 0, exec.ErrNotFound
	}
	cmd := exec.Command("sleep", "30")
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	go func() { _ = cmd.Wait() }()
	f.cmds = append(f.cmds, cmd)
	return cmd.Process.Pid, nil
}

func (f *fakeSpawner) cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cmd := range f.cmds {
		_ = cmd.Process.Kill()
	}
}

type fakeProber struct {
	mu        sync.Mutex
	portInUse map[int]bool
	adoptPID  int
	adoptErr  error
	scanCalls int
}

func (p *fakeProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (p *fakeProber) MatchesCommand(pid int, wants ...string) bool { return true }

func (p *fakeProber) PortInUse(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.portInUse[port]
}

func (p *fakeProber) FindByPortAndArgs(port int, wants ...string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanCalls++
	return p.adoptPID, p.adoptErr
}

func (p *fakeProber) StartTime(pid int) (time.Time, bool) { return time.Time{}, false }

func testTunnel(name string, port int) model.Tunnel {
	return model.Tunnel{
		Name:     name,
		HostName: name + ".example.com",
		Forward:  model.ForwardSpec{Kind: model.ForwardLocal, ListenPort: port, TargetHost: "localhost", TargetPort: port},
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *state.Store, *fakeSpawner, *fakeProber) {
	t.Helper()
	store := state.NewStore(t.TempDir())
	spawner := &fakeSpawner{}
	t.Cleanup(spawner.cleanup)
	prober := &fakeProber{portInUse: map[int]bool{}}
	return New(store, prober, spawner, nil, 0, 1<<20), store, spawner, prober
}

func TestSupervisorStartStop(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	tn := testTunnel("db", 5432)

	rec, err := sup.Start(tn)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.StatusActive || rec.PID <= 0 {
		t.Fatalf("unexpected start result: %+v", rec)
	}
	stored, err := store.Read("db")
	if err != nil || stored == nil || stored.PID != rec.PID {
		t.Fatalf("record not persisted: %+v, %v", stored, err)
	}

	stopped, err := sup.Stop(tn)
	if err != nil {
		t.Fatal(err)
	}
	if !stopped {
		t.Fatal("stop should report a terminated process")
	}
	if stored, _ := store.Read("db"); stored != nil {
		t.Fatalf("record should be gone after stop: %+v", stored)
	}
	if sup.Status(tn).Running() {
		t.Fatal("tunnel still reported running after stop")
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	sup, _, spawner, _ := newTestSupervisor(t)
	tn := testTunnel("db", 5432)

	if _, err := sup.Start(tn); err != nil {
		t.Fatal(err)
	}
	defer func() { _, _ = sup.Stop(tn) }()

	rec, err := sup.Start(tn)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if rec.PID <= 0 {
		t.Fatalf("error should carry the running state: %+v", rec)
	}
	if spawner.calls != 1 {
		t.Fatalf("second start must not spawn, got %d calls", spawner.calls)
	}
}

func TestStartPortConflict(t *testing.T) {
	sup, _, spawner, prober := newTestSupervisor(t)
	prober.portInUse[5432] = true

	_, err := sup.Start(testTunnel("db", 5432))
	if !errors.Is(err, ErrPortConflict) {
		t.Fatalf("expected ErrPortConflict, got %v", err)
	}
	if spawner.calls != 0 {
		t.Fatal("conflicting start must not spawn")
	}
}

func TestStartSpawnFailure(t *testing.T) {
	sup, store, spawner, _ := newTestSupervisor(t)
	spawner.fail = true

	_, err := sup.Start(testTunnel("db", 5432))
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if stored, _ := store.Read("db"); stored != nil {
		t.Fatalf("failed start must not persist a record: %+v", stored)
	}
}

func TestStopInactiveIsNoop(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	tn := testTunnel("db", 5432)

	stopped, err := sup.Stop(tn)
	if err != nil {
		t.Fatalf("stop of inactive tunnel should succeed, got %v", err)
	}
	if stopped {
		t.Fatal("nothing was running, nothing should report as terminated")
	}

	// A leftover record pointing at a dead pid is cleared on the way out.
	if err := store.Write("db", state.Record{PID: 1 << 30, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if stopped, err := sup.Stop(tn); err != nil || stopped {
		t.Fatalf("dead-record stop should be a no-op success, got %v, %v", stopped, err)
	}
	if stored, _ := store.Read("db"); stored != nil {
		t.Fatalf("dead record should be cleared: %+v", stored)
	}
}

func TestReconcileCleansStaleRecord(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	tn := testTunnel("db", 5432)

	// A pid far above any live process on the test machine.
	if err := store.Write("db", state.Record{PID: 1 << 30, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	rows := sup.Reconcile([]model.Tunnel{tn})
	if len(rows) != 1 || rows[0].Status != model.StatusInactive {
		t.Fatalf("expected inactive after stale cleanup, got %+v", rows)
	}
	if stored, _ := store.Read("db"); stored != nil {
		t.Fatalf("stale record should be removed: %+v", stored)
	}
}

func TestReconcileAdoptsExternalProcess(t *testing.T) {
	sup, store, _, prober := newTestSupervisor(t)
	tn := testTunnel("db", 5432)

	ext := exec.Command("sleep", "30")
	if err := ext.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ext.Process.Kill() })
	go func() { _ = ext.Wait() }()

	prober.adoptPID = ext.Process.Pid

	rows := sup.Reconcile([]model.Tunnel{tn})
	if rows[0].Status != model.StatusAdopted || rows[0].PID != ext.Process.Pid {
		t.Fatalf("expected adoption, got %+v", rows[0])
	}
	stored, err := store.Read("db")
	if err != nil || stored == nil || stored.PID != ext.Process.Pid {
		t.Fatalf("adoption should persist a record: %+v, %v", stored, err)
	}

	// The persisted record now answers status: the tunnel is active like any
	// other, and no second port scan happens.
	if sup.Status(tn).Status != model.StatusActive {
		t.Fatal("adopted tunnel should converge to active")
	}
	if prober.scanCalls != 1 {
		t.Fatalf("adoption must happen once, scanned %d times", prober.scanCalls)
	}
}

func TestReconcileSkipsAmbiguousAdoption(t *testing.T) {
	sup, store, _, prober := newTestSupervisor(t)
	prober.adoptErr = errors.New("multiple candidate processes listening on port")

	rows := sup.Reconcile([]model.Tunnel{testTunnel("db", 5432)})
	if rows[0].Status != model.StatusInactive || rows[0].Note == "" {
		t.Fatalf("ambiguous adoption should stay inactive with a note, got %+v", rows[0])
	}
	if stored, _ := store.Read("db"); stored != nil {
		t.Fatal("ambiguous adoption must not persist a record")
	}
}

func TestRenameActiveRejected(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	tn := testTunnel("db", 5432)

	if _, err := sup.Start(tn); err != nil {
		t.Fatal(err)
	}
	if err := sup.Rename(tn, "db-new"); !errors.Is(err, ErrRenameActive) {
		t.Fatalf("expected ErrRenameActive, got %v", err)
	}

	if _, err := sup.Stop(tn); err != nil {
		t.Fatal(err)
	}
	if err := sup.Rename(tn, "db-new"); err != nil {
		t.Fatal(err)
	}
	if stored, _ := store.Read("db"); stored != nil {
		t.Fatal("old name should have no record after rename")
	}
}

func TestRestart(t *testing.T) {
	sup, _, spawner, _ := newTestSupervisor(t)
	tn := testTunnel("db", 5432)

	first, err := sup.Start(tn)
	if err != nil {
		t.Fatal(err)
	}
	second, err := sup.Restart(tn)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _, _ = sup.Stop(tn) }()

	if second.PID == first.PID {
		t.Fatalf("restart should produce a new process, pid %d twice", first.PID)
	}
	if spawner.calls != 2 {
		t.Fatalf("expected 2 spawns, got %d", spawner.calls)
	}
}

func TestStartManyMixedResults(t *testing.T) {
	sup, _, _, prober := newTestSupervisor(t)
	prober.portInUse[6379] = true

	tunnels := []model.Tunnel{testTunnel("db", 5432), testTunnel("cache", 6379)}
	results := sup.StartMany(tunnels)
	defer func() { _, _ = sup.Stop(tunnels[0]) }()

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("db should start, got %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrPortConflict) {
		t.Fatalf("cache should hit the port conflict, got %v", results[1].Err)
	}
	if results[0].Tunnel.Name != "db" || results[1].Tunnel.Name != "cache" {
		t.Fatalf("results must keep declaration order: %+v", results)
	}
}

func TestStopManyTreatsStoppedAsSuccess(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	tn := testTunnel("db", 5432)
	if _, err := sup.Start(tn); err != nil {
		t.Fatal(err)
	}

	results := sup.StopMany([]model.Tunnel{tn, testTunnel("ghost", 6000)})
	if results[0].Err != nil {
		t.Fatalf("stop of running tunnel failed: %v", results[0].Err)
	}
	if results[1].Err != nil {
		t.Fatalf("stop of inactive tunnel should succeed, got %v", results[1].Err)
	}
	if results[1].State.Note == "" {
		t.Fatalf("inactive stop should carry a note, got %+v", results[1].State)
	}
	if results[0].State.Note != "" {
		t.Fatalf("running stop should not carry a note, got %+v", results[0].State)
	}
}
