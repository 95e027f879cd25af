package proc

import (
	"net"
	"os"
	"testing"
)

func TestAlive(t *testing.T) {
	p := New()
	if !p.Alive(os.Getpid()) {
		t.Fatal("own pid should be alive")
	}
	if p.Alive(0) || p.Alive(-1) {
		t.Fatal("non-positive pids are never alive")
	}
	if p.Alive(1 << 30) {
		t.Fatal("absurd pid should not be alive")
	}
}

func TestMatchesCommandOwnProcess(t *testing.T) {
	p := New()
	// The test binary's own cmdline always contains its executable name.
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	if !p.MatchesCommand(os.Getpid(), exe) {
		t.Fatalf("own process should match its executable path %s", exe)
	}
	if p.MatchesCommand(os.Getpid(), "definitely-not-in-the-cmdline") {
		t.Fatal("unrelated fragment should not match")
	}
}

func TestPortInUse(t *testing.T) {
	p := New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if !p.PortInUse(port) {
		t.Fatalf("port %d has a listener, should be in use", port)
	}
	ln.Close()
	if p.PortInUse(port) {
		t.Fatalf("port %d released, should be free", port)
	}
}

func TestFindByPortAndArgsNoMatch(t *testing.T) {
	p := New()
	// A free port has no LISTEN socket, so no candidate exists.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	pid, err := p.FindByPortAndArgs(port, "autossh")
	if err != nil {
		t.Fatal(err)
	}
	if pid != 0 {
		t.Fatalf("expected no candidate, got pid %d", pid)
	}
}

func TestStartTimeOwnProcess(t *testing.T) {
	p := New()
	ts, ok := p.StartTime(os.Getpid())
	if !ok || ts.IsZero() {
		t.Fatalf("expected a start time for own pid, got %v, %v", ts, ok)
	}
}
