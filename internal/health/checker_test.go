package health

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/mole-cli/mole/internal/model"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestCheckHealthy(t *testing.T) {
	_, port := listen(t)
	fwd := model.ForwardSpec{Kind: model.ForwardLocal, ListenPort: port, TargetHost: "localhost", TargetPort: 80}
	if got := Check(fwd, time.Second); got != Healthy {
		t.Fatalf("expected healthy, got %s", got)
	}
}

func TestCheckRefusedIsUnhealthy(t *testing.T) {
	ln, port := listen(t)
	ln.Close()
	fwd := model.ForwardSpec{Kind: model.ForwardLocal, ListenPort: port, TargetHost: "localhost", TargetPort: 80}
	if got := Check(fwd, time.Second); got != Unhealthy {
		t.Fatalf("expected unhealthy, got %s", got)
	}
}

func TestCheckRemoteForwardNotApplicable(t *testing.T) {
	fwd := model.ForwardSpec{Kind: model.ForwardRemote, ListenPort: 8443, TargetHost: "localhost", TargetPort: 443}
	if got := Check(fwd, time.Second); got != NotApplicable {
		t.Fatalf("expected not-applicable, got %s", got)
	}
}

func TestWaitReachable(t *testing.T) {
	_, port := listen(t)
	if !WaitReachable([]int{port}, time.Second) {
		t.Fatal("expected listening port to be reachable")
	}
}

func TestWaitReachableTimesOut(t *testing.T) {
	ln, port := listen(t)
	ln.Close()
	start := time.Now()
	if WaitReachable([]int{port}, 300*time.Millisecond) {
		t.Fatal("closed port should not be reachable")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("wait overshot its timeout")
	}
}

func TestWaitReachableDelayedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		late, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return
		}
		time.Sleep(2 * time.Second)
		late.Close()
	}()

	if !WaitReachable([]int{port}, 3*time.Second) {
		t.Fatal("expected late listener to be found within timeout")
	}
}
