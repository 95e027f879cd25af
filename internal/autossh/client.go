// Package autossh launches the external forwarding client that carries the
// actual SSH connection and port forwarding.
//
// mole does not implement any of the SSH protocol. It spawns autossh with
// the tunnel's Host alias as the sole target argument, so OpenSSH resolves
// every connection parameter (HostName, User, ProxyJump, keys, and the
// forwarding directives themselves) from the user's ssh_config. Retry
// behavior is configured through autossh's environment variables.
//
// All arguments are passed via argv, never through a shell, so aliases
// containing metacharacters cannot inject commands.
package autossh

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/util"
)

// BinaryName is the forwarding client mole spawns and later matches
// process command lines against.
const BinaryName = "autossh"

// Client spawns forwarding processes. It is stateless and safe for
// concurrent use.
type Client struct{}

func New() *Client { return &Client{} }

// EnsureBinary checks that autossh is available on PATH, so commands can
// fail with a clear message before any state is touched.
func EnsureBinary() error {
	if _, err := exec.LookPath(BinaryName); err != nil {
		return fmt.Errorf("%s not found in PATH, install it to start tunnels", BinaryName)
	}
	return nil
}

// BinaryPath resolves the absolute path to the forwarding client, used by
// auto-start descriptors that cannot rely on PATH.
func BinaryPath() (string, error) {
	path, err := exec.LookPath(BinaryName)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", BinaryName)
	}
	return path, nil
}

// Args returns the argv (after the binary) used to run a tunnel: -N for
// forwarding-only mode, then the Host alias.
func Args(alias string) []string {
	return []string{"-N", alias}
}

// Env returns the autossh environment additions. AUTOSSH_PORT=0 disables
// the monitor port; autossh restarts the ssh child on failure regardless.
func Env() []string {
	return []string{"AUTOSSH_PORT=0"}
}

// Spawn starts the forwarding process for a tunnel with stderr redirected
// to logFile. It waits briefly so a doomed process (port taken upstream,
// unresolvable host alias, bad options) can fail fast: if the child exits
// within the settle window Spawn returns its error and no pid.
//
// On success the child keeps running after mole exits; its pid is the
// caller's tracking key.
func (c *Client) Spawn(t model.Tunnel, logFile *os.File) (int, error) {
	cmd := exec.Command(BinaryName, Args(t.Name)...)
	cmd.Env = append(os.Environ(), Env()...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = logFile
	// Detach into its own session so the tunnel survives the terminal
	// that ran mole.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", BinaryName, err)
	}
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		if waitErr != nil {
			return 0, fmt.Errorf("%s exited immediately: %w", BinaryName, waitErr)
		}
		return 0, fmt.Errorf("%s exited immediately", BinaryName)
	case <-time.After(util.SpawnSettle):
		// Still running. The reaper goroutine keeps waiting so a child
		// that dies later in this invocation is not left a zombie.
		return pid, nil
	}
}
