package model

import "fmt"

// ForwardKind identifies which ssh_config forwarding directive a tunnel uses.
type ForwardKind string

const (
	ForwardLocal   ForwardKind = "local"
	ForwardRemote  ForwardKind = "remote"
	ForwardDynamic ForwardKind = "dynamic"
)

// ForwardSpec is one forwarding declaration. Exactly one kind applies:
//
//	local:   LocalForward <[BindAddr:]ListenPort> <TargetHost:TargetPort>
//	remote:  RemoteForward <[BindAddr:]ListenPort> <TargetHost:TargetPort>
//	dynamic: DynamicForward <[BindAddr:]ListenPort>
//
// For remote forwards ListenPort is bound on the remote host, so it is not
// locally observable; TargetHost/TargetPort are empty for dynamic forwards.
type ForwardSpec struct {
	Kind       ForwardKind `json:"kind"`
	BindAddr   string      `json:"bind_addr,omitempty"`
	ListenPort int         `json:"listen_port"`
	TargetHost string      `json:"target_host,omitempty"`
	TargetPort int         `json:"target_port,omitempty"`
}

// LocalPort returns the port this forward binds on the local machine, if any.
// Remote forwards bind on the far end and report ok=false.
func (f ForwardSpec) LocalPort() (int, bool) {
	switch f.Kind {
	case ForwardLocal, ForwardDynamic:
		return f.ListenPort, true
	default:
		return 0, false
	}
}

// Directive renders the forward back into its ssh_config key/value form.
func (f ForwardSpec) Directive() (key, value string) {
	listen := fmt.Sprintf("%d", f.ListenPort)
	if f.BindAddr != "" {
		listen = fmt.Sprintf("%s:%d", f.BindAddr, f.ListenPort)
	}
	switch f.Kind {
	case ForwardRemote:
		return "RemoteForward", fmt.Sprintf("%s %s:%d", listen, f.TargetHost, f.TargetPort)
	case ForwardDynamic:
		return "DynamicForward", listen
	default:
		return "LocalForward", fmt.Sprintf("%s %s:%d", listen, f.TargetHost, f.TargetPort)
	}
}

// String is the compact display form used in listings.
func (f ForwardSpec) String() string {
	switch f.Kind {
	case ForwardRemote:
		return fmt.Sprintf("R:%d->%s:%d", f.ListenPort, f.TargetHost, f.TargetPort)
	case ForwardDynamic:
		return fmt.Sprintf("D:%d", f.ListenPort)
	default:
		return fmt.Sprintf("%d:%s:%d", f.ListenPort, f.TargetHost, f.TargetPort)
	}
}

// Tunnel is a named tunnel definition extracted from one ssh_config Host
// block. Connection attributes beyond the forward are pass-through: mole
// never interprets them, it only hands the alias to the forwarding client,
// which re-reads the config itself.
type Tunnel struct {
	Name     string            `json:"name"`
	HostName string            `json:"host_name,omitempty"`
	User     string            `json:"user,omitempty"`
	Group    string            `json:"group,omitempty"`
	Forward  ForwardSpec       `json:"forward"`
	Options  map[string]string `json:"options,omitempty"`
	Source   string            `json:"source,omitempty"`
}

func (t Tunnel) DisplayTarget() string {
	if t.HostName != "" {
		return t.HostName
	}
	return t.Name
}

// Status is the reconciled lifecycle state of a tunnel.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusAdopted  Status = "adopted"
)

// Reconciled joins a tunnel definition with persisted-record and live-process
// evidence. It is derived on every reconcile pass and never persisted.
type Reconciled struct {
	Tunnel    Tunnel `json:"tunnel"`
	Status    Status `json:"status"`
	PID       int    `json:"pid,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
	UptimeSec int64  `json:"uptime_seconds,omitempty"`
	AutoStart bool   `json:"auto_start,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (r Reconciled) Running() bool {
	return r.Status == StatusActive || r.Status == StatusAdopted
}
