package sshconfig

import (
	"os"
	"strings"
	"testing"

	"github.com/mole-cli/mole/internal/model"
)

func TestFormatTunnelBlock(t *testing.T) {
	got := FormatTunnelBlock(model.Tunnel{
		Name:     "db-prod",
		HostName: "db.example.com",
		User:     "deploy",
		Group:    "work",
		Forward:  model.ForwardSpec{Kind: model.ForwardLocal, ListenPort: 5432, TargetHost: "localhost", TargetPort: 5432},
	})
	want := strings.Join([]string{
		"Host db-prod",
		"  # mole:group=work",
		"  HostName db.example.com",
		"  User deploy",
		"  LocalForward 5432 localhost:5432",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("unexpected block:\n%s\nwant:\n%s", got, want)
	}
}

func TestAppendTunnelBlockRoundTrip(t *testing.T) {
	root := writeConfig(t, t.TempDir(), "config", strings.Join([]string{
		"Host existing",
		"  HostName existing.example.com",
		"  LocalForward 9000 localhost:9000",
		"",
	}, "\n"))

	err := AppendTunnelBlock(root, model.Tunnel{
		Name:     "added",
		HostName: "added.example.com",
		Group:    "lab",
		Forward:  model.ForwardSpec{Kind: model.ForwardDynamic, ListenPort: 1080},
	})
	if err != nil {
		t.Fatal(err)
	}

	tunnels, err := Parse(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(tunnels) != 2 {
		t.Fatalf("expected 2 tunnels, got %+v", tunnels)
	}
	added := tunnels[1]
	if added.Name != "added" || added.Group != "lab" || added.Forward.Kind != model.ForwardDynamic {
		t.Fatalf("appended tunnel did not survive a reparse: %+v", added)
	}
}

func TestRemoveHostBlockFromIncludedFile(t *testing.T) {
	dir := t.TempDir()
	inc := writeConfig(t, dir, "extra.conf", strings.Join([]string{
		"Host keep-me",
		"  HostName keep.example.com",
		"  LocalForward 9001 localhost:9001",
		"",
		"Host drop-me",
		"  HostName drop.example.com",
		"  LocalForward 9002 localhost:9002",
		"",
	}, "\n"))
	root := writeConfig(t, dir, "config", "Include extra.conf\n")

	file, err := RemoveHostBlock(root, "drop-me")
	if err != nil {
		t.Fatal(err)
	}
	if file != inc {
		t.Fatalf("expected removal from %s, got %s", inc, file)
	}

	tunnels, err := Parse(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(tunnels) != 1 || tunnels[0].Name != "keep-me" {
		t.Fatalf("expected only keep-me to remain, got %+v", tunnels)
	}

	content, err := os.ReadFile(inc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "drop-me") {
		t.Fatalf("block text still present:\n%s", content)
	}
}

func TestRemoveHostBlockMissing(t *testing.T) {
	root := writeConfig(t, t.TempDir(), "config", "Host a\n  HostName a.example.com\n")
	if _, err := RemoveHostBlock(root, "nope"); err == nil {
		t.Fatal("expected error for missing host block")
	}
}

func TestRenameHostBlockPreservesBody(t *testing.T) {
	root := writeConfig(t, t.TempDir(), "config", strings.Join([]string{
		"Host old-name",
		"  # mole:group=work",
		"  HostName db.example.com",
		"  LocalForward 5432 localhost:5432",
		"",
	}, "\n"))

	if _, err := RenameHostBlock(root, "old-name", "new-name"); err != nil {
		t.Fatal(err)
	}

	tunnels, err := Parse(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(tunnels) != 1 {
		t.Fatalf("expected 1 tunnel, got %+v", tunnels)
	}
	tn := tunnels[0]
	if tn.Name != "new-name" {
		t.Fatalf("expected new-name, got %s", tn.Name)
	}
	if tn.Group != "work" || tn.Forward.ListenPort != 5432 {
		t.Fatalf("rename lost block body: %+v", tn)
	}
}

func TestReadHostBlock(t *testing.T) {
	root := writeConfig(t, t.TempDir(), "config", strings.Join([]string{
		"Host one",
		"  HostName one.example.com",
		"  LocalForward 9100 localhost:80",
		"",
		"Host two",
		"  HostName two.example.com",
		"  LocalForward 9101 localhost:81",
		"",
	}, "\n"))

	file, text, err := ReadHostBlock(root, "one")
	if err != nil {
		t.Fatal(err)
	}
	if file != root {
		t.Fatalf("expected root file, got %s", file)
	}
	if !strings.Contains(text, "Host one") || strings.Contains(text, "Host two") {
		t.Fatalf("unexpected block text:\n%s", text)
	}
}
