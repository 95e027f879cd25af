// Package sshconfig discovers tunnel definitions by parsing the OpenSSH
// client configuration, and performs the textual Host-block edits behind
// mole's rename/remove/add operations.
//
// The parser interprets exactly Host, Include, LocalForward, RemoteForward,
// DynamicForward and the `# mole:group=<tag>` sentinel comment. All other
// directives inside a Host block are preserved verbatim as pass-through
// options but never interpreted; the forwarding client re-reads the config
// itself and applies them.
package sshconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mole-cli/mole/internal/model"
	"github.com/mole-cli/mole/internal/util"
)

const groupSentinel = "# mole:group="

// Parse reads the root ssh_config file, expands Include directives
// recursively, and returns every Host block carrying a forwarding directive
// as a tunnel, in declaration order. It is a pure function of file contents
// and safe to call repeatedly and concurrently.
func Parse(root string) ([]model.Tunnel, error) {
	p := &parser{
		sshDir: filepath.Dir(root),
		seen:   map[string]bool{},
		active: map[string]bool{},
		named:  map[string]string{},
	}
	if err := p.parseFile(root, 0); err != nil {
		return nil, err
	}
	return p.tunnels, nil
}

// Files returns the root config plus every file reachable through Include
// expansion, in declaration order. Used by the writer to locate Host blocks
// that live in included files.
func Files(root string) ([]string, error) {
	p := &parser{
		sshDir: filepath.Dir(root),
		seen:   map[string]bool{},
		active: map[string]bool{},
		named:  map[string]string{},
	}
	if err := p.parseFile(root, 0); err != nil {
		return nil, err
	}
	return p.files, nil
}

type parser struct {
	sshDir  string
	seen    map[string]bool // fully expanded files, revisits are skipped
	active  map[string]bool // include chain in progress, a revisit is a cycle
	files   []string
	tunnels []model.Tunnel
	named   map[string]string // tunnel name -> declaring file
}

// block accumulates one Host block while scanning.
type block struct {
	aliases []string
	host    string
	user    string
	group   string
	forward *model.ForwardSpec
	options map[string]string
	file    string
}

func (p *parser) parseFile(path string, depth int) error {
	if depth > util.MaxIncludeDepth {
		return configErr(ErrCircularInclude, path, 0, "include depth exceeded")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if p.active[abs] {
		return configErr(ErrCircularInclude, abs, 0, "file includes itself through its include chain")
	}
	// A diamond include (two files pulling in the same fragment) is legal;
	// the fragment is expanded once and later visits are skipped.
	if p.seen[abs] {
		return nil
	}
	p.seen[abs] = true
	p.active[abs] = true
	defer delete(p.active, abs)
	p.files = append(p.files, abs)

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	var cur *block
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			// The group sentinel is the one comment mole reads; first
			// occurrence inside a block wins.
			if cur != nil && cur.group == "" {
				if tag, ok := strings.CutPrefix(line, groupSentinel); ok {
					cur.group = strings.TrimSpace(tag)
				}
			}
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		switch strings.ToLower(key) {
		case "include":
			if err := p.flush(cur); err != nil {
				return err
			}
			cur = nil
			if err := p.include(abs, lineNo, value, depth); err != nil {
				return err
			}
		case "host":
			if err := p.flush(cur); err != nil {
				return err
			}
			cur = &block{aliases: strings.Fields(value), options: map[string]string{}, file: abs}
		case "localforward", "remoteforward", "dynamicforward":
			if cur == nil {
				continue
			}
			fwd, err := parseForward(strings.ToLower(key), value, abs, lineNo)
			if err != nil {
				return err
			}
			if cur.forward != nil {
				if cur.forward.Kind != fwd.Kind {
					return configErr(ErrForwardConflict, abs, lineNo,
						"Host block mixes %s and %s forwarding", cur.forward.Kind, fwd.Kind)
				}
				// Repeated directive of the same kind: first one wins,
				// matching OpenSSH option semantics.
				continue
			}
			cur.forward = &fwd
		case "hostname":
			if cur != nil && cur.host == "" {
				cur.host = value
			}
		case "user":
			if cur != nil && cur.user == "" {
				cur.user = value
			}
		default:
			if cur != nil {
				if _, dup := cur.options[key]; !dup {
					cur.options[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", abs, err)
	}
	return p.flush(cur)
}

func (p *parser) include(file string, line int, value string, depth int) error {
	for _, pattern := range strings.Fields(value) {
		expanded, err := expandIncludePath(pattern, p.sshDir)
		if err != nil {
			return configErr(ErrUnparseable, file, line, "bad include pattern %q: %v", pattern, err)
		}
		matches, err := filepath.Glob(expanded)
		if err != nil {
			return configErr(ErrUnparseable, file, line, "bad include pattern %q", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if err := p.parseFile(m, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush converts an accumulated block into tunnels, one per concrete alias.
// Blocks without a forwarding directive are not tunnels; wildcard aliases
// are templates and skipped.
func (p *parser) flush(b *block) error {
	if b == nil || b.forward == nil {
		return nil
	}
	for _, alias := range b.aliases {
		if strings.ContainsAny(alias, "*?") || strings.HasPrefix(alias, "!") {
			continue
		}
		if prev, dup := p.named[alias]; dup {
			return configErr(ErrDuplicateAlias, b.file, 0,
				"tunnel %q already declared in %s", alias, prev)
		}
		p.named[alias] = b.file

		opts := b.options
		if len(opts) == 0 {
			opts = nil
		}
		p.tunnels = append(p.tunnels, model.Tunnel{
			Name:     alias,
			HostName: b.host,
			User:     b.user,
			Group:    b.group,
			Forward:  *b.forward,
			Options:  opts,
			Source:   b.file,
		})
	}
	return nil
}

// parseForward parses a forwarding directive value.
//
//	LocalForward  [bind:]port host:port
//	RemoteForward [bind:]port host:port
//	DynamicForward [bind:]port
func parseForward(key, value, file string, line int) (model.ForwardSpec, error) {
	parts := strings.Fields(value)

	if key == "dynamicforward" {
		if len(parts) != 1 {
			return model.ForwardSpec{}, configErr(ErrUnparseable, file, line,
				"DynamicForward wants [bind:]port, got %q", value)
		}
		bind, port, err := parseListen(parts[0])
		if err != nil {
			return model.ForwardSpec{}, configErr(ErrUnparseable, file, line, "DynamicForward %q: %v", value, err)
		}
		return model.ForwardSpec{Kind: model.ForwardDynamic, BindAddr: bind, ListenPort: port}, nil
	}

	if len(parts) != 2 {
		return model.ForwardSpec{}, configErr(ErrUnparseable, file, line,
			"%s wants [bind:]port host:port, got %q", directiveName(key), value)
	}
	bind, listen, err := parseListen(parts[0])
	if err != nil {
		return model.ForwardSpec{}, configErr(ErrUnparseable, file, line, "%s %q: %v", directiveName(key), value, err)
	}
	host, port, err := splitHostPort(parts[1])
	if err != nil {
		return model.ForwardSpec{}, configErr(ErrUnparseable, file, line, "%s %q: %v", directiveName(key), value, err)
	}

	kind := model.ForwardLocal
	if key == "remoteforward" {
		kind = model.ForwardRemote
	}
	return model.ForwardSpec{
		Kind:       kind,
		BindAddr:   bind,
		ListenPort: listen,
		TargetHost: host,
		TargetPort: port,
	}, nil
}

// ParseDirective parses a rendered forwarding directive (as produced by
// model.ForwardSpec.Directive) back into a spec.
func ParseDirective(key, value string) (model.ForwardSpec, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	switch k {
	case "localforward", "remoteforward", "dynamicforward":
		return parseForward(k, value, "", 0)
	default:
		return model.ForwardSpec{}, fmt.Errorf("not a forwarding directive: %s", key)
	}
}

func directiveName(lower string) string {
	switch lower {
	case "remoteforward":
		return "RemoteForward"
	case "dynamicforward":
		return "DynamicForward"
	default:
		return "LocalForward"
	}
}

// parseListen splits "[bind:]port" into its parts.
func parseListen(s string) (bind string, port int, err error) {
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		bind = s[:idx]
		s = s[idx+1:]
		if bind == "" {
			return "", 0, fmt.Errorf("empty bind address")
		}
	}
	port, err = strconv.Atoi(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", s)
	}
	if err := util.ValidatePort(port); err != nil {
		return "", 0, err
	}
	return bind, port, nil
}

// splitHostPort splits "host:port" on the last colon.
func splitHostPort(s string) (host string, port int, err error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		return "", 0, fmt.Errorf("want host:port, got %q", s)
	}
	host = s[:idx]
	port, err = strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", s[idx+1:])
	}
	if err := util.ValidatePort(port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// splitDirective splits an ssh_config line into key and value. Directives
// may use whitespace or '=' as the separator.
func splitDirective(line string) (key, value string, ok bool) {
	if i := strings.IndexAny(line, " \t"); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	if i := strings.Index(line, "="); i > 0 {
		key = strings.TrimSpace(line[:i])
		value = strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	return "", "", false
}

func expandIncludePath(pattern, sshDir string) (string, error) {
	if strings.HasPrefix(pattern, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		return filepath.Join(home, pattern[2:]), nil
	}
	if filepath.IsAbs(pattern) {
		return pattern, nil
	}
	return filepath.Join(sshDir, pattern), nil
}
