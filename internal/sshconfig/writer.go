package sshconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/mole-cli/mole/internal/model"
)

// findHostRange locates the line range [start, end) of a Host block in a
// single file. A block runs from its Host line to the next Host/Match line
// or end of file.
func findHostRange(path, name string) (start, end int, found bool, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false, err
	}
	lines := strings.Split(string(content), "\n")

	blockStart := -1
	for i, raw := range lines {
		key, value, ok := splitDirective(strings.TrimSpace(raw))
		if !ok {
			continue
		}
		lk := strings.ToLower(key)
		if lk != "host" && lk != "match" {
			continue
		}
		if blockStart >= 0 {
			return blockStart, i, true, nil
		}
		if lk == "host" {
			for _, alias := range strings.Fields(value) {
				if alias == name {
					blockStart = i
					break
				}
			}
		}
	}
	if blockStart >= 0 {
		return blockStart, len(lines), true, nil
	}
	return 0, 0, false, nil
}

// ReadHostBlock returns the file and raw text of the Host block declaring
// name, searching the root config and all included files. The file contents
// are not modified.
func ReadHostBlock(root, name string) (file, blockText string, err error) {
	files, err := Files(root)
	if err != nil {
		return "", "", err
	}
	for _, f := range files {
		start, end, found, err := findHostRange(f, name)
		if err != nil {
			return "", "", err
		}
		if !found {
			continue
		}
		content, err := os.ReadFile(f)
		if err != nil {
			return "", "", err
		}
		lines := strings.Split(string(content), "\n")
		return f, strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n"), nil
	}
	return "", "", fmt.Errorf("host block %q not found in SSH config files", name)
}

// RemoveHostBlock deletes the Host block declaring name and returns the file
// it was removed from.
func RemoveHostBlock(root, name string) (string, error) {
	files, err := Files(root)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		start, end, found, err := findHostRange(f, name)
		if err != nil {
			return "", err
		}
		if !found {
			continue
		}
		content, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		lines := strings.Split(string(content), "\n")
		kept := append(append([]string{}, lines[:start]...), lines[end:]...)
		for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
			kept = kept[:len(kept)-1]
		}
		out := strings.Join(kept, "\n")
		if out != "" {
			out += "\n"
		}
		if err := os.WriteFile(f, []byte(out), 0o600); err != nil {
			return "", err
		}
		return f, nil
	}
	return "", fmt.Errorf("host block %q not found in SSH config files", name)
}

// RenameHostBlock rewrites the Host line of the block declaring oldName so
// it declares newName, preserving indentation and the rest of the block.
// Returns the file that was edited.
func RenameHostBlock(root, oldName, newName string) (string, error) {
	files, err := Files(root)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		start, _, found, err := findHostRange(f, oldName)
		if err != nil {
			return "", err
		}
		if !found {
			continue
		}
		content, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		lines := strings.Split(string(content), "\n")
		trimmed := strings.TrimSpace(lines[start])
		leading := lines[start][:len(lines[start])-len(trimmed)]
		lines[start] = fmt.Sprintf("%sHost %s", leading, newName)
		if err := os.WriteFile(f, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
			return "", err
		}
		return f, nil
	}
	return "", fmt.Errorf("host block %q not found in SSH config files", oldName)
}

// FormatTunnelBlock renders a Host block for a tunnel, including the group
// sentinel when a group is set. Only non-empty fields are emitted.
func FormatTunnelBlock(t model.Tunnel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host %s\n", t.Name)
	if t.Group != "" {
		fmt.Fprintf(&b, "  %s%s\n", groupSentinel, t.Group)
	}
	if t.HostName != "" {
		fmt.Fprintf(&b, "  HostName %s\n", t.HostName)
	}
	if t.User != "" {
		fmt.Fprintf(&b, "  User %s\n", t.User)
	}
	key, value := t.Forward.Directive()
	fmt.Fprintf(&b, "  %s %s\n", key, value)
	for k, v := range t.Options {
		fmt.Fprintf(&b, "  %s %s\n", k, v)
	}
	return b.String()
}

// AppendTunnelBlock appends a new Host block to the root config file,
// separated from existing content by a blank line.
func AppendTunnelBlock(root string, t model.Tunnel) error {
	existing, err := os.ReadFile(root)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read ssh config: %w", err)
	}

	var prefix string
	if len(existing) > 0 {
		prefix = "\n"
		if !strings.HasSuffix(string(existing), "\n") {
			prefix = "\n\n"
		}
	}

	f, err := os.OpenFile(root, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ssh config for append: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(prefix + FormatTunnelBlock(t)); err != nil {
		return fmt.Errorf("write host block: %w", err)
	}
	return nil
}
