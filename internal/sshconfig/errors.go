package sshconfig

import "fmt"

// ErrorKind classifies configuration failures that must stop a parse.
type ErrorKind string

const (
	// ErrCircularInclude marks an Include chain that revisits a file.
	ErrCircularInclude ErrorKind = "circular-include"
	// ErrDuplicateAlias marks a concrete Host alias declared twice across
	// the include-expanded configuration.
	ErrDuplicateAlias ErrorKind = "duplicate-alias"
	// ErrForwardConflict marks a Host block declaring more than one
	// forwarding directive kind.
	ErrForwardConflict ErrorKind = "forward-conflict"
	// ErrUnparseable marks a forwarding directive with a malformed value.
	ErrUnparseable ErrorKind = "unparseable"
)

// ConfigError reports a configuration problem with its offending location.
type ConfigError struct {
	Kind   ErrorKind
	File   string
	Line   int
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Detail)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Detail)
	}
	return e.Detail
}

func configErr(kind ErrorKind, file string, line int, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, File: file, Line: line, Detail: fmt.Sprintf(format, args...)}
}
