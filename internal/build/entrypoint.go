package build

import (
	"fmt"
	"strings"
)

// EntryPoint names the callable an archive starts: "<module>:<callable>".
type EntryPoint struct {
	Module   string
	Callable string
}

// ParseEntryPoint parses "<module>:<callable>". The module may be dotted.
func ParseEntryPoint(s string) (EntryPoint, error) {
	module, callable, ok := strings.Cut(s, ":")
	if !ok || strings.Contains(callable, ":") {
		return EntryPoint{}, fmt.Errorf("%w %q: want module:callable", ErrInvalidEntryPoint, s)
	}
	for _, part := range strings.Split(module, ".") {
		if !isIdentifier(part) {
			return EntryPoint{}, fmt.Errorf("%w %q: bad module name", ErrInvalidEntryPoint, s)
		}
	}
	if !isIdentifier(callable) {
		return EntryPoint{}, fmt.Errorf("%w %q: bad callable name", ErrInvalidEntryPoint, s)
	}
	return EntryPoint{Module: module, Callable: callable}, nil
}

func (e EntryPoint) String() string {
	return e.Module + ":" + e.Callable
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
