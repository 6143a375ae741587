package loader

import "github.com/zot/zipenv/internal/pathentry"

// Kind says how a module was loaded.
type Kind int

const (
	KindSource Kind = iota
	KindExtension
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindExtension:
		return "extension"
	default:
		return "unknown"
	}
}

// Module is a live, loaded module.
type Module struct {
	// Name is the dotted module name
	Name string
	// Origin is the archive-relative entry the module was loaded from
	Origin string
	// Archive is the filesystem location of the archive holding Origin
	Archive string
	Kind    Kind
	// Handle is the dynamic linker handle of an extension module
	Handle Handle
	// Value is whatever a source module's chunk returned
	Value any
}

// File returns the module's location in host-path form.
func (m *Module) File() string {
	return pathentry.Join(m.Archive, m.Origin)
}
