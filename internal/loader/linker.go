package loader

// Handle is a shared object mapped by the dynamic linker.
type Handle interface {
	// Has reports whether the object exports symbol
	Has(symbol string) bool
	// Call invokes a C function symbol with integer-class arguments
	Call(symbol string, args ...uintptr) (uintptr, error)
	Close() error
}

// Linker wraps the OS dynamic-module-load primitive.
type Linker interface {
	Open(name, path string) (Handle, error)
}

// DefaultLinker returns the platform dynamic linker.
func DefaultLinker() Linker {
	return dlLinker{}
}
