package loader

import "runtime"

// Suffixes returns the native module suffixes recognized on this platform,
// in lookup priority order: ABI-tagged suffixes before generic ones.
func Suffixes() []string {
	return suffixesFor(runtime.GOOS, runtime.GOARCH)
}

func suffixesFor(goos, goarch string) []string {
	tag := "." + goos + "-" + goarch
	switch goos {
	case "darwin":
		return []string{tag + ".dylib", tag + ".so", ".dylib", ".so"}
	case "windows":
		return []string{tag + ".dll", ".dll"}
	default:
		return []string{tag + ".so", ".so"}
	}
}
