// This file re-exports internal packages for programs that embed zipenv
// instead of running the zipenv command.
package cli

import (
	"github.com/zot/zipenv/internal/bootstrap"
	"github.com/zot/zipenv/internal/build"
	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/loader"
	"github.com/zot/zipenv/internal/manifest"
	"github.com/zot/zipenv/internal/sitecfg"
)

// Re-export runtime types
type (
	Runtime         = bootstrap.Runtime
	RuntimeOptions  = bootstrap.Options
	Archive         = bundle.Archive
	BundleFileInfo  = bundle.FileInfo
	Compression     = bundle.Compression
	BuildOptions    = build.Options
	BuildInfo       = build.Info
	EntryPoint      = build.EntryPoint
	Directive       = sitecfg.Directive
	DirectiveHook   = sitecfg.HookFunc
	Module          = loader.Module
	Resolver        = loader.Resolver
	Finder          = loader.Finder
	PathHook        = loader.PathHook
	ExtensionFinder = loader.ExtensionFinder
	ExtensionLoader = loader.ExtensionLoader
	ExtensionLinker = loader.Linker
	ExtensionHandle = loader.Handle
)

// Re-export constructors and helpers
var (
	Install         = bootstrap.Install
	Build           = build.Run
	ParseEntryPoint = build.ParseEntryPoint
	ParseSiteDirs   = build.ParseSiteDirs
	OpenArchive     = bundle.Open
	OpenSelf        = bundle.OpenSelf
	IsBundled       = bundle.IsBundled
	CreateBundle    = bundle.CreateBundle
	NewResolver     = loader.NewResolver
	ModuleSuffixes  = loader.Suffixes
)

// Re-export error kinds
var (
	ErrManifestMissing         = manifest.ErrManifestMissing
	ErrExtensionLoadFailed     = loader.ErrExtensionLoadFailed
	ErrModuleNotFound          = loader.ErrModuleNotFound
	ErrImportCycle             = loader.ErrImportCycle
	ErrInvalidEntryPoint       = build.ErrInvalidEntryPoint
	ErrDependencyInstallFailed = build.ErrDependencyInstallFailed
	ErrConfigDirectiveFailed   = sitecfg.ErrConfigDirectiveFailed
)
