// Package lua runs source modules from the archive in a gopher-lua VM.
//
// A Runtime owns one Lua state. Its require() is bridged to the module
// resolver, so Lua code can import both source modules and native
// extensions that live in the archive.
//
// A Runtime is not safe for concurrent use: the Lua state is single
// threaded, and nested imports from a running chunk re-enter it directly.
package lua

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/zot/zipenv/internal/bundle"
	"github.com/zot/zipenv/internal/loader"
	"github.com/zot/zipenv/internal/pathentry"
)

// Runtime is a Lua environment whose require() goes through a Resolver.
type Runtime struct {
	State    *lua.LState
	Archive  *bundle.Archive
	Resolver *loader.Resolver
	Log      *log.Logger

	loadedModules *lua.LTable // package.loaded, keyed by dotted module name
	stdout        io.Writer
}

// NewRuntime creates a Lua state importing through resolver.
func NewRuntime(archive *bundle.Archive, resolver *loader.Resolver, logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	r := &Runtime{
		State:         L,
		Archive:       archive,
		Resolver:      resolver,
		Log:           logger,
		loadedModules: L.NewTable(),
		stdout:        os.Stdout,
	}

	// Load standard libraries
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.OsLibName, lua.OpenOs},
		{lua.IoLibName, lua.OpenIo},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	r.registerRequire()
	r.registerZipenvModule()
	return r
}

// Close shuts the Lua state down.
func (r *Runtime) Close() {
	r.State.Close()
}

// SetOutput redirects print().
func (r *Runtime) SetOutput(w io.Writer) {
	r.stdout = w
}

// registerRequire replaces Lua's require() with one that resolves names
// through the Resolver. A module is marked loaded before it runs so
// circular requires see true instead of recursing.
func (r *Runtime) registerRequire() {
	L := r.State
	loaded := r.loadedModules

	requireFn := L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if cached := L.GetField(loaded, modName); cached != lua.LNil {
			L.Push(cached)
			return 1
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		mod, err := r.Resolver.ImportContext(ctx, modName)
		if err != nil {
			L.RaiseError("error loading module '%s': %v", modName, err)
			return 0
		}

		result := r.moduleValue(mod)
		L.SetField(loaded, modName, result)
		L.Push(result)
		return 1
	})
	L.SetGlobal("require", requireFn)

	pkg := L.NewTable()
	L.SetField(pkg, "loaded", loaded)
	L.SetGlobal("package", pkg)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		fmt.Fprintln(r.stdout, strings.Join(parts, "\t"))
		return 0
	}))
}

// moduleValue returns what require() yields for a loaded module.
func (r *Runtime) moduleValue(mod *loader.Module) lua.LValue {
	switch {
	case mod.Kind == loader.KindExtension:
		return r.extensionTable(mod)
	case mod.Value != nil:
		if v, ok := mod.Value.(lua.LValue); ok {
			return v
		}
		return r.GoToLua(mod.Value)
	default:
		return lua.LTrue
	}
}

// registerZipenvModule adds the zipenv.* API to Lua.
func (r *Runtime) registerZipenvModule() {
	L := r.State
	mod := L.NewTable()

	L.SetField(mod, "archive", lua.LString(r.Archive.Path))

	// zipenv.path() returns the active search path
	L.SetField(mod, "path", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		for _, entry := range r.Resolver.Path() {
			tbl.Append(lua.LString(entry))
		}
		L.Push(tbl)
		return 1
	}))

	// zipenv.append_path(entry)
	L.SetField(mod, "append_path", L.NewFunction(func(L *lua.LState) int {
		r.Resolver.AppendPath(L.CheckString(1))
		return 0
	}))

	// zipenv.read(name) reads an archive entry, by archive-relative or host path
	L.SetField(mod, "read", L.NewFunction(func(L *lua.LState) int {
		name := pathentry.Relative(r.Archive.Path, L.CheckString(1))
		data, err := r.Archive.ReadFile(name)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))

	// zipenv.log(level, message, key, value, ...)
	L.SetField(mod, "log", L.NewFunction(func(L *lua.LState) int {
		level, err := log.ParseLevel(L.CheckString(1))
		if err != nil {
			L.ArgError(1, err.Error())
			return 0
		}
		msg := L.CheckString(2)
		var keyvals []any
		for i := 3; i <= L.GetTop(); i++ {
			keyvals = append(keyvals, LuaToGo(L.Get(i)))
		}
		r.Log.With("component", "lua").Log(level, msg, keyvals...)
		return 0
	}))

	L.SetGlobal("zipenv", mod)
	L.SetField(r.loadedModules, "zipenv", mod)
}

// Call invokes callable from a source module: a function field of the
// module's table, or else a global function. args are passed as strings and
// also published as the global arg table, arg[0] being the entry point.
// The result becomes an exit code: a number is used as is, false is 1 and
// anything else is 0.
func (r *Runtime) Call(mod *loader.Module, callable string, args []string) (int, error) {
	L := r.State

	var fn lua.LValue = lua.LNil
	if tbl, ok := r.moduleValue(mod).(*lua.LTable); ok {
		fn = L.GetField(tbl, callable)
	}
	if fn == lua.LNil {
		fn = L.GetGlobal(callable)
	}
	if fn.Type() != lua.LTFunction {
		return 1, fmt.Errorf("%s: %s is not a function", mod.Name, callable)
	}

	argTable := L.NewTable()
	L.RawSetInt(argTable, 0, lua.LString(mod.Name+":"+callable))
	luaArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		luaArgs[i] = lua.LString(a)
		argTable.Append(luaArgs[i])
	}
	L.SetGlobal("arg", argTable)

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
		return 1, fmt.Errorf("%s:%s: %w", mod.Name, callable, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case lua.LNumber:
		return int(v), nil
	case lua.LBool:
		if !bool(v) {
			return 1, nil
		}
	}
	return 0, nil
}
