package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/zot/zipenv/internal/loader"
)

// extensionTable exposes a native module to Lua:
//
//	__name, __file, __origin  identity
//	has(symbol)               whether the module exports symbol
//	call(symbol, ...)         call a C function with integer arguments
func (r *Runtime) extensionTable(mod *loader.Module) *lua.LTable {
	L := r.State
	tbl := L.NewTable()

	L.SetField(tbl, "__name", lua.LString(mod.Name))
	L.SetField(tbl, "__file", lua.LString(mod.File()))
	L.SetField(tbl, "__origin", lua.LString(mod.Origin))

	L.SetField(tbl, "has", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(mod.Handle != nil && mod.Handle.Has(L.CheckString(1))))
		return 1
	}))

	L.SetField(tbl, "call", L.NewFunction(func(L *lua.LState) int {
		symbol := L.CheckString(1)
		if mod.Handle == nil {
			L.RaiseError("%s has no native handle", mod.Name)
			return 0
		}
		args := make([]uintptr, 0, L.GetTop()-1)
		for i := 2; i <= L.GetTop(); i++ {
			args = append(args, uintptr(int64(L.CheckNumber(i))))
		}
		rc, err := mod.Handle.Call(symbol, args...)
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(lua.LNumber(float64(int64(rc))))
		return 1
	}))

	return tbl
}
