package luahook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/MrEthical07/loginhook/host"
)

// ErrCompile wraps syntax errors in hook sources.
var ErrCompile = errors.New("lua compile error")

// Default limits for a hook state.
const (
	DefaultCallStackSize = 120
	DefaultRegistrySize  = 1024 * 20
)

// Chunk is a compiled hook body. It can be run any number of times.
type Chunk struct {
	name  string
	proto *lua.FunctionProto
}

func (c *Chunk) Name() string {
	return c.name
}

// Compile parses and compiles source.
func Compile(name, source string) (*Chunk, error) {
	stmts, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCompile, name, err)
	}
	proto, err := lua.Compile(stmts, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCompile, name, err)
	}
	return &Chunk{name: name, proto: proto}, nil
}

// Module is a table of Go functions exposed to the script under a global name
// and through require.
type Module struct {
	Name      string
	Functions map[string]lua.LGFunction
}

// Run executes chunk in a fresh sandboxed state.
func Run(ctx context.Context, chunk *Chunk, modules ...Module) error {
	if chunk == nil {
		return errors.New("nil chunk")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	L := newState()
	defer L.Close()
	L.SetContext(ctx)

	for _, m := range modules {
		installModule(L, m)
	}

	fn := L.NewFunctionFromProto(chunk.proto)
	L.Push(fn)
	err := L.PCall(0, lua.MultRet, nil)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return toHookError(err)
}

func newState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       DefaultCallStackSize,
		RegistrySize:        DefaultRegistrySize,
		IncludeGoStackTrace: false,
	})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.LoadLibName, lua.OpenPackage},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	installSandbox(L)
	return L
}

// installSandbox removes loaders that reach the file system and limits
// require to preloaded modules.
func installSandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
		// Only the preload searcher stays.
		if loaders, ok := L.GetField(pkg, "loaders").(*lua.LTable); ok {
			for i := loaders.Len(); i > 1; i-- {
				loaders.Remove(i)
			}
		}
	}
}

func installModule(L *lua.LState, m Module) {
	mod := L.SetFuncs(L.NewTable(), m.Functions)
	L.SetGlobal(m.Name, mod)
	L.PreloadModule(m.Name, func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
}

// Raise aborts the running script with a structured error. It does not
// return.
func Raise(L *lua.LState, herr *host.HookError) {
	ud := L.NewUserData()
	ud.Value = herr
	L.Error(ud, 1)
}

// RaiseFunction is the Lua binding raise(code, message [, detail [, hint]]).
func RaiseFunction(L *lua.LState) int {
	herr := &host.HookError{
		Code:    L.CheckString(1),
		Message: L.CheckString(2),
		Detail:  L.OptString(3, ""),
		Hint:    L.OptString(4, ""),
	}
	if len(herr.Code) != 5 {
		L.ArgError(1, "code must be a five-character SQLSTATE")
		return 0
	}
	Raise(L, herr)
	return 0
}

func toHookError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &host.HookError{Code: pgerrcode.RaiseException, Message: err.Error(), Cause: err}
	}

	switch obj := apiErr.Object.(type) {
	case *lua.LUserData:
		if herr, ok := obj.Value.(*host.HookError); ok {
			return herr
		}
	case *lua.LTable:
		herr := &host.HookError{
			Code:    tableString(obj, "code"),
			Message: tableString(obj, "message"),
			Detail:  tableString(obj, "detail"),
			Hint:    tableString(obj, "hint"),
		}
		if herr.Code == "" {
			herr.Code = pgerrcode.RaiseException
		}
		if herr.Message == "" {
			herr.Message = "login hook raised an error"
		}
		return herr
	}

	code := pgerrcode.RaiseException
	if apiErr.Type == lua.ApiErrorSyntax {
		code = pgerrcode.SyntaxError
	}
	msg := err.Error()
	if apiErr.Object != nil && apiErr.Object != lua.LNil {
		msg = apiErr.Object.String()
	}
	return &host.HookError{Code: code, Message: msg, Detail: apiErr.StackTrace, Cause: err}
}

func tableString(t *lua.LTable, key string) string {
	v := t.RawGetString(key)
	if v == lua.LNil {
		return ""
	}
	return v.String()
}
