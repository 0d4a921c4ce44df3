package redishost

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/MrEthical07/loginhook"
	"github.com/MrEthical07/loginhook/luahook"
)

func (h *Host) sessionModule() luahook.Module {
	return luahook.Module{
		Name: "session",
		Functions: map[string]lua.LGFunction{
			"get":       h.luaGet,
			"set":       h.luaSet,
			"del":       h.luaDel,
			"log":       h.luaLog,
			"notice":    h.luaNotice,
			"raise":     luahook.RaiseFunction,
			"user":      h.luaUser,
			"database":  h.luaDatabase,
			"executing": luaExecuting,
			"connect":   h.luaConnect,
		},
	}
}

func (h *Host) luaGet(L *lua.LState) int {
	key := L.CheckString(1)

	h.mu.Lock()
	full := h.keys.data(h.session.DatabaseID, key)
	if h.tx != nil {
		if v, deleted, found := h.tx.lookup(full); found {
			h.mu.Unlock()
			if deleted {
				L.Push(lua.LNil)
			} else {
				L.Push(lua.LString(v))
			}
			return 1
		}
	}
	h.mu.Unlock()

	v, present, err := h.readPinned(L.Context(), full)
	if err != nil {
		L.RaiseError("session.get: %s", err.Error())
		return 0
	}
	if !present {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func (h *Host) luaSet(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)

	h.mu.Lock()
	full := h.keys.data(h.session.DatabaseID, key)
	if h.tx != nil {
		h.tx.set(full, value)
		h.mu.Unlock()
		return 0
	}
	delete(h.pinned, full)
	h.mu.Unlock()

	if err := h.redis.Set(L.Context(), full, value, 0).Err(); err != nil {
		L.RaiseError("session.set: %s", err.Error())
	}
	return 0
}

func (h *Host) luaDel(L *lua.LState) int {
	key := L.CheckString(1)

	h.mu.Lock()
	full := h.keys.data(h.session.DatabaseID, key)
	if h.tx != nil {
		h.tx.del(full)
		h.mu.Unlock()
		return 0
	}
	delete(h.pinned, full)
	h.mu.Unlock()

	if err := h.redis.Del(L.Context(), full).Err(); err != nil {
		L.RaiseError("session.del: %s", err.Error())
	}
	return 0
}

func (h *Host) luaLog(L *lua.LState) int {
	h.logger.InfoContext(L.Context(), L.CheckString(1), "source", "login_hook")
	return 0
}

func (h *Host) luaNotice(L *lua.LState) int {
	msg := L.CheckString(1)
	h.mu.Lock()
	h.notices = append(h.notices, msg)
	h.mu.Unlock()
	h.logger.InfoContext(L.Context(), msg, "source", "login_hook", "notice", true)
	return 0
}

func (h *Host) luaUser(L *lua.LState) int {
	h.mu.Lock()
	user := h.session.User
	h.mu.Unlock()
	L.Push(lua.LString(user))
	return 1
}

func (h *Host) luaDatabase(L *lua.LState) int {
	h.mu.Lock()
	db := h.session.DatabaseName
	h.mu.Unlock()
	L.Push(lua.LString(db))
	return 1
}

func luaExecuting(L *lua.LState) int {
	L.Push(lua.LBool(loginhook.ExecutingFrom(L.Context())))
	return 1
}

// luaConnect returns the nested attempt's outcome and skip reason.
func (h *Host) luaConnect(L *lua.LState) int {
	h.mu.Lock()
	d := h.dispatcher
	h.mu.Unlock()
	if d == nil {
		L.RaiseError("session.connect: no dispatcher attached")
		return 0
	}

	res, err := d.Dispatch(L.Context())
	if err != nil {
		L.RaiseError("session.connect: %s", err.Error())
		return 0
	}
	L.Push(lua.LString(res.Outcome.String()))
	L.Push(lua.LString(res.Reason.String()))
	return 2
}
