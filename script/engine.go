package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gsb"
)

// Engine compiles Lua sources into gsb handlers. Each invocation runs in a
// fresh sandboxed state, so scripts cannot leak state between commands or
// connections.
type Engine struct {
	logger    *zap.Logger
	instLimit int
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithInstructionLimit overrides the per-invocation opcode budget.
func WithInstructionLimit(limit int) EngineOption {
	return func(e *Engine) { e.instLimit = limit }
}

// NewEngine creates an Engine.
//
// Precondition: logger must be non-nil.
func NewEngine(logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{logger: logger, instLimit: DefaultInstructionLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handler compiles source and returns a gsb.HandlerFunc running it. The
// script sees these globals per invocation:
//
//	verb        string: the matched command verb
//	args        string: the argument remainder
//	notify(s)   send a line to the calling connection
//	broadcast(s [, room]) send a line to all active sessions, or one room
//	room()      the session's current room
//	set_room(s) move the session to a room
//	get(k)      read a string session attribute
//	set(k, v)   write a string session attribute
//
// Compilation errors are reported here; runtime errors surface as handler
// failures through the server's error hook.
func (e *Engine) Handler(source string) (gsb.HandlerFunc, error) {
	// Validate the chunk up front so registration fails fast.
	check := newSandboxedState(e.instLimit)
	_, err := check.LoadString(source)
	check.Close()
	if err != nil {
		return nil, fmt.Errorf("compiling script: %w", err)
	}

	return func(c *gsb.Caller) error {
		L := newSandboxedState(e.instLimit)
		defer L.Close()

		e.bindCaller(L, c)

		if rerr := L.DoString(source); rerr != nil {
			return fmt.Errorf("script: %w", rerr)
		}
		return nil
	}, nil
}

// MustHandler is Handler that panics on a compile error, for startup wiring.
func (e *Engine) MustHandler(source string) gsb.HandlerFunc {
	h, err := e.Handler(source)
	if err != nil {
		panic(err)
	}
	return h
}

// bindCaller exposes the caller API to the Lua state.
func (e *Engine) bindCaller(L *lua.LState, c *gsb.Caller) {
	L.SetGlobal("verb", lua.LString(c.Verb))
	L.SetGlobal("args", lua.LString(c.Args))

	L.SetGlobal("notify", L.NewFunction(func(L *lua.LState) int {
		c.Notify("%s", L.CheckString(1))
		return 0
	}))

	L.SetGlobal("broadcast", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		srv := c.Server()
		if srv == nil {
			return 0
		}
		if L.GetTop() >= 2 {
			srv.Broadcast(text, gsb.ToRoom(L.CheckString(2)))
		} else {
			srv.Broadcast(text)
		}
		return 0
	}))

	L.SetGlobal("room", L.NewFunction(func(L *lua.LState) int {
		room := ""
		if c.Session != nil {
			room = c.Session.Room()
		}
		L.Push(lua.LString(room))
		return 1
	}))

	L.SetGlobal("set_room", L.NewFunction(func(L *lua.LState) int {
		if c.Session != nil {
			c.Session.SetRoom(L.CheckString(1))
		}
		return 0
	}))

	L.SetGlobal("get", L.NewFunction(func(L *lua.LState) int {
		val := ""
		if c.Session != nil {
			val = c.Session.GetString(L.CheckString(1))
		}
		L.Push(lua.LString(val))
		return 1
	}))

	L.SetGlobal("set", L.NewFunction(func(L *lua.LState) int {
		if c.Session != nil {
			c.Session.Set(L.CheckString(1), L.CheckString(2))
		}
		return 0
	}))
}
