package engine

import (
	"strings"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/patchbay/internal/native"
)

// install registers the script API as globals.
func (e *Engine) install() {
	api := map[string]lua.LGFunction{
		"print":     e.luaPrint,
		"log":       e.luaLog,
		"post":      e.luaPost,
		"post_json": e.luaPostJSON,
		"create":    e.luaCreate,
		"destroy":   e.luaDestroy,
		"note":      e.luaNote,
		"cc":        e.luaCC,
		"param":     e.luaParam,
		"dsp":       e.luaDSP,
	}
	for name, fn := range api {
		e.state.SetGlobal(name, e.state.NewFunction(fn))
	}
}

// result pushes true when err is nil, or false and the error text.
func (e *Engine) result(L *lua.LState, err error) int {
	if err != nil {
		e.rejected.Add(1)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// print(...) writes its arguments, separated by spaces, as a raw fragment.
// No newline is added.
func (e *Engine) luaPrint(L *lua.LState) int {
	e.calls.Add(1)
	n := L.GetTop()
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			sb.WriteByte(' ')
		}
		sb.WriteString(L.ToStringMeta(L.Get(i)).String())
	}
	e.target.Print(e.id, sb.String())
	return 0
}

// log(level, text)
func (e *Engine) luaLog(L *lua.LState) int {
	e.calls.Add(1)
	level := L.CheckString(1)
	text := L.CheckString(2)

	var err error
	switch strings.ToLower(level) {
	case "info", "message":
		err = e.target.LogMessage(e.id, text)
	case "warn", "warning":
		err = e.target.LogWarning(e.id, text)
	case "error":
		err = e.target.LogError(e.id, text)
	default:
		L.ArgError(1, "level must be info, warn or error")
		return 0
	}
	return e.result(L, err)
}

// post(id, name, ...) sends numbers as floats and strings as symbols.
func (e *Engine) luaPost(L *lua.LState) int {
	e.calls.Add(1)
	id := checkID(L, 1)
	name := L.CheckString(2)

	payload := make(native.Atoms, 0, L.GetTop()-2)
	for i := 3; i <= L.GetTop(); i++ {
		switch v := L.Get(i).(type) {
		case lua.LNumber:
			payload = append(payload, native.Float(float32(v)))
		case lua.LString:
			payload = append(payload, native.Symbol(string(v)))
		default:
			L.ArgError(i, "number or string expected, got "+v.Type().String())
			return 0
		}
	}
	return e.result(L, e.target.Post(id, name, payload))
}

// post_json(id, name, json) decodes a JSON array of numbers and strings.
func (e *Engine) luaPostJSON(L *lua.LState) int {
	e.calls.Add(1)
	id := checkID(L, 1)
	name := L.CheckString(2)
	src := L.CheckString(3)

	payload, ok := atomsFromJSON(src)
	if !ok {
		L.ArgError(3, "JSON array of numbers and strings expected")
		return 0
	}
	return e.result(L, e.target.Post(id, name, payload))
}

// atomsFromJSON decodes a JSON array of numbers and strings.
func atomsFromJSON(src string) (native.Atoms, bool) {
	if !gjson.Valid(src) {
		return nil, false
	}
	doc := gjson.Parse(src)
	if !doc.IsArray() {
		return nil, false
	}
	var payload native.Atoms
	ok := true
	doc.ForEach(func(_, v gjson.Result) bool {
		switch v.Type {
		case gjson.Number:
			payload = append(payload, native.Float(float32(v.Float())))
		case gjson.String:
			payload = append(payload, native.Symbol(v.String()))
		default:
			ok = false
		}
		return ok
	})
	if !ok {
		return nil, false
	}
	return payload, true
}

// create() returns a fresh identity.
func (e *Engine) luaCreate(L *lua.LState) int {
	e.calls.Add(1)
	L.Push(lua.LNumber(e.alloc.Next()))
	return 1
}

// destroy(id)
func (e *Engine) luaDestroy(L *lua.LState) int {
	e.calls.Add(1)
	e.target.ObjectDestroyed(checkID(L, 1))
	return 0
}

// note(ch, key, vel)
func (e *Engine) luaNote(L *lua.LState) int {
	e.calls.Add(1)
	ch := checkByte(L, 1, 15)
	key := checkByte(L, 2, 127)
	vel := checkByte(L, 3, 127)
	return e.result(L, e.target.NoteOn(ch, key, vel))
}

// cc(ch, ctl, val)
func (e *Engine) luaCC(L *lua.LState) int {
	e.calls.Add(1)
	ch := checkByte(L, 1, 15)
	ctl := checkByte(L, 2, 127)
	val := checkByte(L, 3, 127)
	return e.result(L, e.target.ControlChange(ch, ctl, val))
}

// param(name, value)
func (e *Engine) luaParam(L *lua.LState) int {
	e.calls.Add(1)
	name := L.CheckString(1)
	value := float32(L.CheckNumber(2))
	return e.result(L, e.target.ParameterChanged(name, value))
}

// dsp(on)
func (e *Engine) luaDSP(L *lua.LState) int {
	e.calls.Add(1)
	return e.result(L, e.target.DSPStateChanged(L.CheckBool(1)))
}

func checkID(L *lua.LState, n int) native.ID {
	v := L.CheckNumber(n)
	if v <= 0 || float64(v) != float64(uint64(v)) {
		L.ArgError(n, "object id expected")
		return native.Nil
	}
	return native.ID(uint64(v))
}

func checkByte(L *lua.LState, n int, limit int) uint8 {
	v := L.CheckInt(n)
	if v < 0 || v > limit {
		L.ArgError(n, "value out of range")
		return 0
	}
	return uint8(v)
}
