package lua

import (
	"reflect"
	"testing"

	glua "github.com/yuin/gopher-lua"
)

func TestToGo_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   glua.LValue
		want any
	}{
		{"nil", glua.LNil, nil},
		{"true", glua.LTrue, true},
		{"integer", glua.LNumber(42), int64(42)},
		{"float", glua.LNumber(1.5), 1.5},
		{"string", glua.LString("hi"), "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToGo(tt.in); got != tt.want {
				t.Errorf("ToGo(%v) = %v (%T), want %v", tt.in, got, got, tt.want)
			}
		})
	}
}

func TestToGo_ArrayTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetInt(1, glua.LString("a"))
	tbl.RawSetInt(2, glua.LString("b"))
	tbl.RawSetInt(3, glua.LNumber(3))

	got := ToGo(tbl)
	want := []any{"a", "b", int64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGo(array table) = %#v, want %#v", got, want)
	}
}

func TestToGo_MapTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("name", glua.LString("echo"))
	tbl.RawSetString("count", glua.LNumber(2))

	got, ok := ToGo(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGo(map table) = %T, want map[string]any", ToGo(tbl))
	}
	if got["name"] != "echo" || got["count"] != int64(2) {
		t.Errorf("ToGo(map table) = %#v", got)
	}
}

func TestToGo_CircularTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("self", tbl)

	got, ok := ToGo(tbl).(map[string]any)
	if !ok {
		t.Fatalf("ToGo(circular) = %T", ToGo(tbl))
	}
	if got["self"] != nil {
		t.Errorf("circular reference = %v, want nil", got["self"])
	}
}

func TestToLua_RoundTrip(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	in := map[string]any{
		"str":  "value",
		"num":  int64(7),
		"flag": true,
		"list": []any{int64(1), int64(2)},
		"nested": map[string]any{
			"k": "v",
		},
	}

	got := ToGo(ToLua(L, in))
	if !reflect.DeepEqual(got, in) {
		t.Errorf("round trip = %#v, want %#v", got, in)
	}
}

func TestCallFunc(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	if err := L.DoString(`function add(a, b) return a + b end`); err != nil {
		t.Fatal(err)
	}
	fn := L.GetGlobal("add").(*glua.LFunction)

	results, err := CallFunc(L, fn, 2, 3)
	if err != nil {
		t.Fatalf("CallFunc() error = %v", err)
	}
	if len(results) != 1 || results[0] != int64(5) {
		t.Errorf("CallFunc() = %v, want [5]", results)
	}
}

func TestWrapGoFunc(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	L.SetGlobal("double", L.NewFunction(WrapGoFunc(func(args []any) (any, error) {
		n, _ := args[0].(int64)
		return n * 2, nil
	})))

	if err := L.DoString(`if double(21) ~= 42 then error("wrong result") end`); err != nil {
		t.Errorf("WrapGoFunc call: %v", err)
	}
}

func TestTableAccessors(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	if err := L.DoString(`t = { name = "x", fn = function() end, sub = {} }`); err != nil {
		t.Fatal(err)
	}
	tbl := L.GetGlobal("t").(*glua.LTable)

	if s, ok := TableString(tbl, "name"); !ok || s != "x" {
		t.Errorf("TableString() = (%q, %v)", s, ok)
	}
	if _, ok := TableFunc(tbl, "fn"); !ok {
		t.Error("TableFunc() did not find function")
	}
	if _, ok := TableTable(tbl, "sub"); !ok {
		t.Error("TableTable() did not find table")
	}
	if _, ok := TableString(tbl, "missing"); ok {
		t.Error("TableString() found missing key")
	}
}
