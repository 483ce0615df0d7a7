package meta

import (
	"encoding/json"
	"testing"
)

func TestMap_SetKeepsPosition(t *testing.T) {
	m := NewMap()
	m.Set("title", String("a"))
	m.Set("tags", List(String("x")))
	m.Set("draft", Bool(true))
	m.Set("tags", List())

	keys := m.Keys()
	want := []string{"title", "tags", "draft"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestMap_InsertAndDelete(t *testing.T) {
	m := NewMap()
	m.Set("a", Int(1))
	m.Set("c", Int(3))
	m.Insert(1, "b", Int(2))
	if got := m.Keys(); len(got) != 3 || got[1] != "b" {
		t.Fatalf("keys = %v", got)
	}
	if !m.Delete("a") || m.Delete("a") {
		t.Error("delete should report presence once")
	}
}

func TestValue_EqualDistinguishesScalars(t *testing.T) {
	if Int(1).Equal(Float(1)) {
		t.Error("int and float must differ")
	}
	if String("2024-01-01").Equal(Date("2024-01-01")) {
		t.Error("string and date must differ")
	}
	if !List(String("a")).Equal(List(String("a"))) {
		t.Error("equal lists")
	}
}

func TestValue_IsEmpty(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Null(), true},
		{String(""), true},
		{String("x"), false},
		{Int(0), false},
		{Bool(false), false},
		{List(), true},
		{MapValue(NewMap()), true},
	}
	for _, c := range cases {
		if got := c.v.IsEmpty(); got != c.want {
			t.Errorf("%v.IsEmpty() = %v, want %v", c.v.Kind, got, c.want)
		}
	}
}

func TestJSON_OrderPreserved(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"z":1,"a":{"y":true,"b":[1.5,"s",null]}}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Kind != KindMap || v.Map.Keys()[0] != "z" {
		t.Fatalf("unexpected value %+v", v)
	}
	inner, _ := v.Map.Get("a")
	if inner.Map.Keys()[0] != "y" {
		t.Errorf("inner keys = %v", inner.Map.Keys())
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"z":1,"a":{"y":true,"b":[1.5,"s",null]}}` {
		t.Errorf("marshal = %s", out)
	}
}

func TestNumbersKeepKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{`3`, KindInt},
		{`-7`, KindInt},
		{`3.0`, KindFloat},
		{`1e2`, KindFloat},
		{`2.5`, KindFloat},
	}
	for _, c := range cases {
		var v Value
		if err := json.Unmarshal([]byte(c.in), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", c.in, err)
		}
		if v.Kind != c.want {
			t.Errorf("%s decoded as %v, want %v", c.in, v.Kind, c.want)
		}
	}

	v, err := FromAny([]any{3, float64(3)})
	if err != nil {
		t.Fatal(err)
	}
	if v.List[0].Kind != KindInt || v.List[1].Kind != KindFloat {
		t.Errorf("FromAny kinds = %v, %v", v.List[0].Kind, v.List[1].Kind)
	}
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-03-01", "2024-03-01T10:00:00Z", "2024-03-01 10:00:00"} {
		if _, ok := ParseDate(s); !ok {
			t.Errorf("ParseDate(%q) failed", s)
		}
	}
	if _, ok := ParseDate("yesterday"); ok {
		t.Error("yesterday is not a date")
	}
}
