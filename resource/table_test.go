package resource

import (
	"errors"
	"testing"
)

type testObserver struct {
	events []Event[string]
}

func (o *testObserver) OnResourceEvent(e Event[string]) {
	o.events = append(o.events, e)
}

func TestTable_Basic(t *testing.T) {
	table := NewTable[string](0)

	h, err := table.Insert("test")
	if err != nil || h == 0 {
		t.Fatalf("Insert = %d, %v", h, err)
	}

	val, ok := table.Get(h)
	if !ok || val != "test" {
		t.Fatalf("Get = %q, %v", val, ok)
	}

	if _, ok := table.Get(0); ok {
		t.Fatal("handle 0 must be invalid")
	}
	if _, ok := table.Get(h + 1); ok {
		t.Fatal("unissued handle must be invalid")
	}

	val, ok = table.Remove(h)
	if !ok || val != "test" {
		t.Fatalf("Remove = %q, %v", val, ok)
	}
	if _, ok := table.Remove(h); ok {
		t.Fatal("double Remove should fail")
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestTable_Reuse(t *testing.T) {
	table := NewTable[string](0)
	a, _ := table.Insert("a")
	b, _ := table.Insert("b")
	table.Remove(a)

	c, _ := table.Insert("c")
	if c != a {
		t.Errorf("freed handle not reused: got %d, want %d", c, a)
	}
	if v, _ := table.Get(b); v != "b" {
		t.Errorf("unrelated handle disturbed: %q", v)
	}
}

func TestTable_Limit(t *testing.T) {
	table := NewTable[int](2)
	table.Insert(1)
	h, _ := table.Insert(2)

	if _, err := table.Insert(3); !errors.Is(err, ErrFull) {
		t.Fatalf("err = %v, want ErrFull", err)
	}
	table.Remove(h)
	if _, err := table.Insert(3); err != nil {
		t.Fatalf("insert after remove: %v", err)
	}
	if table.Limit() != 2 {
		t.Errorf("Limit = %d", table.Limit())
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable[string](0)
	obs := &testObserver{}
	table.Subscribe(obs)

	h, _ := table.Insert("test")
	if len(obs.events) != 1 || obs.events[0].Type != EventCreated || obs.events[0].Handle != h {
		t.Fatalf("events = %+v", obs.events)
	}

	table.Remove(h)
	if len(obs.events) != 2 || obs.events[1].Type != EventDropped || obs.events[1].Value != "test" {
		t.Fatalf("events = %+v", obs.events)
	}
}

func TestTable_ObserverReentrant(t *testing.T) {
	table := NewTable[string](0)
	var seen int
	table.Subscribe(ObserverFunc[string](func(e Event[string]) {
		seen = table.Len()
	}))
	table.Insert("x")
	if seen != 1 {
		t.Errorf("observer saw Len %d", seen)
	}
}

func TestTable_Each(t *testing.T) {
	table := NewTable[string](0)
	table.Insert("a")
	h, _ := table.Insert("b")
	table.Insert("c")
	table.Remove(h)

	var got []string
	table.Each(func(_ Handle, v string) bool {
		got = append(got, v)
		return true
	})
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("Each = %v", got)
	}

	n := 0
	table.Each(func(Handle, string) bool {
		n++
		return false
	})
	if n != 1 {
		t.Errorf("Each should stop early, visited %d", n)
	}
}

type dropCounter struct {
	count int
}

func (d *dropCounter) Drop() {
	d.count++
}

func TestTable_Dropper(t *testing.T) {
	table := NewTable[*dropCounter](0)
	d := &dropCounter{}
	h, _ := table.Insert(d)
	table.Remove(h)
	if d.count != 1 {
		t.Fatalf("Expected Drop() to be called once, called %d times", d.count)
	}

	e := &dropCounter{}
	table.Insert(e)
	if err := table.Close(); err != nil {
		t.Fatal(err)
	}
	if e.count != 1 {
		t.Fatal("Close should drop live values")
	}
	if _, err := table.Insert(&dropCounter{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Insert after Close = %v", err)
	}
	if table.Len() != 0 {
		t.Fatal("closed table should be empty")
	}
}

func TestEventType_String(t *testing.T) {
	if EventCreated.String() != "created" || EventDropped.String() != "dropped" {
		t.Error("unexpected names")
	}
}
