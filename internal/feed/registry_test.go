package feed

import (
	"sync"
	"testing"
)

func TestHandlerRegistry_SetAndLookup(t *testing.T) {
	r := newHandlerRegistry()

	called := false
	r.set("quote_update", func(Message) { called = true })

	fn, ok := r.lookup("quote_update")
	if !ok {
		t.Fatal("lookup returned false for registered tag")
	}
	fn(Message{})
	if !called {
		t.Error("returned handler is not the registered one")
	}

	if _, ok := r.lookup("other"); ok {
		t.Error("lookup returned true for unregistered tag")
	}
}

func TestHandlerRegistry_SetReplaces(t *testing.T) {
	r := newHandlerRegistry()

	var got string
	r.set("tick", func(Message) { got = "first" })
	r.set("tick", func(Message) { got = "second" })

	if r.size() != 1 {
		t.Errorf("size = %d, want 1", r.size())
	}

	fn, _ := r.lookup("tick")
	fn(Message{})
	if got != "second" {
		t.Errorf("invoked %q handler, want second", got)
	}
}

func TestHandlerRegistry_SetNil(t *testing.T) {
	r := newHandlerRegistry()

	r.set("tick", nil)
	if r.size() != 0 {
		t.Errorf("size = %d after registering nil, want 0", r.size())
	}
}

func TestHandlerRegistry_Remove(t *testing.T) {
	r := newHandlerRegistry()

	r.set("tick", func(Message) {})
	r.remove("tick")

	if _, ok := r.lookup("tick"); ok {
		t.Error("lookup returned true after remove")
	}

	// Removing an absent tag is a no-op.
	r.remove("tick")
	r.remove("never-registered")
}

func TestHandlerRegistry_Clear(t *testing.T) {
	r := newHandlerRegistry()

	r.set("a", func(Message) {})
	r.set("b", func(Message) {})
	r.clear()

	if r.size() != 0 {
		t.Errorf("size = %d after clear, want 0", r.size())
	}
}

func TestHandlerRegistry_Concurrent(t *testing.T) {
	r := newHandlerRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.set("tick", func(Message) {})
				r.lookup("tick")
				r.remove("tick")
			}
		}()
	}
	wg.Wait()
}
