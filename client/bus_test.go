package client

import "testing"

func TestBusEmit(t *testing.T) {
	b := newBus()

	var got []string
	b.on("ev", func(data []byte) { got = append(got, string(data)) })
	b.emit("ev", []byte("one"))
	b.emit("other", []byte("two"))

	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("handler calls: %v", got)
	}
}

func TestBusDuplicateRegistrationIsNoOp(t *testing.T) {
	b := newBus()

	calls := 0
	h := func(data []byte) { calls++ }
	b.on("ev", h)
	b.on("ev", h)
	b.emit("ev", nil)

	if calls != 1 {
		t.Fatalf("duplicate registration caused %d calls", calls)
	}
}

func TestBusOff(t *testing.T) {
	b := newBus()

	calls := 0
	h := func(data []byte) { calls++ }
	b.on("ev", h)
	b.off("ev", h)
	b.emit("ev", nil)

	if calls != 0 {
		t.Fatalf("handler called %d times after Off", calls)
	}

	// Removing an unregistered handler is harmless.
	b.off("ev", h)
	b.off("never", h)
}

func TestBusNilHandler(t *testing.T) {
	b := newBus()
	b.on("ev", nil)
	b.off("ev", nil)
	b.emit("ev", nil)
}
