package state

import (
	"testing"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe(ThreadsChanged, func(Event) { got = append(got, "a") })
	b.Subscribe(ThreadsChanged, func(Event) { got = append(got, "b") })
	b.Subscribe(MessagesChanged, func(Event) { got = append(got, "other") })

	b.Publish(ThreadsChanged, nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}

func TestBusUnsubscribeByHandle(t *testing.T) {
	b := NewBus()
	calls := 0
	fn := func(Event) { calls++ }
	h1 := b.Subscribe(AuthChanged, fn)
	b.Subscribe(AuthChanged, fn)

	if !b.Unsubscribe(h1) {
		t.Fatal("first unsubscribe should succeed")
	}
	if b.Unsubscribe(h1) {
		t.Error("second unsubscribe should report false")
	}
	b.Publish(AuthChanged, nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (duplicate observer keeps its own handle)", calls)
	}
	if h1.Kind() != AuthChanged {
		t.Errorf("Kind() = %v", h1.Kind())
	}
}

func TestBusRecoversPanickingObserver(t *testing.T) {
	b := NewBus()
	reached := false
	b.Subscribe(CurrentThreadChanged, func(Event) { panic("bad observer") })
	b.Subscribe(CurrentThreadChanged, func(e Event) {
		reached = e.Data.(string) == "payload"
	})

	b.Publish(CurrentThreadChanged, "payload")
	if !reached {
		t.Error("observer after the panicking one was not notified")
	}
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	b := NewBus()
	var h Handle
	calls := 0
	h = b.Subscribe(MessagesChanged, func(Event) {
		calls++
		b.Unsubscribe(h)
	})
	b.Publish(MessagesChanged, nil)
	b.Publish(MessagesChanged, nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestEventKindString(t *testing.T) {
	for k, want := range map[EventKind]string{
		AuthChanged:          "auth_changed",
		ThreadsChanged:       "threads_changed",
		MessagesChanged:      "messages_changed",
		CurrentThreadChanged: "current_thread_changed",
		EventKind(9):         "event(9)",
	} {
		if got := k.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
