package bus

import (
	"errors"
	"testing"
)

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got []any
	b.Subscribe("contact.entering", func(e Event) error {
		got = append(got, e.Data())
		return nil
	})
	if err := b.Publish(NewEvent("contact.entering", "tester", 123)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(NewEvent("contact.leaving", "tester", 456)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0] != 123 {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestAnyTypeReceivesEverything(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe(AnyType, func(Event) error { count++; return nil })
	_ = b.Publish(NewEvent("a", "src", nil))
	_ = b.Publish(NewEvent("b", "src", nil))
	if count != 2 {
		t.Fatalf("expected 2 deliveries, got %d", count)
	}
}

func TestFiltersArePerSubscription(t *testing.T) {
	b := New()
	var even, all int
	b.Subscribe("n", func(Event) error { even++; return nil }, func(e Event) bool { return e.Data().(int)%2 == 0 })
	b.Subscribe("n", func(Event) error { all++; return nil })
	for i := 0; i < 4; i++ {
		_ = b.Publish(NewEvent("n", "src", i))
	}
	if even != 2 || all != 4 {
		t.Fatalf("filter mismatch: even=%d all=%d", even, all)
	}
	if m := b.Metrics(); m.Filtered != 2 || m.Delivered != 6 || m.Published != 4 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	errA, errB := errors.New("a"), errors.New("b")
	b.Subscribe("x", func(Event) error { return errA })
	b.Subscribe("x", func(Event) error { return errB })
	err := b.Publish(NewEvent("x", "src", nil))
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if b.Metrics().Errors != 2 {
		t.Fatalf("expected 2 errors, got %+v", b.Metrics())
	}
}

func TestCancel(t *testing.T) {
	b := New()
	count := 0
	sub := b.Subscribe("x", func(Event) error { count++; return nil })
	if sub.ID() == "" || sub.EventType() != "x" || !sub.IsActive() {
		t.Fatalf("bad subscription: %+v", sub)
	}
	b.Unsubscribe(sub)
	sub.Cancel()
	b.Unsubscribe(nil)
	_ = b.Publish(NewEvent("x", "src", nil))
	if count != 0 || sub.IsActive() {
		t.Fatalf("cancelled subscription still delivered")
	}
	if n := b.Metrics().Subscribers; n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestCancelFromHandler(t *testing.T) {
	b := New()
	var sub Subscription
	calls := 0
	sub = b.Subscribe("x", func(Event) error {
		calls++
		sub.Cancel()
		return nil
	})
	_ = b.Publish(NewEvent("x", "src", nil))
	_ = b.Publish(NewEvent("x", "src", nil))
	if calls != 1 {
		t.Fatalf("expected one delivery, got %d", calls)
	}
}
