package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()

	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(ConnectionStatus("connected", "ok"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeConnectionStatus {
				t.Fatalf("subscriber %d: Type = %q, want %q", i, e.Type, TypeConnectionStatus)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: timestamp not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event received", i)
		}
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(16)
	defer unsub()

	for i := 1; i <= 5; i++ {
		b.Publish(BulkProgress("job", i, 5, "+15551234567", true))
	}
	for i := 1; i <= 5; i++ {
		e := <-ch
		p, ok := e.Data.(BulkProgressPayload)
		if !ok {
			t.Fatalf("unexpected payload type %T", e.Data)
		}
		if p.Current != i {
			t.Fatalf("Current = %d, want %d", p.Current, i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, buffer full

	if e := <-ch; e.Type != "a" {
		t.Fatalf("Type = %q, want %q", e.Type, "a")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %q", e.Type)
	default:
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	t.Parallel()
	b := New()
	// Must not block or panic with zero subscribers.
	b.Publish(QRCode("data:image/png;base64,xxx"))
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", n)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent
	b.Publish(Event{Type: "x"})
}
