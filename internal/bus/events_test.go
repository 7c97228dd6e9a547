package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"warelay/internal/domain"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got domain.SessionEvent
	eb.On(domain.KindQr, func(e domain.SessionEvent) {
		got = e
	})

	eb.Emit(domain.QrIssued{Code: "ABC"})

	qr, ok := got.(domain.QrIssued)
	if !ok {
		t.Fatalf("expected QrIssued, got %T", got)
	}
	if qr.Code != "ABC" {
		t.Errorf("expected code ABC, got %q", qr.Code)
	}
}

func TestEventBus_KindRouting(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var qr, ready int32
	eb.On(domain.KindQr, func(domain.SessionEvent) { atomic.AddInt32(&qr, 1) })
	eb.On(domain.KindReady, func(domain.SessionEvent) { atomic.AddInt32(&ready, 1) })

	eb.Emit(domain.QrIssued{Code: "x"})
	eb.Emit(domain.QrIssued{Code: "y"})
	eb.Emit(domain.SessionReady{})

	if qr != 2 || ready != 1 {
		t.Errorf("expected qr=2 ready=1, got qr=%d ready=%d", qr, ready)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On(Wildcard, func(domain.SessionEvent) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(domain.QrIssued{Code: "x"})
	eb.Emit(domain.SessionReady{})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On(domain.KindReady, func(domain.SessionEvent) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(domain.SessionReady{})
	eb.Off(domain.KindReady, id)
	eb.Emit(domain.SessionReady{})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var a, b int32
	idA := eb.On(domain.KindReady, func(domain.SessionEvent) { atomic.AddInt32(&a, 1) })
	eb.On(domain.KindReady, func(domain.SessionEvent) { atomic.AddInt32(&b, 1) })

	eb.Off(domain.KindReady, idA)
	eb.Emit(domain.SessionReady{})

	if a != 0 || b != 1 {
		t.Errorf("expected a=0 b=1, got a=%d b=%d", a, b)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On(domain.KindReady, func(domain.SessionEvent) {
		panic("test panic")
	})
	eb.On(domain.KindReady, func(domain.SessionEvent) {
		atomic.AddInt32(&after, 1)
	})

	// Should not panic the caller
	eb.Emit(domain.SessionReady{})

	if after != 1 {
		t.Errorf("handler after the panicking one should still run, got %d", after)
	}
}

func TestEventBus_EmitAsyncWait(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On(domain.KindMessage, func(domain.SessionEvent) {
		atomic.AddInt32(&received, 1)
	})

	for i := 0; i < 10; i++ {
		eb.EmitAsync(domain.MessageReceived{})
	}
	eb.Wait()

	if atomic.LoadInt32(&received) != 10 {
		t.Errorf("expected 10, got %d", received)
	}
}

func TestEventBus_OrderWithinEmit(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var order []string
	eb.On(Wildcard, func(domain.SessionEvent) { order = append(order, "wildcard") })
	eb.On(domain.KindQr, func(domain.SessionEvent) { order = append(order, "first") })
	eb.On(domain.KindQr, func(domain.SessionEvent) { order = append(order, "second") })

	eb.Emit(domain.QrIssued{})

	want := []string{"first", "second", "wildcard"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestEventBus_PublishLifecycleInOrder(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got []string
	eb.On(Wildcard, func(e domain.SessionEvent) {
		qr, _ := e.(domain.QrIssued)
		got = append(got, domain.Kind(e)+qr.Code)
	})

	eb.Publish(domain.QrIssued{Code: "A"})
	eb.Publish(domain.QrIssued{Code: "B"})
	eb.Publish(domain.SessionReady{})
	eb.Wait()

	want := []string{"qrA", "qrB", "ready"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestEventBus_PublishLifecycleDoesNotBlock(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	release := make(chan struct{})
	var handled int32
	eb.On(domain.KindQr, func(domain.SessionEvent) {
		<-release
		atomic.AddInt32(&handled, 1)
	})

	// A slow sink must not stall the session's event loop.
	published := make(chan struct{})
	go func() {
		eb.Publish(domain.QrIssued{Code: "A"})
		eb.Publish(domain.QrIssued{Code: "B"})
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a lifecycle handler")
	}

	close(release)
	eb.Wait()
	if atomic.LoadInt32(&handled) != 2 {
		t.Errorf("expected 2 handled, got %d", handled)
	}
}

func TestEventBus_EmitOrderedRestartsWorker(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On(domain.KindReady, func(domain.SessionEvent) { atomic.AddInt32(&count, 1) })

	eb.EmitOrdered(domain.SessionReady{})
	eb.Wait()
	eb.EmitOrdered(domain.SessionReady{})
	eb.Wait()

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_PublishMessageAsync(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	release := make(chan struct{})
	var done int32
	eb.On(domain.KindMessage, func(domain.SessionEvent) {
		<-release
		atomic.AddInt32(&done, 1)
	})

	// Would deadlock if messages were handled inline.
	eb.Publish(domain.MessageReceived{})
	eb.Publish(domain.MessageReceived{})
	close(release)
	eb.Wait()

	if atomic.LoadInt32(&done) != 2 {
		t.Errorf("expected 2, got %d", done)
	}
}
