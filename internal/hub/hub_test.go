package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/logging"
)

type fakeService struct {
	name        string
	hub         *Hub
	shutdowns   atomic.Int32
	shutdownErr error
	delay       time.Duration
}

func (f *fakeService) Name() string  { return f.name }
func (f *fakeService) Attach(h *Hub) { f.hub = h }

func (f *fakeService) Shutdown(ctx context.Context) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.shutdowns.Add(1)
	return f.shutdownErr
}

// attachOnly has no Shutdown hook.
type attachOnly struct{ name string }

func (a attachOnly) Name() string { return a.name }
func (attachOnly) Attach(*Hub)    {}

func newTestHub() *Hub {
	return New(logging.Discard())
}

// TestRegister_Duplicate verifies a second registration with the same name
// fails and leaves a single entry.
func TestRegister_Duplicate(t *testing.T) {
	h := newTestHub()

	first := &fakeService{name: "conflict-detector"}
	if err := h.Register(first); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if first.hub != h {
		t.Error("Register() did not attach the hub")
	}

	err := h.Register(&fakeService{name: "conflict-detector"})
	if !errors.Is(err, ErrDuplicateService) {
		t.Fatalf("second Register() error = %v, want ErrDuplicateService", err)
	}

	names := h.Services()
	if len(names) != 1 || names[0] != "conflict-detector" {
		t.Errorf("Services() = %v, want exactly one entry", names)
	}
}

func TestRegister_Invalid(t *testing.T) {
	h := newTestHub()
	if err := h.Register(nil); err == nil {
		t.Error("Register(nil) should fail")
	}
	if err := h.Register(attachOnly{}); err == nil {
		t.Error("Register() with empty name should fail")
	}
}

// TestEmit_DeliversInOrder verifies synchronous delivery in subscription order.
func TestEmit_DeliversInOrder(t *testing.T) {
	h := newTestHub()

	var got []string
	h.On("file:changed", func(p any) error {
		got = append(got, "first:"+p.(string))
		return nil
	})
	h.On("file:changed", func(p any) error {
		got = append(got, "second:"+p.(string))
		return nil
	})
	h.On("other", func(any) error {
		got = append(got, "other")
		return nil
	})

	h.Emit("file:changed", "a")
	h.Emit("file:changed", "b")

	want := []string{"first:a", "second:a", "first:b", "second:b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	st := h.Status()
	if st.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", st.TotalEvents)
	}
	if st.LastEventAt.IsZero() {
		t.Error("LastEventAt not recorded")
	}
	if st.Subscribers["file:changed"] != 2 {
		t.Errorf("Subscribers[file:changed] = %d, want 2", st.Subscribers["file:changed"])
	}
}

// TestEmit_IsolatesFailingSubscribers verifies errors and panics are counted
// without blocking delivery to later subscribers or crashing the publisher.
func TestEmit_IsolatesFailingSubscribers(t *testing.T) {
	h := newTestHub()

	delivered := 0
	h.On("x", func(any) error { return errors.New("boom") })
	h.On("x", func(any) error { panic("kaboom") })
	h.On("x", func(any) error {
		delivered++
		return nil
	})

	h.Emit("x", nil)

	if delivered != 1 {
		t.Errorf("last subscriber delivered %d times, want 1", delivered)
	}
	st := h.Status()
	if st.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", st.ErrorCount)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestOn_Unsubscribe(t *testing.T) {
	h := newTestHub()

	calls := 0
	off := h.On("x", func(any) error {
		calls++
		return nil
	})
	h.Emit("x", nil)
	off()
	h.Emit("x", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(h.SubscribedEvents()) != 0 {
		t.Errorf("SubscribedEvents() = %v, want none", h.SubscribedEvents())
	}
}

// TestUnregister verifies removal drops the service's subscriptions and
// notifies subscribers.
func TestUnregister(t *testing.T) {
	h := newTestHub()

	var removed []string
	h.On(events.ServiceUnregistered, func(p any) error {
		removed = append(removed, p.(events.ServiceEvent).Name)
		return nil
	})

	svc := &fakeService{name: "analyzer"}
	if err := h.Register(svc); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	calls := 0
	h.OnFor("analyzer", "file:changed", func(any) error {
		calls++
		return nil
	})

	if err := h.Unregister("analyzer"); err != nil {
		t.Fatalf("Unregister() failed: %v", err)
	}
	h.Emit("file:changed", nil)

	if calls != 0 {
		t.Error("subscription survived Unregister")
	}
	if len(removed) != 1 || removed[0] != "analyzer" {
		t.Errorf("removal notifications = %v", removed)
	}
	if err := h.Unregister("analyzer"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("second Unregister() error = %v, want ErrServiceNotFound", err)
	}
	if err := h.Register(&fakeService{name: "analyzer"}); err != nil {
		t.Errorf("re-Register() after Unregister failed: %v", err)
	}
}

// TestShutdown verifies every service is torn down, failures are tolerated,
// and subscriptions are cleared.
func TestShutdown(t *testing.T) {
	h := newTestHub()

	ok := &fakeService{name: "ok", delay: 20 * time.Millisecond}
	bad := &fakeService{name: "bad", shutdownErr: errors.New("teardown failed")}
	for _, s := range []Service{ok, bad, attachOnly{name: "plain"}} {
		if err := h.Register(s); err != nil {
			t.Fatalf("Register(%s) failed: %v", s.Name(), err)
		}
	}
	h.On("x", func(any) error { return nil })

	err := h.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Shutdown() should report the failing service")
	}
	if ok.shutdowns.Load() != 1 || bad.shutdowns.Load() != 1 {
		t.Errorf("shutdown counts: ok=%d bad=%d", ok.shutdowns.Load(), bad.shutdowns.Load())
	}
	if n := len(h.Status().Subscribers); n != 0 {
		t.Errorf("subscriptions after Shutdown = %d", n)
	}

	if err := h.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v, want nil", err)
	}
	if ok.shutdowns.Load() != 1 {
		t.Error("second Shutdown() ran teardown again")
	}
}

// TestEmit_Reentrant verifies a handler may emit while being delivered.
func TestEmit_Reentrant(t *testing.T) {
	h := newTestHub()

	inner := 0
	h.On("outer", func(any) error {
		h.Emit("inner", nil)
		return nil
	})
	h.On("inner", func(any) error {
		inner++
		return nil
	})

	done := make(chan struct{})
	go func() {
		h.Emit("outer", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant Emit deadlocked")
	}
	if inner != 1 {
		t.Errorf("inner = %d, want 1", inner)
	}
}
