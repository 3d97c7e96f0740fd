// Package hub provides the in-process publish/subscribe bus that connects
// workspace monitor services. Services never call each other directly; they
// register with the hub, receive a reference to it, and communicate only
// through Emit and On.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/wsmon/internal/events"
	"github.com/steveyegge/wsmon/internal/logging"
)

// Service is a component managed by the hub.
type Service interface {
	// Name uniquely identifies the service within a hub.
	Name() string
	// Attach hands the service its hub reference. Services subscribe here.
	Attach(h *Hub)
}

// Shutdowner is implemented by services with teardown work.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Handler receives an event payload. A returned error or panic is counted
// against the hub and does not stop delivery to other subscribers.
type Handler func(payload any) error

type subscription struct {
	id    uint64
	owner string
	fn    Handler
}

// Hub is the central event bus.
type Hub struct {
	mu       sync.RWMutex
	services map[string]Service
	order    []string
	subs     map[string][]subscription
	nextID   uint64

	totalEvents atomic.Int64
	errorCount  atomic.Int64

	statsMu     sync.Mutex
	lastEventAt time.Time
	lastError   string

	shutdownOnce sync.Once
	now          func() time.Time
	logger       logging.Logger
}

// Status is a snapshot of hub state.
type Status struct {
	Services    []string       `json:"services"`
	TotalEvents int64          `json:"total_events"`
	ErrorCount  int64          `json:"error_count"`
	LastError   string         `json:"last_error,omitempty"`
	LastEventAt time.Time      `json:"last_event_at"`
	Subscribers map[string]int `json:"subscribers"`
}

// New creates an empty hub. A nil logger logs to stderr.
func New(logger logging.Logger) *Hub {
	return &Hub{
		services: make(map[string]Service),
		subs:     make(map[string][]subscription),
		now:      time.Now,
		logger:   logging.OrDefault(logger, "hub"),
	}
}

// Register adds s to the hub and attaches it.
// Returns ErrDuplicateService if a service with the same name is registered.
func (h *Hub) Register(s Service) error {
	if s == nil {
		return fmt.Errorf("service cannot be nil")
	}
	name := s.Name()
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}

	h.mu.Lock()
	if _, exists := h.services[name]; exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateService, name)
	}
	h.services[name] = s
	h.order = append(h.order, name)
	h.mu.Unlock()

	s.Attach(h)
	h.logger.Debug("service registered", "service", name)
	h.Emit(events.ServiceRegistered, events.ServiceEvent{Name: name})
	return nil
}

// Unregister removes the named service together with its subscriptions.
func (h *Hub) Unregister(name string) error {
	h.mu.Lock()
	if _, exists := h.services[name]; !exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	delete(h.services, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	for event, list := range h.subs {
		kept := list[:0]
		for _, sub := range list {
			if sub.owner != name {
				kept = append(kept, sub)
			}
		}
		if len(kept) == 0 {
			delete(h.subs, event)
		} else {
			h.subs[event] = kept
		}
	}
	h.mu.Unlock()

	h.logger.Debug("service unregistered", "service", name)
	h.Emit(events.ServiceUnregistered, events.ServiceEvent{Name: name})
	return nil
}

// On subscribes fn to event and returns a function that removes the subscription.
func (h *Hub) On(event string, fn Handler) func() {
	return h.OnFor("", event, fn)
}

// OnFor subscribes fn to event on behalf of the named service, so the
// subscription is dropped when that service is unregistered.
func (h *Hub) OnFor(owner, event string, fn Handler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[event] = append(h.subs[event], subscription{id: id, owner: owner, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[event]
		for i, sub := range list {
			if sub.id == id {
				h.subs[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(h.subs[event]) == 0 {
			delete(h.subs, event)
		}
	}
}

// Emit delivers payload synchronously to every current subscriber of event,
// in subscription order. Handler failures are counted and logged.
func (h *Hub) Emit(event string, payload any) {
	h.mu.RLock()
	list := make([]subscription, len(h.subs[event]))
	copy(list, h.subs[event])
	h.mu.RUnlock()

	h.totalEvents.Add(1)
	h.statsMu.Lock()
	h.lastEventAt = h.now()
	h.statsMu.Unlock()

	for _, sub := range list {
		if err := h.deliver(sub, payload); err != nil {
			h.errorCount.Add(1)
			h.statsMu.Lock()
			h.lastError = err.Error()
			h.statsMu.Unlock()
			h.logger.Error("subscriber failed", "event", event, "owner", sub.owner, "error", err)
		}
	}
}

func (h *Hub) deliver(sub subscription, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return sub.fn(payload)
}

// Services returns registered service names in registration order.
func (h *Hub) Services() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Service returns the registered service with the given name.
func (h *Hub) Service(name string) (Service, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.services[name]
	return s, ok
}

// Status returns a snapshot of hub counters and subscriptions.
func (h *Hub) Status() Status {
	h.mu.RLock()
	subs := make(map[string]int, len(h.subs))
	for event, list := range h.subs {
		subs[event] = len(list)
	}
	names := make([]string, len(h.order))
	copy(names, h.order)
	h.mu.RUnlock()

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return Status{
		Services:    names,
		TotalEvents: h.totalEvents.Load(),
		ErrorCount:  h.errorCount.Load(),
		LastError:   h.lastError,
		LastEventAt: h.lastEventAt,
		Subscribers: subs,
	}
}

// SubscribedEvents returns the event names with at least one subscriber, sorted.
func (h *Hub) SubscribedEvents() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for event := range h.subs {
		out = append(out, event)
	}
	sort.Strings(out)
	return out
}

// Shutdown runs every service's Shutdown concurrently, waits for all of them,
// then removes all subscriptions. Failures are joined into the returned
// error but never stop the other services. Calls after the first return nil.
func (h *Hub) Shutdown(ctx context.Context) error {
	var result error
	h.shutdownOnce.Do(func() {
		h.mu.RLock()
		targets := make(map[string]Shutdowner)
		for name, s := range h.services {
			if sd, ok := s.(Shutdowner); ok {
				targets[name] = sd
			}
		}
		h.mu.RUnlock()

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for name, sd := range targets {
			wg.Add(1)
			go func(name string, sd Shutdowner) {
				defer wg.Done()
				err := safeShutdown(ctx, sd)
				if err != nil {
					h.logger.Warn("service shutdown failed", "service", name, "error", err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					mu.Unlock()
				}
			}(name, sd)
		}
		wg.Wait()

		h.mu.Lock()
		h.subs = make(map[string][]subscription)
		h.mu.Unlock()

		result = errors.Join(errs...)
		h.logger.Debug("hub shut down", "services", len(targets))
	})
	return result
}

func safeShutdown(ctx context.Context, sd Shutdowner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return sd.Shutdown(ctx)
}
