// Package hooks dispatches typed pipeline events to dynamically registered
// handlers. Producers stay ignorant of their consumers: they trigger an
// event and any subsystem that registered for the topic sees it, in
// registration order, with pass/stop/modify semantics.
package hooks

import (
	"context"
	"sync"
)

// Event is a typed occurrence carrying its dispatch topic.
type Event interface {
	Topic() string
}

// ActionKind is a hook's verdict on an event.
type ActionKind int

const (
	// Pass leaves the event untouched for downstream hooks.
	Pass ActionKind = iota
	// Stop short-circuits the chain; later hooks never run.
	Stop
	// Modified substitutes the event for downstream hooks and the caller.
	Modified
)

func (k ActionKind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Stop:
		return "stop"
	case Modified:
		return "modified"
	}
	return "unknown"
}

// Action pairs a kind with the replacement event for Modified.
type Action struct {
	Kind  ActionKind
	Event Event
}

func PassAction() Action            { return Action{Kind: Pass} }
func StopAction() Action            { return Action{Kind: Stop} }
func ModifiedAction(e Event) Action { return Action{Kind: Modified, Event: e} }

// Hook handles events on the topics it declares. Implementations must be
// safe for concurrent Handle calls.
type Hook interface {
	Name() string
	Topics() []string
	Handle(ctx context.Context, e Event) (Action, error)
}

// HandlerFunc adapts a plain function to the Hook interface.
type HandlerFunc func(ctx context.Context, e Event) (Action, error)

type funcHook struct {
	name   string
	topics []string
	fn     HandlerFunc
}

func (h *funcHook) Name() string     { return h.name }
func (h *funcHook) Topics() []string { return h.topics }
func (h *funcHook) Handle(ctx context.Context, e Event) (Action, error) {
	return h.fn(ctx, e)
}

// NewHook wraps fn as a named hook on the given topics.
func NewHook(name string, fn HandlerFunc, topics ...string) Hook {
	return &funcHook{name: name, topics: topics, fn: fn}
}

// Registry keeps topic -> ordered hooks. Registration happens at startup;
// Trigger is safe from any number of goroutines.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string][]Hook
}

func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string][]Hook)}
}

// Register appends the hook to every topic it declares.
func (r *Registry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range h.Topics() {
		r.hooks[topic] = append(r.hooks[topic], h)
	}
}

// Count reports how many hooks listen on a topic.
func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[topic])
}

// Trigger walks the topic's hooks in registration order. Stop
// short-circuits and is returned as-is; Modified replaces the event for
// the hooks after it. A hook error aborts the walk and propagates. With
// no hooks registered the event passes through untouched; otherwise the
// possibly-modified event comes back as Modified.
func (r *Registry) Trigger(ctx context.Context, e Event) (Action, error) {
	r.mu.RLock()
	chain := r.hooks[e.Topic()]
	r.mu.RUnlock()

	if len(chain) == 0 {
		return PassAction(), nil
	}

	current := e
	for _, h := range chain {
		action, err := h.Handle(ctx, current)
		if err != nil {
			return Action{}, err
		}
		switch action.Kind {
		case Stop:
			return StopAction(), nil
		case Modified:
			if action.Event != nil {
				current = action.Event
			}
		}
	}
	return ModifiedAction(current), nil
}
