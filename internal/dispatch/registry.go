package dispatch

import (
	"fmt"
	"sort"

	"github.com/carelinehq/careline/internal/intent"
)

// Registry maps intents to handlers. Registration happens once at startup;
// lookups afterwards are lock-free.
type Registry struct {
	handlers map[intent.Intent]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[intent.Intent]Handler)}
}

// Register adds a handler, rejecting duplicates and contract violations
// loudly at startup rather than at dispatch time.
func (r *Registry) Register(h Handler) error {
	desc := h.Describe()
	if desc.Intent == intent.IntentUnknown || desc.Intent == "" {
		return fmt.Errorf("handler declares no intent")
	}
	if _, exists := r.handlers[desc.Intent]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, desc.Intent)
	}
	if desc.Irreversible && !desc.Effectful {
		return fmt.Errorf("handler for %s is irreversible but not effectful", desc.Intent)
	}
	if (desc.Effectful || desc.Irreversible) && desc.Summarize == nil {
		return fmt.Errorf("handler for %s needs a confirmation summary", desc.Intent)
	}
	r.handlers[desc.Intent] = h
	return nil
}

// MustRegister panics on registration errors; meant for startup wiring.
func (r *Registry) MustRegister(handlers ...Handler) {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the handler for an intent.
func (r *Registry) Lookup(i intent.Intent) (Handler, bool) {
	h, ok := r.handlers[i]
	return h, ok
}

// Intents returns the registered intents, sorted.
func (r *Registry) Intents() []intent.Intent {
	intents := make([]intent.Intent, 0, len(r.handlers))
	for i := range r.handlers {
		intents = append(intents, i)
	}
	sort.Slice(intents, func(a, b int) bool { return intents[a] < intents[b] })
	return intents
}
