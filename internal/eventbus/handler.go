package eventbus

import "context"

// Handler is a synchronous side-effect hook invoked during Publish, in
// addition to channel delivery. Handlers run sequentially in registration
// order for every event their InterestedIn predicate matches.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// InterestedIn reports whether the handler wants this event.
	InterestedIn(e Event) bool

	// Handle processes a single event. Returning an error logs a warning
	// but does not stop the handler chain or fail the publish.
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to the Handler interface with a fixed
// category/priority filter. Empty categories means "all categories".
type HandlerFunc struct {
	Name        string
	Categories  []Category
	MinPriority Priority
	Fn          func(ctx context.Context, e Event) error
}

func (h *HandlerFunc) ID() string { return h.Name }

func (h *HandlerFunc) InterestedIn(e Event) bool {
	return matchesFilter(e, h.Categories, h.MinPriority)
}

func (h *HandlerFunc) Handle(ctx context.Context, e Event) error {
	return h.Fn(ctx, e)
}

// matchesFilter applies the standard category/priority filter shared by
// subscriptions and the built-in handlers.
func matchesFilter(e Event, categories []Category, minPriority Priority) bool {
	if e.Metadata.Priority < minPriority {
		return false
	}
	if len(categories) == 0 {
		return true
	}
	for _, c := range categories {
		if c == e.Metadata.Category {
			return true
		}
	}
	return false
}
