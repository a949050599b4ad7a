package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// MirrorHandler republishes matching bus events onto JetStream so external
// processes can observe the event flow without attaching to the broker.
//
// The mirror is observability, not delivery: in-process subscribers remain
// the delivery path, and a mirror failure is an ordinary handler error
// (logged, publish unaffected).
type MirrorHandler struct {
	js          nats.JetStreamContext
	categories  []Category // empty = mirror everything
	minPriority Priority
}

// NewMirrorHandler creates a mirror for the given JetStream context. Empty
// categories mirrors all categories at or above minPriority.
func NewMirrorHandler(js nats.JetStreamContext, categories []Category, minPriority Priority) *MirrorHandler {
	cats := make([]Category, len(categories))
	copy(cats, categories)
	return &MirrorHandler{
		js:          js,
		categories:  cats,
		minPriority: minPriority,
	}
}

func (h *MirrorHandler) ID() string { return "jetstream-mirror" }

func (h *MirrorHandler) InterestedIn(e Event) bool {
	return matchesFilter(e, h.categories, h.minPriority)
}

func (h *MirrorHandler) Handle(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("mirror: marshal event %d: %w", e.Metadata.ID, err)
	}
	if _, err := h.js.Publish(SubjectForCategory(e.Metadata.Category), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("mirror: publish event %d: %w", e.Metadata.ID, err)
	}
	return nil
}
