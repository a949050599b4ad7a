package eventbus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamLayerEvents is the JetStream stream for mirrored layer events.
	StreamLayerEvents = "LAYER_EVENTS"

	// SubjectLayerPrefix is the subject prefix for all mirrored events.
	SubjectLayerPrefix = "layers."
)

// SubjectForCategory returns the NATS subject for a given event category.
// Format: layers.<category> (e.g., layers.sensor_data, layers.block_mined).
func SubjectForCategory(c Category) string {
	return SubjectLayerPrefix + string(c)
}

// EnsureStreams creates the required JetStream streams if they don't already
// exist. Called during daemon startup when the mirror is enabled.
func EnsureStreams(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamLayerEvents)
	if err == nil {
		return nil // Stream already exists.
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamLayerEvents,
		Subjects: []string{SubjectLayerPrefix + ">"},
		Storage:  nats.FileStorage,
		// Retain last 10000 messages or 100MB, whichever comes first.
		MaxMsgs:  10000,
		MaxBytes: 100 << 20,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamLayerEvents, err)
	}

	return nil
}
