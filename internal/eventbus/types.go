package eventbus

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/strataos/strata/internal/layer"
)

// EventID is a process-unique, monotonically increasing event identifier.
// IDs are never reused within a process lifetime.
type EventID uint64

var idCounter atomic.Uint64

func nextEventID() EventID {
	return EventID(idCounter.Add(1))
}

// Priority orders events for filtering. A subscription only receives events
// at or above its minimum priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the display name used as the statistics map key.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler so priorities serialize as
// names rather than bare integers.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*p = PriorityLow
	case "normal":
		*p = PriorityNormal
	case "high":
		*p = PriorityHigh
	case "critical":
		*p = PriorityCritical
	default:
		return fmt.Errorf("eventbus: unknown priority %q", text)
	}
	return nil
}

// Category classifies an event. The well-known categories below cover the
// platform's built-in layers; any other string is a custom category;
// categories compare by value, so two custom categories with the same name
// are equal.
type Category string

const (
	// System events.
	CategorySystemStartup    Category = "system_startup"
	CategorySystemShutdown   Category = "system_shutdown"
	CategoryLayerStateChange Category = "layer_state_change"
	CategoryResourceChange   Category = "resource_change"
	CategoryHealthChange     Category = "health_change"

	// Hardware events.
	CategoryCameraFrame   Category = "camera_frame"
	CategoryAudioSample   Category = "audio_sample"
	CategorySensorData    Category = "sensor_data"
	CategoryBatteryChange Category = "battery_change"
	CategoryThermalChange Category = "thermal_change"

	// Network events.
	CategoryPeerConnected    Category = "peer_connected"
	CategoryPeerDisconnected Category = "peer_disconnected"
	CategoryMessageReceived  Category = "message_received"
	CategoryNetworkError     Category = "network_error"

	// Ledger events.
	CategoryBlockMined           Category = "block_mined"
	CategoryTransactionConfirmed Category = "transaction_confirmed"
	CategoryStateUpdated         Category = "state_updated"

	// Oracle events.
	CategoryIntentReceived  Category = "intent_received"
	CategoryCommandExecuted Category = "command_executed"
	CategoryQueryResult     Category = "query_result"

	// AI events.
	CategoryVisionDetection   Category = "vision_detection"
	CategorySpeechTranscribed Category = "speech_transcribed"
	CategoryIntentClassified  Category = "intent_classified"
	CategoryKnowledgeUpdated  Category = "knowledge_updated"

	// UI events.
	CategoryUserInput       Category = "user_input"
	CategoryGestureDetected Category = "gesture_detected"
	CategoryGazeChanged     Category = "gaze_changed"
	CategoryTabCreated      Category = "tab_created"
	CategoryTabClosed       Category = "tab_closed"

	// App lifecycle events.
	CategoryAppLaunched Category = "app_launched"
	CategoryAppClosed   Category = "app_closed"
	CategoryAppError    Category = "app_error"
)

// PayloadKind discriminates the payload union.
type PayloadKind string

const (
	PayloadEmpty    PayloadKind = "empty"
	PayloadString   PayloadKind = "string"
	PayloadBinary   PayloadKind = "binary"
	PayloadJSON     PayloadKind = "json"
	PayloadKeyValue PayloadKind = "keyvalue"
)

// Payload carries event data in one of five shapes. Producers serialize
// richer structures into JSON or Binary before publishing; the bus never
// interprets payload contents.
type Payload struct {
	Kind   PayloadKind       `json:"kind"`
	Str    string            `json:"str,omitempty"`
	Binary []byte            `json:"binary,omitempty"`
	JSON   json.RawMessage   `json:"json,omitempty"`
	KV     map[string]string `json:"kv,omitempty"`
}

// EmptyPayload returns the zero payload.
func EmptyPayload() Payload { return Payload{Kind: PayloadEmpty} }

// StringPayload wraps a string.
func StringPayload(s string) Payload { return Payload{Kind: PayloadString, Str: s} }

// BinaryPayload wraps raw bytes.
func BinaryPayload(b []byte) Payload { return Payload{Kind: PayloadBinary, Binary: b} }

// JSONPayload wraps pre-serialized JSON.
func JSONPayload(raw json.RawMessage) Payload { return Payload{Kind: PayloadJSON, JSON: raw} }

// KeyValuePayload wraps a string map.
func KeyValuePayload(kv map[string]string) Payload { return Payload{Kind: PayloadKeyValue, KV: kv} }

// Metadata describes an event's origin, classification, and routing.
// Target and RequiredCapability are optional; their zero values mean
// "broadcast" and "no capability required".
type Metadata struct {
	ID                 EventID          `json:"id"`
	Source             layer.ID         `json:"source"`
	Target             layer.ID         `json:"target,omitempty"`
	Category           Category         `json:"category"`
	Priority           Priority         `json:"priority"`
	Timestamp          time.Time        `json:"timestamp"`
	RequiredCapability layer.Capability `json:"required_capability,omitempty"`
	TraceID            string           `json:"trace_id,omitempty"`
}

// Event is the unit of communication between layers. Events are immutable
// once published: the With* builders return a modified copy, and consumers
// must not mutate payload contents they receive.
type Event struct {
	Metadata Metadata `json:"metadata"`
	Payload  Payload  `json:"payload"`
}

// NewEvent constructs a broadcast event with an empty payload and a fresh
// process-unique ID.
func NewEvent(source layer.ID, category Category, priority Priority) Event {
	return Event{
		Metadata: Metadata{
			ID:        nextEventID(),
			Source:    source,
			Category:  category,
			Priority:  priority,
			Timestamp: time.Now(),
		},
		Payload: EmptyPayload(),
	}
}

// WithTarget returns a copy addressed to a single layer.
func (e Event) WithTarget(target layer.ID) Event {
	e.Metadata.Target = target
	return e
}

// WithCapability returns a copy tagged with an advisory capability
// requirement. The bus does not enforce it.
func (e Event) WithCapability(c layer.Capability) Event {
	e.Metadata.RequiredCapability = c
	return e
}

// WithTraceID returns a copy carrying a trace ID for request tracking.
func (e Event) WithTraceID(traceID string) Event {
	e.Metadata.TraceID = traceID
	return e
}

// WithPayload returns a copy carrying the given payload.
func (e Event) WithPayload(p Payload) Event {
	e.Payload = p
	return e
}
