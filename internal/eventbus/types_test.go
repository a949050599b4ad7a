package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/strataos/strata/internal/layer"
)

func TestEventIDsMonotonic(t *testing.T) {
	a := NewEvent(layer.Hardware, CategorySensorData, PriorityNormal)
	b := NewEvent(layer.Hardware, CategorySensorData, PriorityNormal)
	if b.Metadata.ID <= a.Metadata.ID {
		t.Errorf("expected increasing IDs, got %d then %d", a.Metadata.ID, b.Metadata.ID)
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityLow < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityCritical) {
		t.Error("priority constants out of order")
	}
}

func TestPriorityText(t *testing.T) {
	cases := map[Priority]string{
		PriorityLow:      "low",
		PriorityNormal:   "normal",
		PriorityHigh:     "high",
		PriorityCritical: "critical",
	}
	for p, want := range cases {
		if p.String() != want {
			t.Errorf("String(%d) = %q, want %q", int(p), p.String(), want)
		}
		var back Priority
		if err := back.UnmarshalText([]byte(want)); err != nil {
			t.Errorf("UnmarshalText(%q): %v", want, err)
		}
		if back != p {
			t.Errorf("round trip %q: got %v, want %v", want, back, p)
		}
	}

	var p Priority
	if err := p.UnmarshalText([]byte("urgent")); err == nil {
		t.Error("expected error for unknown priority name")
	}
}

func TestCustomCategoryEquality(t *testing.T) {
	// Unknown categories compare by value, so independently constructed
	// instances with the same name match a subscription filter.
	a := Category("telemetry_burst")
	b := Category("telemetry_burst")
	if a != b {
		t.Error("custom categories with the same name must be equal")
	}
}

func TestBuildersReturnCopies(t *testing.T) {
	base := NewEvent(layer.Oracle, CategoryIntentReceived, PriorityNormal)
	targeted := base.WithTarget(layer.AI).
		WithCapability(layer.CapIntentProcessing).
		WithTraceID("trace-1").
		WithPayload(StringPayload("turn on the lights"))

	if base.Metadata.Target != "" || base.Metadata.TraceID != "" {
		t.Error("builders must not mutate the original event")
	}
	if base.Payload.Kind != PayloadEmpty {
		t.Errorf("original payload changed: %v", base.Payload.Kind)
	}
	if targeted.Metadata.Target != layer.AI {
		t.Errorf("expected target ai, got %s", targeted.Metadata.Target)
	}
	if targeted.Metadata.ID != base.Metadata.ID {
		t.Error("builders must preserve the event ID")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	e := NewEvent(layer.Ledger, CategoryBlockMined, PriorityHigh).
		WithPayload(KeyValuePayload(map[string]string{"height": "42"}))

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Metadata.Priority != PriorityHigh {
		t.Errorf("priority lost in round trip: %v", back.Metadata.Priority)
	}
	if back.Payload.KV["height"] != "42" {
		t.Errorf("payload lost in round trip: %v", back.Payload.KV)
	}
}
