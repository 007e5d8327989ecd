package slide

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewPublisher(t *testing.T) {
	publisher := NewPublisher(nil, "")
	if publisher == nil {
		t.Fatal("NewPublisher() returned nil")
	}
	if publisher.publishPrefix != "salad" {
		t.Errorf("Default prefix = %s, want salad", publisher.publishPrefix)
	}
	if publisher.qos != 1 {
		t.Errorf("Default QoS = %d, want 1", publisher.qos)
	}
	if _, err := uuid.Parse(publisher.RunID()); err != nil {
		t.Errorf("RunID %q is not a UUID: %v", publisher.RunID(), err)
	}
	if other := NewPublisher(nil, ""); other.RunID() == publisher.RunID() {
		t.Error("two publishers share a run ID")
	}
}

func TestPublisher_Publish(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "test")

	if err := publisher.Publish(RunEvent{Stage: StageScaleSelected, Scale: 12}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	messages := client.GetPublishedMessages()
	if len(messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(messages))
	}
	if messages[0].Topic != "test/scale_selected" || messages[0].Retain {
		t.Errorf("stage message = %s retain=%v", messages[0].Topic, messages[0].Retain)
	}
	if messages[1].Topic != "test/status" || !messages[1].Retain {
		t.Errorf("status message = %s retain=%v", messages[1].Topic, messages[1].Retain)
	}
	if messages[0].QoS != 1 {
		t.Errorf("QoS = %d, want 1", messages[0].QoS)
	}

	var ev RunEvent
	if err := json.Unmarshal(messages[1].Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.RunID != publisher.RunID() {
		t.Errorf("RunID = %s, want %s", ev.RunID, publisher.RunID())
	}
	if ev.Stage != StageScaleSelected || ev.Scale != 12 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
}

func TestPublisher_PayloadOmitsEmptyFields(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "salad")

	if err := publisher.Publish(RunEvent{Stage: StageTrainingBuilt, Positives: 3, Negatives: 40}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(client.GetPublishedMessages()[0].Payload, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"scale", "detected", "error"} {
		if _, ok := raw[key]; ok {
			t.Errorf("payload contains empty field %q", key)
		}
	}
	if raw["positives"] != 3.0 || raw["negatives"] != 40.0 {
		t.Errorf("payload = %v", raw)
	}
}

func TestPublisher_NotConnected(t *testing.T) {
	publisher := NewPublisher(nil, "salad")
	if err := publisher.Publish(RunEvent{Stage: StageCandidate, Scale: 10}); err == nil {
		t.Error("Publish() without client should fail")
	}
	// the event is still recorded
	last, ok := publisher.Last()
	if !ok || last.Scale != 10 {
		t.Errorf("Last() = %+v, %v", last, ok)
	}

	client := NewMockClient()
	publisher = NewPublisher(client, "salad")
	if err := publisher.Publish(RunEvent{Stage: StageCandidate}); err == nil {
		t.Error("Publish() on a disconnected client should fail")
	}
}

func TestPublisher_PublishError(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	client.SetPublishError(errors.New("broker full"))
	publisher := NewPublisher(client, "salad")

	err := publisher.Publish(RunEvent{Stage: StageFailed, Error: "boom"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "publishing to salad/failed: broker full" {
		t.Errorf("error = %q", got)
	}
}

func TestPublisher_Last(t *testing.T) {
	publisher := NewPublisher(nil, "salad")
	if _, ok := publisher.Last(); ok {
		t.Error("Last() before any event should report false")
	}
}

func TestPublisher_SetQoS(t *testing.T) {
	publisher := NewPublisher(nil, "salad")
	publisher.SetQoS(2)
	if publisher.qos != 2 {
		t.Errorf("QoS = %d, want 2", publisher.qos)
	}
	publisher.SetQoS(3)
	if publisher.qos != 2 {
		t.Errorf("invalid QoS changed the level to %d", publisher.qos)
	}
}
