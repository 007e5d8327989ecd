package slide

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Pipeline stages reported by the publisher
const (
	StageCandidate     = "candidate"
	StageScaleSelected = "scale_selected"
	StageTrainingBuilt = "training_built"
	StageDetectionDone = "detection_done"
	StageFailed        = "failed"
)

// RunEvent is the JSON payload published for each pipeline stage
type RunEvent struct {
	RunID     string `json:"runId"`
	Stage     string `json:"stage"`
	Scale     int    `json:"scale,omitempty"`
	Positives int    `json:"positives,omitempty"`
	Negatives int    `json:"negatives,omitempty"`
	Detected  int    `json:"detected,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher reports pipeline progress over MQTT. Each event goes to
// <prefix>/<stage>; the latest event is also retained on <prefix>/status.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	runID         string
	qos           byte
	last          *RunEvent
	mu            sync.RWMutex
}

// NewPublisher creates a publisher with a fresh run ID.
// If client is nil, publishing is disabled and Publish returns an error.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "salad"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		runID:         uuid.NewString(),
		qos:           1,
	}
}

// RunID identifies this pipeline run in every event
func (p *Publisher) RunID() string {
	return p.runID
}

// Publish stamps ev with the run ID and time and sends it
func (p *Publisher) Publish(ev RunEvent) error {
	ev.RunID = p.runID
	ev.Timestamp = time.Now().Unix()

	p.mu.Lock()
	p.last = &ev
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if err := p.send(fmt.Sprintf("%s/%s", p.publishPrefix, ev.Stage), payload, false); err != nil {
		return err
	}
	if err := p.send(p.publishPrefix+"/status", payload, true); err != nil {
		return err
	}
	log.Printf("[MQTT] published %s for run %s", ev.Stage, p.runID)
	return nil
}

func (p *Publisher) send(topic string, payload []byte, retain bool) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Last returns a copy of the most recent event, published or not
func (p *Publisher) Last() (RunEvent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return RunEvent{}, false
	}
	return *p.last, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}
