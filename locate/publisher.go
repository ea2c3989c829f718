package locate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher manages publishing solved target positions to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	estimates     map[string]*TargetEstimate
	mu            sync.RWMutex
}

// NewPublisher creates a new estimate publisher. If client is nil,
// publishing is disabled (for testing).
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "radioloc"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // position updates are fire and forget
		retain:        true, // retain the latest estimate per target
		estimates:     make(map[string]*TargetEstimate),
	}
}

// SetPrefix overrides the publish prefix (used by tests and config).
func (p *Publisher) SetPrefix(prefix string) {
	if prefix == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishPrefix = prefix
}

// PublishEstimate publishes a target's solved position to its individual
// topic and to the combined positions topic.
func (p *Publisher) PublishEstimate(est *TargetEstimate) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.estimates[est.TargetID] = est
	p.mu.Unlock()

	if err := p.publishIndividual(est); err != nil {
		log.Printf("Error publishing estimate for %s: %v", est.TargetID, err)
		return err
	}
	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined estimates: %v", err)
		return err
	}
	return nil
}

// publishIndividual publishes one estimate to {prefix}/{targetID}.
func (p *Publisher) publishIndividual(est *TargetEstimate) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, est.TargetID)

	payload, err := json.Marshal(est)
	if err != nil {
		return fmt.Errorf("marshaling estimate: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	token.Wait()
	return token.Error()
}

// publishCombined publishes every known estimate to {prefix}/positions.
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	combined := make([]*TargetEstimate, 0, len(p.estimates))
	for _, est := range p.estimates {
		combined = append(combined, est)
	}
	p.mu.RUnlock()

	payload, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("marshaling combined estimates: %w", err)
	}

	topic := fmt.Sprintf("%s/positions", p.publishPrefix)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	token.Wait()
	return token.Error()
}
