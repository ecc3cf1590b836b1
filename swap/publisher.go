package swap

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes run progress to MQTT. Topics are
// <prefix>/<runID>/swaps, <prefix>/<runID>/turns and <prefix>/<runID>/status.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool

	mu        sync.Mutex
	published int
	failed    int
}

var _ Observer = (*Publisher)(nil)

// NewPublisher creates a publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		qos:    0,
		retain: false,
	}
}

// NewPublisherFor creates a publisher on a connected client using the QoS
// and retain settings of cfg
func NewPublisherFor(c *MQTTClient, cfg MQTTConfig) *Publisher {
	p := NewPublisher(c.Client(), c.Prefix())
	p.SetQoS(cfg.QoS)
	p.SetRetain(cfg.Retain)
	return p
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether swap and turn messages are retained. Status is
// always retained so late subscribers see the outcome.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// SwapApplied implements Observer
func (p *Publisher) SwapApplied(ev SwapEvent) {
	p.publish(ev.RunID, "swaps", ev, p.retain)
}

// TurnCompleted implements Observer
func (p *Publisher) TurnCompleted(ev TurnEvent) {
	p.publish(ev.RunID, "turns", turnMessage{
		Algorithm:  ev.Algorithm,
		Turn:       ev.Tag.Turn,
		OwnerField: ev.Tag.OwnerField,
		Swaps:      ev.Swaps,
		Total:      ev.Total,
		Elapsed:    ev.Elapsed,
	}, p.retain)
}

// RunFinished implements Observer
func (p *Publisher) RunFinished(res Result) {
	msg := statusMessage{
		Algorithm:  res.Algorithm,
		Status:     res.Status,
		Swaps:      res.SwapCount,
		Turns:      res.Turns,
		Cancelled:  res.Cancelled,
		CapReached: res.CapReached,
		Timestamp:  time.Now().Unix(),
	}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	p.publish(res.RunID, "status", msg, true)
}

// Stats returns how many messages were published and how many failed
func (p *Publisher) Stats() (published, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.failed
}

type turnMessage struct {
	Algorithm  Algorithm `json:"algorithm"`
	Turn       int       `json:"turn"`
	OwnerField string    `json:"ownerField"`
	Swaps      int       `json:"swaps"`
	Total      int       `json:"total"`
	Elapsed    float64   `json:"elapsed"`
}

type statusMessage struct {
	Algorithm  Algorithm `json:"algorithm"`
	Status     Status    `json:"status"`
	Swaps      int       `json:"swaps"`
	Turns      int       `json:"turns"`
	Cancelled  bool      `json:"cancelled"`
	CapReached bool      `json:"capReached"`
	Error      string    `json:"error,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

// publish never fails the run; errors are logged and counted
func (p *Publisher) publish(runID, kind string, v interface{}, retain bool) {
	if p.client == nil {
		return
	}
	if err := p.send(fmt.Sprintf("%s/%s/%s", p.prefix, runID, kind), v, retain); err != nil {
		log.Printf("[MQTT] %v", err)
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.published++
	p.mu.Unlock()
}

func (p *Publisher) send(topic string, v interface{}, retain bool) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("publishing to %s: client not connected", topic)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
