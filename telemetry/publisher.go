// Package telemetry mirrors the session onto MQTT: one message per accepted
// punch, a retained snapshot whenever the session state changes, and the
// prompts played to the user.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"punch-power/analytics"
	"punch-power/workflow"
)

const (
	queueSize      = 128
	publishTimeout = 2 * time.Second
	disconnectWait = 250 // ms
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Topics derives the topic names from a prefix.
type Topics struct {
	Punch  string
	State  string
	Prompt string
}

func NewTopics(prefix string) Topics {
	return Topics{
		Punch:  prefix + "/punch",
		State:  prefix + "/state",
		Prompt: prefix + "/prompt",
	}
}

// Connect dials the broker.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// Disconnect closes a client returned by Connect.
func Disconnect(c mqtt.Client) { c.Disconnect(disconnectWait) }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Publisher implements workflow.Observer. Messages are queued and sent by Run
// so the session goroutine never waits on the broker; when the queue is full
// messages are dropped and counted.
type Publisher struct {
	client  Client
	topics  Topics
	logger  *slog.Logger
	queue   chan message
	dropped atomic.Int64
}

func NewPublisher(client Client, topics Topics, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		topics: topics,
		logger: logger.With("component", "telemetry"),
		queue:  make(chan message, queueSize),
	}
}

// Dropped returns the number of messages lost to a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Run publishes queued messages until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.queue:
			if err := p.publish(ctx, m); err != nil {
				p.logger.Warn("publish", "topic", m.topic, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, m message) error {
	token := p.client.Publish(m.topic, 0, m.retained, m.payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("timed out after %s", publishTimeout)
	}
}

func (p *Publisher) enqueue(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("marshal", "topic", topic, "error", err)
		return
	}
	select {
	case p.queue <- message{topic: topic, retained: retained, payload: payload}:
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn("queue full, dropping messages", "topic", topic)
		}
	}
}

func (p *Publisher) OnPunch(e analytics.PunchEvent) {
	p.enqueue(p.topics.Punch, false, e)
}

func (p *Publisher) OnState(s workflow.State) {
	p.enqueue(p.topics.State, true, s)
}

// PromptEvent is published on the prompt topic.
type PromptEvent struct {
	Type string         `json:"type"` // "speak" | "beep"
	Text string         `json:"text,omitempty"`
	Beep *workflow.Beep `json:"beep,omitempty"`
}

// PublishPrompt sends a prompt event and waits for the broker to accept it.
func (p *Publisher) PublishPrompt(ctx context.Context, e PromptEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	return p.publish(ctx, message{topic: p.topics.Prompt, payload: payload})
}
