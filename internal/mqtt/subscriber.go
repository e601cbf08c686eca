package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/config"
	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/state"
)

// Subscriber is the part of the MQTT client the fact subscriber needs.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// Feeder accepts fact batches. *executor.Reactor satisfies it.
type Feeder interface {
	Feed(ctx context.Context, records ...state.Record) []string
}

// FactRecord is the wire form of a single fact.
type FactRecord struct {
	Name       string `json:"name"`
	Value      int    `json:"value"`
	ValueToAdd int    `json:"value_to_add"`
	// OffsetMS shifts the trigger time relative to arrival. Negative values
	// backdate the fact.
	OffsetMS int64 `json:"offset_ms"`
	TTLMS    int64 `json:"ttl_ms"`
	Clear    bool  `json:"clear"`
}

// FactsPayload is a batch published on the facts topic.
type FactsPayload struct {
	Records []FactRecord `json:"records"`
}

// ParseFacts decodes a facts batch and stamps trigger times relative to now.
func ParseFacts(data []byte, now time.Time) ([]state.Record, error) {
	var payload FactsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid facts JSON: %w", err)
	}
	if len(payload.Records) == 0 {
		return nil, fmt.Errorf("facts batch is empty")
	}

	out := make([]state.Record, 0, len(payload.Records))
	for i, r := range payload.Records {
		if r.Name == "" {
			return nil, fmt.Errorf("record %d: name is required", i)
		}
		if r.TTLMS < 0 {
			return nil, fmt.Errorf("record %d (%s): ttl_ms must not be negative", i, r.Name)
		}
		out = append(out, state.Record{
			Name:           r.Name,
			TriggerTime:    now.Add(time.Duration(r.OffsetMS) * time.Millisecond),
			TriggerTimeAdd: time.Duration(r.TTLMS) * time.Millisecond,
			Value:          r.Value,
			ValueToAdd:     r.ValueToAdd,
			Clear:          r.Clear,
		})
	}
	return out, nil
}

// factQueueSize is how many parsed batches may wait for the feeder before new
// ones are rejected.
const factQueueSize = 64

// FactSubscriber routes fact batches into the reactor and controller
// announcements into the registry. Subscriptions are tracked so repeated
// calls after a reconnect are safe.
//
// Message handlers only parse and enqueue: the feeder may publish commands and
// wait for their acknowledgement, which must not happen on the client's
// delivery goroutine. Run drains the queue in arrival order.
type FactSubscriber struct {
	queue   chan []state.Record
	dropped atomic.Uint64

	mu         sync.RWMutex
	client     Subscriber
	feeder     Feeder
	registry   *ControllerRegistry
	declared   map[string]config.ControllerConfig
	clock      clock.Clock
	logger     *zap.Logger
	topics     map[string]string
	subscribed map[string]bool
}

// SubscriberOption configures a FactSubscriber.
type SubscriberOption func(*FactSubscriber)

// WithClock sets the clock used to stamp incoming facts.
func WithClock(c clock.Clock) SubscriberOption {
	return func(s *FactSubscriber) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SubscriberOption {
	return func(s *FactSubscriber) { s.logger = l }
}

// NewFactSubscriber creates a subscriber for the topics named in cfg.
func NewFactSubscriber(client Subscriber, feeder Feeder, registry *ControllerRegistry, cfg config.MQTTConfig, opts ...SubscriberOption) *FactSubscriber {
	s := &FactSubscriber{
		client:     client,
		feeder:     feeder,
		registry:   registry,
		declared:   cfg.Controllers,
		clock:      clock.Real{},
		logger:     zap.NewNop(),
		topics:     map[string]string{},
		subscribed: make(map[string]bool),
		queue:      make(chan []state.Record, factQueueSize),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Named("mqtt")
	if cfg.FactsTopic != "" {
		s.topics[cfg.FactsTopic] = "facts"
	}
	if cfg.RegisterTopic != "" && registry != nil {
		s.topics[cfg.RegisterTopic] = "register"
	}
	return s
}

// Run feeds queued batches until ctx is done.
func (s *FactSubscriber) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case records := <-s.queue:
			s.feeder.Feed(ctx, records...)
		}
	}
}

// Dropped reports batches rejected because the queue was full.
func (s *FactSubscriber) Dropped() uint64 { return s.dropped.Load() }

// SubscribeAll subscribes every configured topic not already subscribed.
func (s *FactSubscriber) SubscribeAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	var firstErr error
	for _, topic := range topics {
		if s.IsSubscribed(topic) {
			continue
		}
		handler := s.factsHandler()
		if s.topics[topic] == "register" {
			handler = s.registerHandler()
		}
		if err := s.client.Subscribe(topic, handler); err != nil {
			s.logger.Error("subscribe failed", zap.String("topic", topic), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.mu.Lock()
		s.subscribed[topic] = true
		s.mu.Unlock()
		s.logger.Info("subscribed", zap.String("topic", topic))
	}
	return firstErr
}

func (s *FactSubscriber) factsHandler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		records, err := ParseFacts(msg.Payload(), s.clock.Now())
		if err != nil {
			s.reject(msg.Topic(), err.Error())
			return
		}
		select {
		case s.queue <- records:
		default:
			s.dropped.Add(1)
			s.reject(msg.Topic(), "fact queue full")
		}
	}
}

func (s *FactSubscriber) reject(topic, reason string) {
	s.logger.Warn("fact batch rejected", zap.String("topic", topic), zap.String("reason", reason))
	events.Emit("warning", "fact.rejected", reason, map[string]interface{}{
		"topic": topic,
	})
}

func (s *FactSubscriber) registerHandler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if err := s.HandleRegistration(msg.Payload()); err != nil {
			s.logger.Warn("registration rejected", zap.Error(err))
		}
	}
}

// HandleRegistration parses and validates a controller announcement and
// records it in the registry.
func (s *FactSubscriber) HandleRegistration(data []byte) error {
	payload, err := ParseRegistration(data)
	if err != nil {
		events.Emit("error", "controller.error", err.Error(), nil)
		return err
	}

	result := ValidateRegistration(payload, s.declared)
	for _, w := range result.Warnings {
		s.logger.Warn(w)
	}
	if !result.Valid {
		err := fmt.Errorf("controller %s: %v", payload.Controller.ID, result.Errors)
		events.Emit("error", "controller.error", err.Error(), map[string]interface{}{
			"controller": payload.Controller.ID,
		})
		return err
	}

	s.registry.Register(payload.ToController())
	events.Emit("info", "controller.registered", "", map[string]interface{}{
		"controller":    payload.Controller.ID,
		"type":          payload.Controller.Type,
		"command_topic": payload.Controller.CommandTopic,
		"signals":       len(payload.Controller.Signals),
	})
	return nil
}

// IsSubscribed returns true if the topic is already subscribed.
func (s *FactSubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

// SubscribedTopics returns the subscribed topics, sorted.
func (s *FactSubscriber) SubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subscribed))
	for topic := range s.subscribed {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// ClearSubscriptions forgets subscription state so the next SubscribeAll
// resubscribes. Call it when the broker session is lost.
func (s *FactSubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
