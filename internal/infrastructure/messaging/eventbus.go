// Package messaging delivers progression events to interested subscribers.
// It provides an in-memory bus for a single process and a Redis Pub/Sub bus
// that fans events out across processes.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/storyquest/progression-engine/internal/domain/shared"
	"github.com/storyquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus dispatches events to handlers in this process.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	asyncMode   bool
	workerPool  chan struct{}
	logger      *logger.Logger
	metrics     *EventBusMetrics
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig configures delivery on the local bus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool instead of inline.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent async handlers.
	WorkerPoolSize int

	Logger *logger.Logger

	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig delivers asynchronously on ten workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		EnableMetrics:  true,
	}
}

// NewInMemoryEventBus creates a process-local bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	bus := &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger.With(logger.Component("event_bus")),
		closeCh:    make(chan struct{}),
	}
	if config.EnableMetrics {
		bus.metrics = NewEventBusMetrics()
	}
	return bus
}

// Subscribe adds a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", logger.String("event_type", string(eventType)))
	return nil
}

// SubscribeAll adds a handler that sees every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish sends an event to all subscribed handlers. Handler failures are
// logged and never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	for _, handler := range handlers {
		if b.asyncMode {
			b.executeAsync(event, handler)
			continue
		}
		if err := b.execute(event, handler); err != nil {
			b.logger.Error("handler error", logger.String("event_type", string(event.EventType())), logger.Err(err))
		}
	}
	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}

		if err := b.execute(event, handler); err != nil {
			b.logger.Error("async handler error", logger.String("event_type", string(event.EventType())), logger.Err(err))
		}
	}()
}

// execute runs one handler, converting a panic into ErrHandlerPanic.
func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if b.metrics != nil {
			b.metrics.RecordHandlerExecution(event.EventType(), time.Since(start), err == nil)
		}
	}()
	return handler(event)
}

// Drain waits for in-flight async handlers without closing the bus.
func (b *InMemoryEventBus) Drain() {
	b.wg.Wait()
}

// Close waits for in-flight handlers and rejects further publishes.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	close(b.closeCh)
	b.logger.Info("event bus closed")
	return nil
}

// Metrics returns the collected metrics, or nil when disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the Pub/Sub channel events are published on.
const DefaultChannel = "progression:events"

// RedisEventBus publishes events to a Redis Pub/Sub channel and delivers
// events published by other instances to local handlers.
type RedisEventBus struct {
	client      redis.UniversalClient
	pubsub      *redis.PubSub
	localBus    *InMemoryEventBus
	channelName string
	instanceID  string
	logger      *logger.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
}

// RedisEventBusConfig configures the pub/sub bus.
type RedisEventBusConfig struct {
	Client redis.UniversalClient

	// ChannelName defaults to DefaultChannel.
	ChannelName string

	// InstanceID identifies this process so its own messages are not
	// delivered twice.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	Logger *logger.Logger
}

// wireMessage is the Pub/Sub payload.
type wireMessage struct {
	InstanceID string               `json:"instance_id"`
	Envelope   shared.EventEnvelope `json:"envelope"`
}

// NewRedisEventBus subscribes to the channel and starts the receive loop.
func NewRedisEventBus(ctx context.Context, config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	runCtx, cancel := context.WithCancel(context.Background())
	bus := &RedisEventBus{
		client:      config.Client,
		localBus:    NewInMemoryEventBus(config.LocalBusConfig),
		channelName: config.ChannelName,
		instanceID:  config.InstanceID,
		logger:      config.Logger.With(logger.Component("redis_event_bus")),
		ctx:         runCtx,
		cancel:      cancel,
	}

	bus.pubsub = config.Client.Subscribe(ctx, config.ChannelName)
	// Receive blocks until the subscription is confirmed.
	if _, err := bus.pubsub.Receive(ctx); err != nil {
		cancel()
		_ = bus.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.ChannelName, err)
	}

	bus.wg.Add(1)
	go bus.subscriptionLoop(bus.pubsub.Channel())

	return bus, nil
}

// Subscribe adds a handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll adds a handler that sees every event type.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish sends the event to Redis and to local handlers. A Redis failure
// is returned after local delivery.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	env, err := shared.NewEnvelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data, err := json.Marshal(wireMessage{InstanceID: b.instanceID, Envelope: env})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubErr := b.client.Publish(b.ctx, b.channelName, data).Err()
	if pubErr != nil {
		b.logger.Error("failed to publish to redis", logger.String("event_type", string(event.EventType())), logger.Err(pubErr))
	}

	if err := b.localBus.Publish(event); err != nil {
		return err
	}
	return pubErr
}

func (b *RedisEventBus) subscriptionLoop(messages <-chan *redis.Message) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisEventBus) handleMessage(payload string) {
	var wire wireMessage
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		b.logger.Error("failed to unmarshal event", logger.Err(err))
		return
	}
	if wire.InstanceID == b.instanceID {
		return
	}

	event, err := decodeEnvelope(wire.Envelope)
	if err != nil {
		b.logger.Error("failed to decode event payload", logger.String("event_type", string(wire.Envelope.Type)), logger.Err(err))
		return
	}
	if err := b.localBus.Publish(event); err != nil {
		b.logger.Error("failed to process remote event", logger.Err(err))
	}
}

// Close stops the receive loop and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()

	if lerr := b.localBus.Close(); lerr != nil {
		b.logger.Error("failed to close local bus", logger.Err(lerr))
	}
	b.logger.Info("redis event bus closed")
	return err
}

// Metrics returns the metrics of the local bus.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.localBus.Metrics()
}

// RemoteEvent is an event received from another instance.
type RemoteEvent struct {
	envelope shared.EventEnvelope
	payload  map[string]interface{}
}

func decodeEnvelope(env shared.EventEnvelope) (*RemoteEvent, error) {
	payload := map[string]interface{}{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return &RemoteEvent{envelope: env, payload: payload}, nil
}

func (e *RemoteEvent) EventType() shared.EventType     { return e.envelope.Type }
func (e *RemoteEvent) AggregateID() string             { return e.envelope.AggregateID }
func (e *RemoteEvent) OccurredAt() time.Time           { return e.envelope.Timestamp }
func (e *RemoteEvent) Payload() map[string]interface{} { return e.payload }
func (e *RemoteEvent) Correlation() string             { return e.envelope.CorrelationID }
func (e *RemoteEvent) Envelope() shared.EventEnvelope  { return e.envelope }

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics tracks event bus throughput and handler outcomes.
type EventBusMetrics struct {
	mu sync.RWMutex

	PublishedTotal map[shared.EventType]int64

	HandlerExecutions    int64
	HandlerSuccesses     int64
	HandlerFailures      int64
	HandlerTotalDuration time.Duration

	LastReset time.Time
}

// NewEventBusMetrics returns zeroed counters.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		PublishedTotal: make(map[shared.EventType]int64),
		LastReset:      time.Now(),
	}
}

// RecordPublish counts one published event by type.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedTotal[eventType]++
}

// RecordHandlerExecution counts one handler call and its duration.
func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HandlerExecutions++
	m.HandlerTotalDuration += duration
	if success {
		m.HandlerSuccesses++
	} else {
		m.HandlerFailures++
	}
}

// Snapshot copies the counters under the lock.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, v := range m.PublishedTotal {
		total += v
	}
	snap := EventBusMetricsSnapshot{
		TotalPublished:     total,
		TotalHandlerExecs:  m.HandlerExecutions,
		HandlerFailures:    m.HandlerFailures,
		HandlerSuccessRate: 1.0,
		LastReset:          m.LastReset,
	}
	if m.HandlerExecutions > 0 {
		snap.AverageHandlerDuration = m.HandlerTotalDuration / time.Duration(m.HandlerExecutions)
		snap.HandlerSuccessRate = float64(m.HandlerSuccesses) / float64(m.HandlerExecutions)
	}
	return snap
}

// EventBusMetricsSnapshot is a copy of the counters, safe to serialize.
type EventBusMetricsSnapshot struct {
	TotalPublished         int64
	TotalHandlerExecs      int64
	HandlerFailures        int64
	HandlerSuccessRate     float64
	AverageHandlerDuration time.Duration
	LastReset              time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	ErrNilHandler = errors.New("handler cannot be nil")
	ErrNilEvent   = errors.New("event cannot be nil")
)
