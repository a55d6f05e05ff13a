package messaging

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyquest/progression-engine/internal/domain/shared"
)

var at = time.Date(2024, 1, 11, 9, 30, 0, 0, time.UTC)

func TestInMemoryBusSyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 1000, at)))
	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("u1", "tx-1", 10, 1010, "x", at)))

	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLevelUp, shared.EventPointsAwarded}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryBusIsolatesHandlerFailures(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	defer bus.Close()

	var delivered atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		delivered.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewUserEnsuredEvent("u1", at)))
	assert.Equal(t, int64(1), delivered.Load())
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryBusAsync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var delivered atomic.Int64
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		delivered.Add(1)
		return nil
	}))
	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(shared.NewUserEnsuredEvent("u1", at)))
	}
	bus.Drain()
	assert.Equal(t, int64(50), delivered.Load())

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewUserEnsuredEvent("u1", at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryBusRejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := shared.NewEnvelope("evt-1", shared.NewAchievementUnlockedEvent("u1", "streak_7", "Week of Ink", 100, at))
	require.NoError(t, err)

	e, err := decodeEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, shared.EventAchievementUnlocked, e.EventType())
	assert.Equal(t, "u1", e.AggregateID())
	assert.Equal(t, "streak_7", e.Payload()["achievement_id"])
	assert.True(t, at.Equal(e.OccurredAt()))
}

// Requires a Redis server; set PROGRESSION_TEST_REDIS_ADDR to run.
func TestRedisBusFanOut(t *testing.T) {
	addr := os.Getenv("PROGRESSION_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PROGRESSION_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	channel := "progression:test:" + time.Now().Format("150405.000000")
	a, err := NewRedisEventBus(ctx, RedisEventBusConfig{Client: client, ChannelName: channel, InstanceID: "a"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisEventBus(ctx, RedisEventBusConfig{Client: client, ChannelName: channel, InstanceID: "b"})
	require.NoError(t, err)
	defer b.Close()

	var mu sync.Mutex
	var received []shared.Event
	done := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}))

	require.NoError(t, a.Publish(shared.NewLevelUpEvent("u1", 1, 2, 1000, at)))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("remote event not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "u1", received[0].AggregateID())
}
