package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthCheckerNoChecks(t *testing.T) {
	status := NewHealthChecker("1.0.0").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "no checks registered", status.Message)
	assert.Equal(t, "1.0.0", status.Version)
}

func TestHealthCheckerReportsFailures(t *testing.T) {
	c := NewHealthChecker("")
	c.Add("postgres", func(context.Context) error { return nil })
	c.Add("redis", func(context.Context) error { return errors.New("dial tcp: refused") })

	status := c.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.Equal(t, "failing: redis", status.Message)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "dial tcp: refused", status.Checks["redis"].Message)
}

func TestHealthCheckerTimeout(t *testing.T) {
	c := NewHealthChecker("")
	c.SetTimeout(20 * time.Millisecond)
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))
	assert.Error(t, PingCheck(pinger{err: errors.New("down")})(context.Background()))
}
