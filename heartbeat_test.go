package megalodon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(cfg HeartbeatConfig) (*HeartbeatMonitor, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewHeartbeatMonitor(cfg)
	m.now = clock.Now
	m.lastSignal = clock.Now()
	return m, clock
}

func TestHeartbeatMonitor_Tick(t *testing.T) {
	cfg := HeartbeatConfig{Interval: time.Minute, InitialDelay: time.Second, PongTimeout: 10 * time.Second, StallWindow: 70 * time.Second}

	t.Run("half duplex stalls after the window", func(t *testing.T) {
		m, clock := newTestMonitor(cfg)
		clock.Advance(60 * time.Second)
		assert.False(t, m.Tick())
		clock.Advance(11 * time.Second)
		assert.True(t, m.Tick())
	})

	t.Run("liveness signal resets the window", func(t *testing.T) {
		m, clock := newTestMonitor(cfg)
		start := m.LastSignal()
		clock.Advance(65 * time.Second)
		m.OnLivenessSignal()
		assert.Equal(t, start.Add(65*time.Second), m.LastSignal())
		clock.Advance(65 * time.Second)
		assert.False(t, m.Tick())
	})

	t.Run("unanswered ping stalls after pong timeout", func(t *testing.T) {
		m, clock := newTestMonitor(cfg)
		clock.Advance(time.Second)
		m.MarkPing()
		clock.Advance(5 * time.Second)
		assert.False(t, m.Tick())
		clock.Advance(5 * time.Second)
		assert.True(t, m.Tick())
	})

	t.Run("data after ping counts as pong", func(t *testing.T) {
		m, clock := newTestMonitor(cfg)
		m.MarkPing()
		clock.Advance(time.Second)
		m.OnLivenessSignal()
		clock.Advance(30 * time.Second)
		assert.False(t, m.Tick())
	})
}

type stubPinger struct {
	calls atomic.Int32
	err   error
	block bool
}

func (p *stubPinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func fastHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:     20 * time.Millisecond,
		InitialDelay: 5 * time.Millisecond,
		PongTimeout:  20 * time.Millisecond,
		StallWindow:  60 * time.Millisecond,
	}
}

func TestHeartbeatMonitor_Run(t *testing.T) {
	t.Run("answered pings keep the connection alive", func(t *testing.T) {
		m := NewHeartbeatMonitor(fastHeartbeat())
		pinger := &stubPinger{}
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()

		stalled := make(chan struct{}, 1)
		m.Run(ctx, pinger, func() { stalled <- struct{}{} })

		assert.Empty(t, stalled)
		assert.GreaterOrEqual(t, pinger.calls.Load(), int32(2))
	})

	t.Run("unanswered ping reports a stall", func(t *testing.T) {
		m := NewHeartbeatMonitor(fastHeartbeat())
		pinger := &stubPinger{block: true}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var stalls atomic.Int32
		m.Run(ctx, pinger, func() { stalls.Add(1) })
		require.NoError(t, ctx.Err())
		assert.Equal(t, int32(1), stalls.Load())
	})

	t.Run("half duplex silence reports a stall", func(t *testing.T) {
		m := NewHeartbeatMonitor(fastHeartbeat())
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var stalls atomic.Int32
		m.Run(ctx, nil, func() { stalls.Add(1) })
		require.NoError(t, ctx.Err())
		assert.Equal(t, int32(1), stalls.Load())
	})

	t.Run("cancelled context stops without stall", func(t *testing.T) {
		m := NewHeartbeatMonitor(fastHeartbeat())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		m.Run(ctx, &stubPinger{err: errors.New("boom")}, func() { called = true })
		assert.False(t, called)
	})
}
