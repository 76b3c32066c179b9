package megalodon

import (
	"context"
	"sync"
	"time"
)

// HeartbeatConfig holds the liveness timing constants.
type HeartbeatConfig struct {
	// Interval is the period between liveness checks (and pings on
	// full-duplex transports).
	Interval time.Duration
	// InitialDelay is the wait before the first ping after connecting.
	InitialDelay time.Duration
	// PongTimeout is how long a ping may go unanswered.
	PongTimeout time.Duration
	// StallWindow is the longest silence tolerated on half-duplex transports.
	StallWindow time.Duration
}

// DefaultHeartbeatConfig returns the stock timings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:     60 * time.Second,
		InitialDelay: 10 * time.Second,
		PongTimeout:  10 * time.Second,
		StallWindow:  70 * time.Second,
	}
}

func (c *HeartbeatConfig) defaults() {
	d := DefaultHeartbeatConfig()
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.StallWindow == 0 {
		c.StallWindow = d.StallWindow
	}
}

// Pinger is implemented by full-duplex connections. Ping blocks until the
// peer answers or ctx is done.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HeartbeatMonitor tracks the last liveness signal of one connection.
type HeartbeatMonitor struct {
	cfg HeartbeatConfig
	now func() time.Time

	mu         sync.Mutex
	lastSignal time.Time
	lastPing   time.Time
}

// NewHeartbeatMonitor returns a monitor whose clock starts now.
func NewHeartbeatMonitor(cfg HeartbeatConfig) *HeartbeatMonitor {
	cfg.defaults()
	m := &HeartbeatMonitor{cfg: cfg, now: time.Now}
	m.lastSignal = m.now()
	return m
}

// OnLivenessSignal records that the peer is alive. Any message, heartbeat
// sentinel or pong counts.
func (m *HeartbeatMonitor) OnLivenessSignal() {
	m.mu.Lock()
	m.lastSignal = m.now()
	m.mu.Unlock()
}

// LastSignal returns the time of the most recent liveness signal.
func (m *HeartbeatMonitor) LastSignal() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSignal
}

// MarkPing records an outbound ping.
func (m *HeartbeatMonitor) MarkPing() {
	m.mu.Lock()
	m.lastPing = m.now()
	m.mu.Unlock()
}

// Tick reports whether the connection has stalled. Once a ping has been
// sent, a stall is a ping older than PongTimeout with no signal after it.
// Without pings, a stall is silence longer than StallWindow.
func (m *HeartbeatMonitor) Tick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !m.lastPing.IsZero() {
		return m.lastSignal.Before(m.lastPing) && now.Sub(m.lastPing) >= m.cfg.PongTimeout
	}
	return now.Sub(m.lastSignal) > m.cfg.StallWindow
}

// Run checks liveness every Interval until ctx is done, pinging first when
// pinger is non-nil. onStall is called at most once, after which Run returns.
func (m *HeartbeatMonitor) Run(ctx context.Context, pinger Pinger, onStall func()) {
	wait := m.cfg.Interval
	if pinger != nil {
		wait = m.cfg.InitialDelay
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if pinger != nil {
			m.MarkPing()
			pctx, cancel := context.WithTimeout(ctx, m.cfg.PongTimeout)
			err := pinger.Ping(pctx)
			cancel()
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				m.OnLivenessSignal()
			}
		}

		if m.Tick() {
			onStall()
			return
		}
		timer.Reset(m.cfg.Interval)
	}
}
