package megalodon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the lifecycle state of a Stream.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ============================================================================
// Options
// ============================================================================

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamName labels logs and metrics.
func WithStreamName(name string) StreamOption {
	return func(s *Stream) { s.name = name }
}

func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) { s.logger = logger }
}

func WithStreamMetrics(m *Metrics) StreamOption {
	return func(s *Stream) { s.metrics = m }
}

func WithStreamHeartbeat(cfg HeartbeatConfig) StreamOption {
	return func(s *Stream) { s.heartbeat = cfg }
}

func WithStreamReconnectPolicy(p ReconnectPolicy) StreamOption {
	return func(s *Stream) { s.policy = p }
}

// ============================================================================
// Stream
// ============================================================================

// Stream supervises one logical subscription: it owns the live connection,
// its parser and heartbeat monitor, and reconnects according to its
// ReconnectPolicy. Start and Stop never block.
type Stream struct {
	name       string
	transport  Transport
	normalizer Normalizer
	bus        *EventBus
	logger     *slog.Logger
	metrics    *Metrics
	heartbeat  HeartbeatConfig
	policy     ReconnectPolicy
	sessionID  func() string

	mu         sync.Mutex
	state      ConnectionState
	userClosed bool
	retry      RetryContext
	// gen identifies the current connection attempt. Read loops, heartbeat
	// callbacks and reconnect timers act only while their gen is current.
	gen    uint64
	conn   Conn
	cancel context.CancelFunc
	timer  *time.Timer
}

// NewStream creates a stopped Stream. Call Start to connect.
func NewStream(transport Transport, normalizer Normalizer, opts ...StreamOption) *Stream {
	s := &Stream{
		name:       "stream",
		transport:  transport,
		normalizer: normalizer,
		heartbeat:  DefaultHeartbeatConfig(),
		policy:     DefaultReconnectPolicy(),
		sessionID:  uuid.NewString,
		state:      StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("stream", s.name, "transport", transport.Name())
	s.heartbeat.defaults()
	s.policy.defaults()
	s.bus = NewEventBus(s.logger)
	return s
}

// Name returns the stream label.
func (s *Stream) Name() string { return s.name }

// Bus returns the stream's event bus.
func (s *Stream) Bus() *EventBus { return s.bus }

// State returns the current connection state.
func (s *Stream) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retry returns a copy of the reconnect bookkeeping.
func (s *Stream) Retry() RetryContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry
}

// Start connects in the background. It is a no-op while connecting or
// connected. A pending reconnect is replaced by an immediate attempt.
func (s *Stream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnecting, StateConnected:
		return
	}
	if s.userClosed {
		s.retry.Reset()
		s.userClosed = false
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.beginLocked()
}

// Stop closes the stream with a normal closure and suppresses every pending
// or future reconnect. It is safe to call repeatedly and before Start.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.state == StateClosed && s.userClosed {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	s.userClosed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	s.logger.Info("stream stopped")
	go func() {
		if conn != nil {
			conn.Close(CloseNormalClosure, "client stop")
		}
		if cancel != nil {
			cancel()
		}
	}()
	if wasConnected {
		s.bus.Emit(CloseEvent{Code: CloseNormalClosure, Reason: "client stop", Final: true})
	}
}

func (s *Stream) setStateLocked(st ConnectionState) {
	if s.state != st {
		s.logger.Debug("stream state", "from", s.state.String(), "to", st.String())
	}
	s.state = st
	s.metrics.state(s.name, st)
}

// beginLocked starts a new connection attempt under a fresh generation and
// session channel id.
func (s *Stream) beginLocked() {
	s.gen++
	gen := s.gen
	s.setStateLocked(StateConnecting)
	s.retry.SessionChannelID = s.sessionID()
	session := Session{ChannelID: s.retry.SessionChannelID}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx, gen, session)
}

func (s *Stream) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// dial bounds the handshake by the stall window without bounding the
// connection itself, since event-stream bodies live on the dial context.
func (s *Stream) dial(ctx context.Context, session Session) (Conn, error) {
	dctx, abort := context.WithCancel(ctx)
	timer := time.AfterFunc(s.heartbeat.StallWindow, abort)
	conn, err := s.transport.Dial(dctx, session)
	if !timer.Stop() && ctx.Err() == nil {
		if err == nil {
			conn.Close(CloseGoingAway, "handshake timeout")
		}
		s.metrics.stall(s.name)
		return nil, newStreamError(ClassStall, "dial", context.DeadlineExceeded)
	}
	return conn, err
}

func (s *Stream) run(ctx context.Context, gen uint64, session Session) {
	conn, err := s.dial(ctx, session)
	if err != nil {
		s.fail(gen, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		go conn.Close(CloseNormalClosure, "superseded")
		return
	}
	s.conn = conn
	s.retry.Reset()
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.metrics.connected(s.name, s.transport.Name())
	s.logger.Info("stream connected", "session", session.ChannelID)
	s.bus.Emit(ConnectEvent{})

	monitor := NewHeartbeatMonitor(s.heartbeat)
	pinger, _ := conn.(Pinger)
	go monitor.Run(ctx, pinger, func() {
		s.metrics.stall(s.name)
		s.fail(gen, newStreamError(ClassStall, "heartbeat", ErrStall))
	})

	parser := s.transport.NewParser(session)
	for {
		chunk, err := conn.Read(ctx)
		if err != nil {
			s.fail(gen, err)
			return
		}
		monitor.OnLivenessSignal()
		// a handler may Stop or restart the stream mid-batch
		for _, f := range parser.Feed(chunk) {
			if !s.isCurrent(gen) {
				return
			}
			s.dispatch(f)
		}
	}
}

func (s *Stream) dispatch(f Frame) {
	switch f.Type {
	case FrameHeartbeat:
		s.bus.Emit(HeartbeatEvent{})
	case FrameError:
		s.parserError(f.Err)
	case FrameMessage:
		ev, err := s.normalizer.Normalize(f.Message)
		if err == nil && ev == nil {
			err = fmt.Errorf("%w %q: normalizer returned no event", ErrUnknownEvent, f.Message.Event)
		}
		if err != nil {
			var se *StreamError
			if !errors.As(err, &se) {
				err = newStreamError(ClassParser, "normalize "+f.Message.Event, err)
			}
			s.parserError(err)
			return
		}
		s.metrics.event(s.name, ev.Kind())
		s.bus.Emit(ev)
	}
}

func (s *Stream) parserError(err error) {
	s.logger.Warn("skipping stream message", "error", err)
	s.metrics.parserError(s.name)
	s.bus.Emit(ParserErrorEvent{Err: err})
}

// fail tears down the connection of gen and decides what follows: nothing
// for a normal closure or a terminal error, otherwise a reconnect timer.
func (s *Stream) fail(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	s.gen++
	wasConnected := s.state == StateConnected

	code := closeCode(err)
	normal := code == CloseNormalClosure
	var (
		delay     time.Duration
		scheduled bool
		kind      FailureKind
	)
	if !normal {
		kind = failureOf(err)
		s.retry.Record(kind)
		delay, scheduled = s.policy.NextDelay(s.retry)
	}
	attempt := s.retry.Attempt
	if scheduled {
		s.setStateLocked(StateReconnecting)
		next := s.gen
		s.timer = time.AfterFunc(delay, func() { s.reconnect(next) })
	} else {
		s.setStateLocked(StateClosed)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		go conn.Close(CloseGoingAway, "reconnecting")
	}

	if normal {
		s.logger.Info("stream closed by server")
	} else {
		s.logger.Warn("stream connection failed",
			"error", err, "kind", kind.String(), "attempt", attempt,
			"reconnect", scheduled, "delay", delay)
		s.bus.Emit(TransportErrorEvent{Err: err})
	}

	if wasConnected || !scheduled {
		reason := ""
		var ce *CloseError
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		s.bus.Emit(CloseEvent{Code: code, Reason: reason, Final: !scheduled})
	}
	if scheduled {
		s.metrics.reconnect(s.name, kind)
		s.bus.Emit(ReconnectEvent{Attempt: attempt, Delay: delay, Failure: kind})
	}
}

// reconnect is the timer callback. The timer may fire after Stop or after
// a newer attempt has begun, so the generation is checked first.
func (s *Stream) reconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateReconnecting {
		return
	}
	s.timer = nil
	s.beginLocked()
}

// ============================================================================
// Typed subscriptions
// ============================================================================

// On registers a raw handler for kind.
func (s *Stream) On(kind EventKind, h Handler) {
	s.bus.On(kind, h)
}

// OnUpdate registers a handler for new statuses.
func (s *Stream) OnUpdate(h func(Status)) {
	s.bus.On(KindUpdate, func(ev Event) { h(ev.(UpdateEvent).Status) })
}

// OnStatusUpdate registers a handler for edited statuses.
func (s *Stream) OnStatusUpdate(h func(Status)) {
	s.bus.On(KindStatusUpdate, func(ev Event) { h(ev.(StatusUpdateEvent).Status) })
}

// OnNotification registers a handler for notifications.
func (s *Stream) OnNotification(h func(Notification)) {
	s.bus.On(KindNotification, func(ev Event) { h(ev.(NotificationEvent).Notification) })
}

// OnConversation registers a handler for direct conversations.
func (s *Stream) OnConversation(h func(Conversation)) {
	s.bus.On(KindConversation, func(ev Event) { h(ev.(ConversationEvent).Conversation) })
}

// OnDelete registers a handler for deleted status ids.
func (s *Stream) OnDelete(h func(id string)) {
	s.bus.On(KindDelete, func(ev Event) { h(ev.(DeleteEvent).ID) })
}

// OnHeartbeat registers a handler for heartbeat sentinels.
func (s *Stream) OnHeartbeat(h func()) {
	s.bus.On(KindHeartbeat, func(Event) { h() })
}

// OnError registers a handler for parser and transport errors. Use
// ClassOf to tell them apart.
func (s *Stream) OnError(h func(error)) {
	s.bus.On(KindError, func(ev Event) { h(errorOf(ev)) })
}

// OnConnect registers a handler called on every successful connection.
func (s *Stream) OnConnect(h func()) {
	s.bus.On(KindConnect, func(Event) { h() })
}

// OnClose registers a handler called when a connection goes away.
func (s *Stream) OnClose(h func(code int, reason string)) {
	s.bus.On(KindClose, func(ev Event) {
		ce := ev.(CloseEvent)
		h(ce.Code, ce.Reason)
	})
}

// OnReconnect registers a handler called when a reconnect is scheduled.
func (s *Stream) OnReconnect(h func(attempt uint, delay time.Duration)) {
	s.bus.On(KindReconnect, func(ev Event) {
		re := ev.(ReconnectEvent)
		h(re.Attempt, re.Delay)
	})
}
