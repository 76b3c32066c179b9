package megalodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"nhooyr.io/websocket"
)

// Close codes understood by the supervisor. Only CloseNormalClosure
// suppresses reconnect.
const (
	CloseNormalClosure = int(websocket.StatusNormalClosure)
	CloseGoingAway     = int(websocket.StatusGoingAway)
	CloseAbnormal      = int(websocket.StatusAbnormalClosure)
)

// Session identifies one connection attempt.
type Session struct {
	// ChannelID correlates multiplexed socket frames with this subscription.
	ChannelID string
}

// Transport opens live connections. Implementations are strategies: the
// supervisor knows nothing about the wire beyond Conn and Parser.
type Transport interface {
	Dial(ctx context.Context, session Session) (Conn, error)
	NewParser(session Session) Parser
	// Name is used in logs and metrics.
	Name() string
}

// Conn is one live connection handle. Read returns the next chunk of wire
// data. Full-duplex connections also implement Pinger.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close(code int, reason string) error
}

// CloseError reports the close frame that ended a connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: status = %d reason = %q", e.Code, e.Reason)
}

// closeCode returns the close code carried by err, or -1 when the
// connection ended without a clean close.
func closeCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

func classForStatus(code int) ErrorClass {
	switch ClassifyStatus(code) {
	case FailureUnauthorized:
		return ClassUnauthorized
	case FailurePermanent:
		return ClassPermanent
	case FailureRateLimited:
		return ClassRateLimited
	case FailureServerError:
		return ClassServerError
	default:
		return ClassTransport
	}
}

// handshakeError classifies a failed dial by the HTTP response, if any.
func handshakeError(op string, resp *http.Response, err error) error {
	if resp == nil {
		return newStreamError(ClassTransport, op, err)
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	return &StreamError{
		Class:      classForStatus(resp.StatusCode),
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        err,
	}
}

// ============================================================================
// SocketTransport
// ============================================================================

// DefaultReadLimit bounds a single socket message.
const DefaultReadLimit = 1 << 20

// SocketTransport dials a full-duplex WebSocket.
type SocketTransport struct {
	URL        string
	Header     http.Header
	HTTPClient *http.Client
	// Multiplexed selects channel-addressed envelopes.
	Multiplexed bool
	// Subscribe returns the control frames sent right after the handshake.
	Subscribe func(channelID string) []any
	ReadLimit int64
	// TransportName overrides Name.
	TransportName string
}

func (t *SocketTransport) Name() string {
	if t.TransportName != "" {
		return t.TransportName
	}
	return "websocket"
}

// NewParser returns a SocketParser bound to the session's channel.
func (t *SocketTransport) NewParser(session Session) Parser {
	return &SocketParser{ChannelID: session.ChannelID, Multiplexed: t.Multiplexed}
}

// Dial opens the socket and sends the subscribe frames.
func (t *SocketTransport) Dial(ctx context.Context, session Session) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, t.URL, &websocket.DialOptions{
		HTTPClient: t.HTTPClient,
		HTTPHeader: t.Header,
	})
	if err != nil {
		return nil, handshakeError("websocket dial", resp, err)
	}

	limit := t.ReadLimit
	if limit == 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	if t.Subscribe != nil {
		for _, frame := range t.Subscribe(session.ChannelID) {
			data, err := json.Marshal(frame)
			if err != nil {
				conn.Close(websocket.StatusInternalError, "")
				return nil, fmt.Errorf("failed to marshal subscribe frame: %w", err)
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				conn.Close(websocket.StatusGoingAway, "")
				return nil, newStreamError(ClassTransport, "subscribe", err)
			}
		}
	}
	return &socketConn{conn: conn}, nil
}

type socketConn struct {
	conn *websocket.Conn
}

func (c *socketConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, newStreamError(ClassTransport, "read", &CloseError{Code: int(ce.Code), Reason: ce.Reason})
		}
		return nil, newStreamError(ClassTransport, "read", err)
	}
	return data, nil
}

func (c *socketConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *socketConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

// ============================================================================
// EventStreamTransport
// ============================================================================

// EventStreamTransport opens a half-duplex chunked GET carrying server-sent
// events.
type EventStreamTransport struct {
	URL        string
	Header     http.Header
	HTTPClient *http.Client
	// ChunkSize is the read buffer size. Defaults to 32 KiB.
	ChunkSize int
}

func (t *EventStreamTransport) Name() string { return "eventstream" }

// NewParser returns a fresh EventStreamParser.
func (t *EventStreamTransport) NewParser(Session) Parser {
	return NewEventStreamParser()
}

// Dial issues the GET. ctx must stay live for the lifetime of the
// connection since it bounds the response body.
func (t *EventStreamTransport) Dial(ctx context.Context, _ Session) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, newStreamError(ClassTransport, "event stream connect", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handshakeError("event stream connect", resp, fmt.Errorf("unexpected status %s", resp.Status))
	}

	size := t.ChunkSize
	if size <= 0 {
		size = 32 * 1024
	}
	return &eventStreamConn{body: resp.Body, buf: make([]byte, size)}, nil
}

type eventStreamConn struct {
	body io.ReadCloser
	buf  []byte
	err  error
}

func (c *eventStreamConn) Read(context.Context) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	n, err := c.body.Read(c.buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		c.err = newStreamError(ClassTransport, "read", err)
	}
	if n > 0 {
		return append([]byte(nil), c.buf[:n]...), nil
	}
	return nil, c.err
}

func (c *eventStreamConn) Close(int, string) error {
	return c.body.Close()
}
