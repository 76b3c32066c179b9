package megalodon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================================
// Frames
// ============================================================================

// StreamMessage is one fully delimited unit extracted by a Parser. It is
// handed straight to a Normalizer and not retained.
type StreamMessage struct {
	// Event is the provider's event name: the SSE "event:" value, the flat
	// socket "event" field, or the multiplexed channel body "type".
	Event string
	// Payload is the SSE "data:" value or the socket payload/body.
	Payload []byte
	// ChannelID is set for multiplexed socket frames.
	ChannelID string
	// Raw is the whole physical socket message. Empty for event streams.
	Raw []byte
}

// FrameType tells what a Frame carries.
type FrameType int

const (
	FrameMessage FrameType = iota
	FrameHeartbeat
	FrameError
)

// Frame is one parser output, in wire order.
type Frame struct {
	Type    FrameType
	Message StreamMessage
	Err     error
}

// Parser turns wire chunks into frames. Implementations keep whatever state
// is needed to reassemble messages split across chunks.
type Parser interface {
	Feed(chunk []byte) []Frame
}

func parseError(format string, args ...any) Frame {
	return Frame{
		Type: FrameError,
		Err:  newStreamError(ClassParser, "parse", fmt.Errorf("%w: "+format, append([]any{ErrMalformedFrame}, args...)...)),
	}
}

// ============================================================================
// Event-stream (SSE) parser
// ============================================================================

// deleteEvent payloads are a bare status id, not JSON.
const deleteEvent = "delete"

// EventStreamParser parses newline-delimited server-sent events. A block is
// terminated by a blank line and must hold exactly one "event:" and one
// "data:" line. Comment lines (":thump") are heartbeats.
type EventStreamParser struct {
	buf []byte

	lines    int
	event    string
	data     string
	hasEvent bool
	hasData  bool
}

// NewEventStreamParser returns an empty parser.
func NewEventStreamParser() *EventStreamParser {
	return &EventStreamParser{}
}

// Feed consumes chunk and returns every frame it completes.
func (p *EventStreamParser) Feed(chunk []byte) []Frame {
	for _, c := range chunk {
		if c != '\r' {
			p.buf = append(p.buf, c)
		}
	}

	var frames []Frame
	start := 0
	for {
		i := bytes.IndexByte(p.buf[start:], '\n')
		if i < 0 {
			break
		}
		frames = p.line(string(p.buf[start:start+i]), frames)
		start += i + 1
	}
	if start > 0 {
		p.buf = append(p.buf[:0], p.buf[start:]...)
	}
	return frames
}

// Buffered returns the number of bytes held for an incomplete line.
func (p *EventStreamParser) Buffered() int {
	return len(p.buf)
}

// Reset discards any partial input.
func (p *EventStreamParser) Reset() {
	p.buf = p.buf[:0]
	p.resetBlock()
}

func (p *EventStreamParser) line(line string, frames []Frame) []Frame {
	switch {
	case line == "":
		if p.lines == 0 {
			return frames
		}
		frames = append(frames, p.block())
		p.resetBlock()
	case strings.HasPrefix(line, ":"):
		frames = append(frames, Frame{Type: FrameHeartbeat})
	default:
		p.lines++
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			p.event, p.hasEvent = strings.TrimSpace(value), true
		case "data":
			p.data, p.hasData = value, true
		}
	}
	return frames
}

func (p *EventStreamParser) block() Frame {
	if p.lines != 2 || !p.hasEvent || !p.hasData {
		return parseError("event-stream block has %d lines, want event and data", p.lines)
	}
	if p.event == deleteEvent {
		id := strings.TrimSpace(p.data)
		if id == "" {
			return parseError("delete event without id")
		}
		return Frame{Type: FrameMessage, Message: StreamMessage{Event: p.event, Payload: []byte(id)}}
	}
	if !json.Valid([]byte(p.data)) {
		return parseError("event %q: payload is not valid JSON", p.event)
	}
	return Frame{Type: FrameMessage, Message: StreamMessage{Event: p.event, Payload: []byte(p.data)}}
}

func (p *EventStreamParser) resetBlock() {
	p.lines = 0
	p.event, p.data = "", ""
	p.hasEvent, p.hasData = false, false
}

// ============================================================================
// Socket-framed parser
// ============================================================================

type socketEnvelope struct {
	Event   string          `json:"event"`
	Type    string          `json:"type"`
	Stream  []string        `json:"stream,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Body    json.RawMessage `json:"body"`
}

type channelBody struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// SocketParser parses one JSON envelope per socket message. Flat envelopes
// look like {"event": ..., "payload": ...}. Multiplexed envelopes look like
// {"type": "channel", "body": {"id": ..., "type": ..., "body": ...}} and are
// dropped unless body.id equals ChannelID.
type SocketParser struct {
	ChannelID   string
	Multiplexed bool
}

// Feed parses a single socket message.
func (p *SocketParser) Feed(msg []byte) []Frame {
	var env socketEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return []Frame{parseError("socket envelope: %v", err)}
	}
	if p.Multiplexed {
		return p.multiplexed(env, msg)
	}
	if env.Event == "" {
		return []Frame{parseError("socket envelope without event")}
	}
	return []Frame{{
		Type:    FrameMessage,
		Message: StreamMessage{Event: env.Event, Payload: env.Payload, Raw: msg},
	}}
}

func (p *SocketParser) multiplexed(env socketEnvelope, msg []byte) []Frame {
	switch env.Type {
	case "channel":
	case "connected":
		// subscription acknowledgement, only useful as a liveness signal
		var cb channelBody
		if json.Unmarshal(env.Body, &cb) != nil || cb.ID != p.ChannelID {
			return nil
		}
		return []Frame{{Type: FrameHeartbeat}}
	default:
		return []Frame{{
			Type: FrameError,
			Err:  newStreamError(ClassParser, "parse", fmt.Errorf("%w: socket envelope type %q", ErrUnknownEvent, env.Type)),
		}}
	}

	var cb channelBody
	if err := json.Unmarshal(env.Body, &cb); err != nil {
		return []Frame{parseError("channel body: %v", err)}
	}
	if cb.ID != p.ChannelID {
		return nil
	}
	return []Frame{{
		Type:    FrameMessage,
		Message: StreamMessage{Event: cb.Type, Payload: cb.Body, ChannelID: cb.ID, Raw: msg},
	}}
}
