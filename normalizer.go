package megalodon

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Normalizer converts one parsed provider message into a canonical Event.
// Implementations must be pure: no I/O and no retained state. An error
// result is reported as a ParserErrorEvent and the stream continues.
type Normalizer interface {
	Normalize(msg StreamMessage) (Event, error)
}

// NormalizerFunc adapts a function to Normalizer.
type NormalizerFunc func(msg StreamMessage) (Event, error)

func (f NormalizerFunc) Normalize(msg StreamMessage) (Event, error) {
	return f(msg)
}

func unknownEvent(provider, name string) error {
	return fmt.Errorf("%s: %w %q", provider, ErrUnknownEvent, name)
}

// unwrapString decodes a payload that was sent as a JSON string holding the
// real document, the way Mastodon's socket API does. Anything else is
// returned unchanged.
func unwrapString(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return payload
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return payload
	}
	return []byte(s)
}

func decodeInto(what string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return nil
}

func rawCopy(data []byte) json.RawMessage {
	return append(json.RawMessage(nil), data...)
}
