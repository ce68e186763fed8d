package bus

import (
	"bytes"
	"fmt"
	"strings"
)

// Part positions of a relay message.
const (
	PartTopic = iota
	PartFrame
	PartPayload
	PartExtra
)

// Message is an ordered sequence of opaque binary parts: topic, frame, payload and
// an optional extra part. A command envelope reuses the layout as sender id,
// command topic and command data.
type Message struct {
	Parts [][]byte
}

// NewMessage builds a message from parts. The slices are not copied.
func NewMessage(parts ...[]byte) Message {
	return Message{Parts: parts}
}

// Terminal returns the end-of-stream marker for topic: (topic, "", "").
func Terminal(topic []byte) Message {
	return NewMessage(topic, []byte{}, []byte{})
}

// Len returns the number of parts.
func (m Message) Len() int {
	return len(m.Parts)
}

// Part returns the part at index i, or nil when the message is shorter.
func (m Message) Part(i int) []byte {
	if i < 0 || i >= len(m.Parts) {
		return nil
	}
	return m.Parts[i]
}

// Topic returns the first part.
func (m Message) Topic() []byte { return m.Part(PartTopic) }

// Frame returns the second part. An empty frame marks end of stream.
func (m Message) Frame() []byte { return m.Part(PartFrame) }

// Payload returns the third part.
func (m Message) Payload() []byte { return m.Part(PartPayload) }

// Extra returns the fourth part and whether it is present.
func (m Message) Extra() ([]byte, bool) {
	if len(m.Parts) <= PartExtra {
		return nil, false
	}
	return m.Parts[PartExtra], true
}

// IsTerminal reports whether the message signals end of stream.
func (m Message) IsTerminal() bool {
	return len(m.Parts) >= 2 && len(m.Frame()) == 0
}

// HasTopicPrefix reports whether the topic starts with prefix.
func (m Message) HasTopicPrefix(prefix string) bool {
	return bytes.HasPrefix(m.Topic(), []byte(prefix))
}

// Size returns the total number of bytes over all parts.
func (m Message) Size() int {
	n := 0
	for _, p := range m.Parts {
		n += len(p)
	}
	return n
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	parts := make([][]byte, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = bytes.Clone(p)
		if parts[i] == nil && p != nil {
			parts[i] = []byte{}
		}
	}
	return Message{Parts: parts}
}

// String renders the message for logs, truncating long parts.
func (m Message) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range m.Parts {
		if i > 0 {
			sb.WriteString(", ")
		}
		if len(p) > 64 {
			fmt.Fprintf(&sb, "%q...(%d bytes)", p[:64], len(p))
			continue
		}
		fmt.Fprintf(&sb, "%q", p)
	}
	sb.WriteByte(']')
	return sb.String()
}
