package facssmooth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/c360/smoothbus/errors"
)

// Payload keys with special meaning.
const (
	keyConfidence  = "confidence"
	keyActionUnits = "au_r"
	keyPose        = "pose"
)

// field is one top-level member of a payload object.
type field struct {
	key   string
	value json.RawMessage
}

// payload is a JSON object that keeps member order and the exact bytes of
// every value it does not replace.
type payload struct {
	fields []field
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errors.ErrMalformedPayload}, args...)...)
}

// parsePayload decodes a top-level JSON object.
func parsePayload(data []byte) (*payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed("%v", err)
	}
	if tok != json.Delim('{') {
		return nil, malformed("payload is not a JSON object")
	}

	p := &payload{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed("%v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, malformed("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, malformed("value of %q: %v", key, err)
		}
		p.set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, malformed("%v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed("trailing data after object")
	}
	return p, nil
}

func (p *payload) get(key string) (json.RawMessage, bool) {
	for _, f := range p.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// set replaces the value of key in place, or appends it.
func (p *payload) set(key string, value json.RawMessage) {
	for i := range p.fields {
		if p.fields[i].key == key {
			p.fields[i].value = value
			return
		}
	}
	p.fields = append(p.fields, field{key: key, value: value})
}

// confidence returns the confidence value when the payload carries one.
func (p *payload) confidence() (float64, bool, error) {
	raw, ok := p.get(keyConfidence)
	if !ok || string(raw) == "null" {
		return 0, false, nil
	}
	v, err := number(raw)
	if err != nil {
		return 0, false, malformed("confidence: %v", err)
	}
	return v, true, nil
}

// numbers decodes the mapping stored under key.
func (p *payload) numbers(key string) (map[string]float64, bool, error) {
	raw, ok := p.get(key)
	if !ok {
		return nil, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var members map[string]any
	if err := dec.Decode(&members); err != nil || members == nil {
		return nil, false, malformed("%s is not an object", key)
	}

	out := make(map[string]float64, len(members))
	for k, v := range members {
		n, ok := v.(json.Number)
		if !ok {
			return nil, false, malformed("%s.%s is not a number", key, k)
		}
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) {
			return nil, false, malformed("%s.%s: %s out of range", key, k, n)
		}
		out[k] = f
	}
	return out, true, nil
}

// replace stores values under key.
func (p *payload) replace(key string, values map[string]float64) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return malformed("encode %s: %v", key, err)
	}
	p.set(key, raw)
	return nil
}

// encode writes the object back with its original member order.
func (p *payload) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func number(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, fmt.Errorf("not a number")
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, fmt.Errorf("not a number")
	}
	return n.Float64()
}
