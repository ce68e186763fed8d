package natsbus

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/c360/smoothbus/bus"
	"github.com/c360/smoothbus/errors"
)

// Header names used to carry the non-payload parts of a message.
const (
	HeaderParts  = "Bus-Parts"
	HeaderFrame  = "Bus-Frame"
	HeaderExtra  = "Bus-Extra"
	HeaderSender = "Bus-Sender"
)

func partHeader(i int) string {
	if i == bus.PartExtra {
		return HeaderExtra
	}
	return "Bus-Part-" + strconv.Itoa(i)
}

// Subject returns the subject a topic is published on under prefix.
func Subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}

// validTopic reports whether topic can be embedded in a subject.
func validTopic(topic string) bool {
	if topic == "" || strings.ContainsAny(topic, " \t\r\n*>") {
		return false
	}
	for _, token := range strings.Split(topic, ".") {
		if token == "" {
			return false
		}
	}
	return true
}

// Encode maps a relay message onto a NATS message published under prefix.
// The topic becomes the subject suffix, the payload the data, and the frame and
// any extra parts travel as headers. The part count is kept so that decoding
// restores the message exactly.
func Encode(prefix string, msg bus.Message) (*nats.Msg, error) {
	if msg.Len() == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no parts", errors.ErrMalformedMessage), "natsbus", "Encode", "check parts")
	}

	topic := string(msg.Topic())
	if !validTopic(topic) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: topic %q is not a valid subject", errors.ErrMalformedMessage, topic),
			"natsbus", "Encode", "build subject")
	}

	frame := msg.Frame()
	if strings.ContainsAny(string(frame), "\r\n") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: frame contains line breaks", errors.ErrMalformedMessage),
			"natsbus", "Encode", "encode frame")
	}
	if f := string(frame); f != strings.TrimSpace(f) {
		// header values lose surrounding whitespace on the wire
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: frame %q has surrounding whitespace", errors.ErrMalformedMessage, f),
			"natsbus", "Encode", "encode frame")
	}

	out := nats.NewMsg(Subject(prefix, topic))
	out.Header.Set(HeaderParts, strconv.Itoa(msg.Len()))
	if msg.Len() > bus.PartFrame && len(frame) > 0 {
		out.Header.Set(HeaderFrame, string(frame))
	}
	out.Data = msg.Payload()
	for i := bus.PartExtra; i < msg.Len(); i++ {
		out.Header.Set(partHeader(i), base64.StdEncoding.EncodeToString(msg.Part(i)))
	}

	return out, nil
}

// Decode restores a relay message from a NATS message received under prefix.
func Decode(prefix string, in *nats.Msg) (bus.Message, error) {
	topic, err := topicFromSubject(prefix, in.Subject)
	if err != nil {
		return bus.Message{}, errors.WrapInvalid(err, "natsbus", "Decode", "parse subject")
	}

	parts := 3
	if raw := in.Header.Get(HeaderParts); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return bus.Message{}, errors.WrapInvalid(
				fmt.Errorf("%w: bad part count %q", errors.ErrMalformedMessage, raw),
				"natsbus", "Decode", "parse part count")
		}
		parts = n
	} else if in.Header.Get(HeaderExtra) != "" {
		parts = 4
	}

	msg := bus.Message{Parts: make([][]byte, parts)}
	msg.Parts[bus.PartTopic] = []byte(topic)
	if parts > bus.PartFrame {
		msg.Parts[bus.PartFrame] = []byte(in.Header.Get(HeaderFrame))
	}
	if parts > bus.PartPayload {
		payload := in.Data
		if payload == nil {
			payload = []byte{}
		}
		msg.Parts[bus.PartPayload] = payload
	}
	for i := bus.PartExtra; i < parts; i++ {
		part, err := base64.StdEncoding.DecodeString(in.Header.Get(partHeader(i)))
		if err != nil {
			return bus.Message{}, errors.WrapInvalid(
				fmt.Errorf("%w: part %d: %v", errors.ErrMalformedMessage, i, err),
				"natsbus", "Decode", "decode extra part")
		}
		msg.Parts[i] = part
	}

	return msg, nil
}

// EncodeCommand builds the NATS message for a parameter command.
func EncodeCommand(prefix, sender, commandTopic string, data []byte) (*nats.Msg, error) {
	if !validTopic(commandTopic) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: command topic %q is not a valid subject", errors.ErrMalformedCommand, commandTopic),
			"natsbus", "EncodeCommand", "build subject")
	}
	out := nats.NewMsg(Subject(prefix, commandTopic))
	if sender != "" {
		out.Header.Set(HeaderSender, sender)
	}
	out.Data = data
	return out, nil
}

// DecodeCommand turns a NATS message into a (sender, command topic, data)
// envelope. The sender is the Bus-Sender header, else the reply subject.
func DecodeCommand(prefix string, in *nats.Msg) (bus.Message, error) {
	topic, err := topicFromSubject(prefix, in.Subject)
	if err != nil {
		return bus.Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedCommand, err), "natsbus", "DecodeCommand", "parse subject")
	}

	sender := in.Header.Get(HeaderSender)
	if sender == "" {
		sender = in.Reply
	}

	data := in.Data
	if data == nil {
		data = []byte{}
	}
	return bus.NewMessage([]byte(sender), []byte(topic), data), nil
}

func topicFromSubject(prefix, subject string) (string, error) {
	if prefix == "" {
		return subject, nil
	}
	topic, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || topic == "" {
		return "", fmt.Errorf("%w: subject %q outside prefix %q", errors.ErrMalformedMessage, subject, prefix)
	}
	return topic, nil
}
