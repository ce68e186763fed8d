// Package natsbus carries relay messages over NATS core subjects.
//
// # Wire format
//
// A message (topic, frame, payload[, extra...]) published under prefix "facs.out"
// becomes one NATS message:
//
//	subject:   facs.out.<topic>
//	data:      payload
//	Bus-Parts: number of parts
//	Bus-Frame: frame (absent when the frame is empty)
//	Bus-Extra: base64 of the fourth part, when present
//
// Receivers subscribe to "<prefix>.>" and take the subject suffix as the topic.
// A publisher that omits Bus-Frame produces an end-of-stream marker.
//
// Commands arrive on "<commands>.<command topic>" with the sender in the
// Bus-Sender header, falling back to the reply subject. The relay never replies.
package natsbus
