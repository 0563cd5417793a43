package protocol

import "bytes"

// MessageKind tags what a Demuxer extracted from the stream.
type MessageKind int

const (
	// KindFrame is a complete, checksum-framed binary message.
	KindFrame MessageKind = iota
	// KindSentence is a complete ASCII NMEA sentence, '$' through "\r\n".
	KindSentence
)

// Message is one unit extracted from the mixed serial stream.
type Message struct {
	Kind     MessageKind
	Frame    []byte // valid when Kind == KindFrame; exactly FrameSize bytes
	Sentence string // valid when Kind == KindSentence; includes '$' and trailing CRLF
}

// The flight controller interleaves binary frames with ASCII NMEA
// passthrough on one serial line, so raw reads can start anywhere.
// maxBuffer bounds the pending buffer: past this with no sync pattern
// found the accumulated bytes are junk and the buffer resets.
const maxBuffer = 100

// Demuxer splits a mixed byte stream into binary frames and NMEA
// sentences. Feed bytes as they arrive in any chunking; a Demuxer is
// not safe for concurrent use.
type Demuxer struct {
	buf  []byte
	nmea bool // accumulating an ASCII sentence until CRLF
}

// Feed consumes a chunk of raw serial bytes and returns the complete
// messages it finished, in stream order. Partial frames and sentences
// stay buffered for the next call.
func (d *Demuxer) Feed(data []byte) []Message {
	var out []Message
	for _, b := range data {
		if m, ok := d.push(b); ok {
			out = append(out, m...)
		}
	}
	return out
}

func (d *Demuxer) push(b byte) ([]Message, bool) {
	if d.nmea {
		d.buf = append(d.buf, b)
		if b == '\n' && len(d.buf) >= 2 && d.buf[len(d.buf)-2] == '\r' {
			m := Message{Kind: KindSentence, Sentence: string(d.buf)}
			d.buf = d.buf[:0]
			d.nmea = false
			return []Message{m}, true
		}
		if len(d.buf) > maxBuffer {
			d.buf = d.buf[:0]
			d.nmea = false
		}
		return nil, false
	}

	if len(d.buf) == 0 && b == '$' {
		d.nmea = true
		d.buf = append(d.buf, b)
		return nil, false
	}

	d.buf = append(d.buf, b)
	return d.scanFrames()
}

// scanFrames extracts every complete binary frame currently in the
// buffer. Bytes ahead of a sync pattern are discarded one at a time so
// a corrupted sync byte costs a single-byte resync, not a whole frame.
func (d *Demuxer) scanFrames() ([]Message, bool) {
	var out []Message
	for len(d.buf) >= FrameSize {
		i := bytes.Index(d.buf, SyncFC[:])
		if i < 0 {
			// No sync anywhere; drop the oldest byte and wait.
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf)-i < FrameSize {
			// Sync found but the frame tail has not arrived.
			d.buf = d.buf[i:]
			break
		}
		frame := make([]byte, FrameSize)
		copy(frame, d.buf[i:i+FrameSize])
		d.buf = d.buf[i+FrameSize:]
		out = append(out, Message{Kind: KindFrame, Frame: frame})
	}
	if len(d.buf) > maxBuffer {
		d.buf = d.buf[:0]
	}
	return out, len(out) > 0
}
