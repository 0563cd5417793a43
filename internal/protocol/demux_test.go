package protocol

import (
	"bytes"
	"testing"
)

func TestDemuxer_SingleFrame(t *testing.T) {
	var d Demuxer
	raw := fcFrame(MsgAHRS, []byte{1, 2, 3})
	msgs := d.Feed(raw[:])
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Kind != KindFrame {
		t.Fatalf("expected frame kind")
	}
	if !bytes.Equal(msgs[0].Frame, raw[:]) {
		t.Fatalf("frame bytes differ")
	}
}

func TestDemuxer_ByteAtATime(t *testing.T) {
	var d Demuxer
	raw := fcFrame(MsgBattery, []byte{7})
	var got []Message
	for _, b := range raw {
		got = append(got, d.Feed([]byte{b})...)
	}
	if len(got) != 1 || got[0].Kind != KindFrame {
		t.Fatalf("expected 1 frame, got %d messages", len(got))
	}
}

func TestDemuxer_GarbagePrefix(t *testing.T) {
	raw := fcFrame(MsgGPS, []byte{0xAB})
	for n := 0; n <= 50; n++ {
		var d Demuxer
		stream := append(bytes.Repeat([]byte{0xEE}, n), raw[:]...)
		msgs := d.Feed(stream)
		if len(msgs) != 1 {
			t.Fatalf("prefix %d: expected 1 message, got %d", n, len(msgs))
		}
		if !bytes.Equal(msgs[0].Frame, raw[:]) {
			t.Fatalf("prefix %d: frame bytes differ", n)
		}
	}
}

func TestDemuxer_BackToBackFrames(t *testing.T) {
	var d Demuxer
	a := fcFrame(MsgAHRS, []byte{1})
	b := fcFrame(MsgGPS, []byte{2})
	stream := append(append([]byte{}, a[:]...), b[:]...)
	msgs := d.Feed(stream)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Frame[2] != MsgAHRS || msgs[1].Frame[2] != MsgGPS {
		t.Fatalf("frames out of order")
	}
}

func TestDemuxer_NMEASentence(t *testing.T) {
	var d Demuxer
	line := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,,,,*47\r\n"
	msgs := d.Feed([]byte(line))
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Kind != KindSentence {
		t.Fatalf("expected sentence kind")
	}
	if msgs[0].Sentence != line {
		t.Fatalf("sentence mismatch: %q", msgs[0].Sentence)
	}
}

func TestDemuxer_Interleaved(t *testing.T) {
	var d Demuxer
	frame := fcFrame(MsgAHRS, []byte{5})
	line := "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"
	stream := append(append(append([]byte{}, frame[:]...), []byte(line)...), frame[:]...)
	var msgs []Message
	// Uneven chunking across the sentence boundary.
	for len(stream) > 0 {
		n := 7
		if n > len(stream) {
			n = len(stream)
		}
		msgs = append(msgs, d.Feed(stream[:n])...)
		stream = stream[n:]
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Kind != KindFrame || msgs[1].Kind != KindSentence || msgs[2].Kind != KindFrame {
		t.Fatalf("unexpected kinds: %v %v %v", msgs[0].Kind, msgs[1].Kind, msgs[2].Kind)
	}
}

func TestDemuxer_DollarMidBufferStaysBinary(t *testing.T) {
	// A '$' that is not at a message boundary is frame payload, not the
	// start of a sentence.
	var d Demuxer
	raw := fcFrame(MsgAHRS, []byte{'$', 'G', 'P'})
	msgs := d.Feed(raw[:])
	if len(msgs) != 1 || msgs[0].Kind != KindFrame {
		t.Fatalf("expected 1 frame, got %d messages", len(msgs))
	}
}

func TestDemuxer_RunawaySentenceResets(t *testing.T) {
	var d Demuxer
	junk := append([]byte{'$'}, bytes.Repeat([]byte{'X'}, 150)...)
	if msgs := d.Feed(junk); len(msgs) != 0 {
		t.Fatalf("expected no messages from runaway sentence")
	}
	// The buffer reset must leave the demuxer usable.
	raw := fcFrame(MsgGPS, nil)
	msgs := d.Feed(raw[:])
	if len(msgs) != 1 || msgs[0].Kind != KindFrame {
		t.Fatalf("expected recovery frame, got %d messages", len(msgs))
	}
}

func TestDemuxer_SplitFrameAcrossFeeds(t *testing.T) {
	var d Demuxer
	raw := fcFrame(MsgESC, []byte{9, 9})
	if msgs := d.Feed(raw[:11]); len(msgs) != 0 {
		t.Fatalf("partial frame must not emit")
	}
	msgs := d.Feed(raw[11:])
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Frame, raw[:]) {
		t.Fatalf("expected completed frame")
	}
}
