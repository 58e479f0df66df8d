package protocol

import (
	"bytes"
	"errors"
)

// DefaultMaxLine caps a single buffered line. A child that never emits a
// newline would otherwise grow the buffer without bound.
const DefaultMaxLine = 16 << 20

// Framer splits a byte stream into newline-delimited JSON-RPC messages.
// It is a synchronous transform: Feed never blocks and never fails.
// A Framer owns its buffer and must not be shared between streams.
type Framer struct {
	buf    []byte
	onText func(line string)
}

// NewFramer returns a Framer. onText receives lines that are not JSON so the
// caller can log them; it may be nil.
func NewFramer(onText func(line string)) *Framer {
	return &Framer{onText: onText}
}

// Feed appends p and returns every message completed by it, in stream order.
// The trailing partial line is retained for the next call.
func (f *Framer) Feed(p []byte) []Message {
	f.buf = append(f.buf, p...)

	var out []Message
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		if msg, ok := f.decodeLine(f.buf[:i]); ok {
			out = append(out, msg)
		}
		f.buf = f.buf[i+1:]
	}

	if len(f.buf) > DefaultMaxLine {
		f.text("[framer] discarded oversized partial line")
		f.buf = nil
	}
	if len(f.buf) == 0 {
		// Drop the backing array so a single large burst is not pinned.
		f.buf = nil
	}
	return out
}

// Flush decodes whatever is left in the buffer as a final line. Used at EOF,
// when the stream ends without a trailing newline.
func (f *Framer) Flush() []Message {
	rest := f.buf
	f.buf = nil
	if msg, ok := f.decodeLine(rest); ok {
		return []Message{msg}
	}
	return nil
}

func (f *Framer) decodeLine(raw []byte) (Message, bool) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return Message{}, false
	}
	msg, err := Decode(line)
	if err != nil {
		if errors.Is(err, ErrNotJSON) {
			f.text(string(line))
		}
		return Message{}, false
	}
	return msg, true
}

func (f *Framer) text(line string) {
	if f.onText != nil {
		f.onText(line)
	}
}
