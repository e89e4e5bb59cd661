package wire

import (
	"bytes"
	"fmt"
)

// Framer accumulates bytes from a transport until a full message is
// available, at which point it hands exactly msg_len bytes to the
// caller and keeps the remainder buffered for the next frame
// (spec.md §4.5). RequestFramer owns inbound buffers until a full
// frame is parsed, after which ownership transfers to the caller.
type Framer struct {
	buf bytes.Buffer
}

// ErrMalformedPacket is returned (and the connection must be closed)
// when msg_len exceeds MaxMsgSize or is smaller than HeaderSize.
type ErrMalformedPacket struct{ MsgLen int32 }

func (e *ErrMalformedPacket) Error() string {
	return fmt.Sprintf("MALFORMED_PACKET: msg_len %d is below the header size or exceeds MAX_MSG_SIZE", e.MsgLen)
}

// Feed appends newly-read transport bytes to the framer's buffer.
func (f *Framer) Feed(b []byte) {
	f.buf.Write(b)
}

// Next returns the next complete frame's raw bytes (header included),
// or (nil, false, nil) if more bytes are needed. A frame exceeding
// MaxMsgSize returns ErrMalformedPacket.
func (f *Framer) Next() (frame []byte, ok bool, err error) {
	avail := f.buf.Bytes()
	if len(avail) < HeaderSize {
		return nil, false, nil
	}
	hdr, err := DecodeHeader(avail)
	if err != nil {
		return nil, false, err
	}
	if hdr.MsgLen > MaxMsgSize || hdr.MsgLen < HeaderSize {
		return nil, false, &ErrMalformedPacket{MsgLen: hdr.MsgLen}
	}
	if int32(len(avail)) < hdr.MsgLen {
		return nil, false, nil
	}
	out := make([]byte, hdr.MsgLen)
	copy(out, avail[:hdr.MsgLen])
	f.buf.Next(int(hdr.MsgLen))
	return out, true, nil
}
