package wire

import (
	"encoding/binary"

	"go.mongodb.org/mongo-driver/bson"
)

// ReplyFlags mirrors the legacy OP_REPLY response flag bits.
const (
	ReplyFlagCursorNotFound int32 = 1 << 0
	ReplyFlagQueryFailure   int32 = 1 << 1
)

// EncodeReply builds a legacy OP_REPLY message body (requestID/responseTo
// left zero; callers patch them with PatchRequestID once the response's
// place in the request/response cycle is known).
func EncodeReply(flags int32, cursorID int64, startingFrom int32, docs []bson.D) ([]byte, error) {
	var body []byte
	body = append(body, le32(flags)...)
	body = append(body, le64(cursorID)...)
	body = append(body, le32(startingFrom)...)
	body = append(body, le32(int32(len(docs)))...)
	for _, d := range docs {
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, err
		}
		body = append(body, raw...)
	}
	return wrap(OpReply, body), nil
}

// EncodeMsg builds an OP_MSG response carrying a single kind-0 body
// section. checksum controls whether a trailing CRC32C is appended and
// the checksum-present flag bit is set.
func EncodeMsg(doc bson.D, checksum bool) ([]byte, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var flags uint32
	if checksum {
		flags |= msgFlagChecksumPresent
	}
	var body []byte
	body = append(body, le32(int32(flags))...)
	body = append(body, 0) // section kind 0
	body = append(body, raw...)

	msg := wrap(OpMsg, body)
	if checksum {
		msg = append(msg, make([]byte, 4)...)
		binary.LittleEndian.PutUint32(msg[0:4], uint32(len(msg)))
		WriteChecksum(msg)
		return msg, nil
	}
	return msg, nil
}

func wrap(op Opcode, body []byte) []byte {
	msg := make([]byte, HeaderSize+len(body))
	EncodeHeader(msg, Header{MsgLen: int32(len(msg)), Opcode: op})
	copy(msg[HeaderSize:], body)
	return msg
}

func le32(v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

func le64(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}
