// Package wire implements the client-facing length-prefixed document
// database wire protocol: frame parsing (RequestFramer, spec.md §4.5)
// and the opcode-specific request/response structures of spec.md §6.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Size limits from spec.md §6.
const (
	MaxMsgSize        = 48_000_000
	MaxBSONObjectSize = 16_777_216
	MaxWriteBatchSize = 100_000
)

// Opcode identifies the wire-protocol message kind.
type Opcode int32

const (
	OpReply       Opcode = 1
	OpUpdate      Opcode = 2001
	OpInsert      Opcode = 2002
	OpQuery       Opcode = 2004
	OpGetMore     Opcode = 2005
	OpDelete      Opcode = 2006
	OpKillCursors Opcode = 2007
	OpCompressed  Opcode = 2012
	OpMsg         Opcode = 2013
)

func (o Opcode) String() string {
	switch o {
	case OpReply:
		return "OP_REPLY"
	case OpUpdate:
		return "OP_UPDATE"
	case OpInsert:
		return "OP_INSERT"
	case OpQuery:
		return "OP_QUERY"
	case OpGetMore:
		return "OP_GET_MORE"
	case OpDelete:
		return "OP_DELETE"
	case OpKillCursors:
		return "OP_KILL_CURSORS"
	case OpCompressed:
		return "OP_COMPRESSED"
	case OpMsg:
		return "OP_MSG"
	default:
		return fmt.Sprintf("OP_UNKNOWN(%d)", int32(o))
	}
}

// HeaderSize is the fixed length of the wire-protocol message header.
const HeaderSize = 16

// Header is the 16-byte little-endian frame header common to every
// wire-protocol message.
type Header struct {
	MsgLen     int32
	RequestID  int32
	ResponseTo int32
	Opcode     Opcode
}

// DecodeHeader parses the 16-byte header from buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("MALFORMED_PACKET: header needs %d bytes, got %d", HeaderSize, len(buf))
	}
	return Header{
		MsgLen:     int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequestID:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		ResponseTo: int32(binary.LittleEndian.Uint32(buf[8:12])),
		Opcode:     Opcode(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// EncodeHeader writes h in wire format to buf[:16].
func EncodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.MsgLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Opcode))
}

// PatchRequestID rewrites the requestID and responseTo fields (bytes
// 4..11) of a previously-serialized message in place, per §4.7
// cache-hit patching and §8 invariant 7.
func PatchRequestID(msg []byte, requestID, responseTo int32) {
	binary.LittleEndian.PutUint32(msg[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(msg[8:12], uint32(responseTo))
}
