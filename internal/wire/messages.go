package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"go.mongodb.org/mongo-driver/bson"
)

// castagnoliTable is the CRC32C polynomial table used by the MSG
// opcode's trailing checksum.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ErrInvalidChecksum is returned when an MSG checksum does not match.
var ErrInvalidChecksum = fmt.Errorf("INVALID_CHECKSUM: checksum mismatch")

// Response is a fully-encoded wire message ready to send, along with
// enough bookkeeping for the caller to tell an empty response (queued,
// not yet dispatched) from a real one.
type Response struct {
	Frame []byte
}

// Request is the parsed, typed form of one frame's payload, keyed by
// opcode.
type Request struct {
	Header     Header
	Insert     *InsertRequest
	Delete     *DeleteRequest
	Update     *UpdateRequest
	Query      *QueryRequest
	GetMore    *GetMoreRequest
	KillCursor *KillCursorsRequest
	Msg        *MsgRequest
}

type InsertRequest struct {
	Flags      int32
	Collection string
	Documents  []bson.D
}

type DeleteRequest struct {
	Collection string
	Flags      int32
	Selector   bson.D
}

type UpdateRequest struct {
	Collection string
	Flags      int32
	Selector   bson.D
	Update     bson.D
}

type QueryRequest struct {
	Flags      int32
	Collection string
	Skip       int32
	Return     int32
	Query      bson.D
	Fields     bson.D
}

type GetMoreRequest struct {
	Collection string
	Return     int32
	CursorID   int64
}

type KillCursorsRequest struct {
	CursorIDs []int64
}

const (
	msgFlagChecksumPresent uint32 = 1 << 0
	msgFlagMoreToCome      uint32 = 1 << 1
	msgFlagExhaustAllowed  uint32 = 1 << 16
)

type MsgSection struct {
	Kind       byte
	Body       bson.D   // kind 0
	Identifier string   // kind 1
	Documents  []bson.D // kind 1
}

type MsgRequest struct {
	ChecksumPresent bool
	MoreToCome      bool
	ExhaustAllowed  bool
	Sections        []MsgSection
}

// Body returns the kind-0 section document, the primary command body.
func (m *MsgRequest) Body() bson.D {
	for _, s := range m.Sections {
		if s.Kind == 0 {
			return s.Body
		}
	}
	return nil
}

// ParseBody decodes the opcode-specific payload of a frame (the bytes
// following the 16-byte header) into a typed Request.
func ParseBody(hdr Header, payload []byte) (*Request, error) {
	req := &Request{Header: hdr}
	var err error
	switch hdr.Opcode {
	case OpInsert:
		req.Insert, err = parseInsert(payload)
	case OpDelete:
		req.Delete, err = parseDelete(payload)
	case OpUpdate:
		req.Update, err = parseUpdate(payload)
	case OpQuery:
		req.Query, err = parseQuery(payload)
	case OpGetMore:
		req.GetMore, err = parseGetMore(payload)
	case OpKillCursors:
		req.KillCursor, err = parseKillCursors(payload)
	case OpMsg:
		req.Msg, err = parseMsg(hdr, payload)
	case OpReply, OpCompressed:
		return nil, fmt.Errorf("UNSUPPORTED_OPCODE: %s", hdr.Opcode)
	default:
		return nil, fmt.Errorf("UNSUPPORTED_OPCODE: %s", hdr.Opcode)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.b) - c.pos }

func (c *cursor) int32() (int32, error) {
	if c.remaining() < 4 {
		return 0, fmt.Errorf("MALFORMED_PACKET: truncated int32")
	}
	v := int32(binary.LittleEndian.Uint32(c.b[c.pos:]))
	c.pos += 4
	return v, nil
}

func (c *cursor) int64() (int64, error) {
	if c.remaining() < 8 {
		return 0, fmt.Errorf("MALFORMED_PACKET: truncated int64")
	}
	v := int64(binary.LittleEndian.Uint64(c.b[c.pos:]))
	c.pos += 8
	return v, nil
}

func (c *cursor) byte() (byte, error) {
	if c.remaining() < 1 {
		return 0, fmt.Errorf("MALFORMED_PACKET: truncated byte")
	}
	v := c.b[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) cstring() (string, error) {
	end := -1
	for i := c.pos; i < len(c.b); i++ {
		if c.b[i] == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		return "", fmt.Errorf("MALFORMED_PACKET: unterminated cstring")
	}
	s := string(c.b[c.pos:end])
	c.pos = end + 1
	return s, nil
}

// bsonDoc reads one complete BSON document starting at the cursor,
// using the document's own leading int32 length prefix.
func (c *cursor) bsonDoc() (bson.D, error) {
	if c.remaining() < 4 {
		return nil, fmt.Errorf("MALFORMED_PACKET: truncated document")
	}
	length := int(int32(binary.LittleEndian.Uint32(c.b[c.pos:])))
	if length < 5 || c.remaining() < length {
		return nil, fmt.Errorf("MALFORMED_PACKET: invalid document length %d", length)
	}
	raw := c.b[c.pos : c.pos+length]
	c.pos += length
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("FAILED_TO_PARSE: %w", err)
	}
	return doc, nil
}

func parseInsert(payload []byte) (*InsertRequest, error) {
	c := &cursor{b: payload}
	flags, err := c.int32()
	if err != nil {
		return nil, err
	}
	coll, err := c.cstring()
	if err != nil {
		return nil, err
	}
	var docs []bson.D
	for c.remaining() > 0 {
		doc, err := c.bsonDoc()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		if len(docs) > MaxWriteBatchSize {
			return nil, fmt.Errorf("BAD_VALUE: insert batch exceeds MAX_WRITE_BATCH_SIZE")
		}
	}
	return &InsertRequest{Flags: flags, Collection: coll, Documents: docs}, nil
}

func parseDelete(payload []byte) (*DeleteRequest, error) {
	c := &cursor{b: payload}
	if _, err := c.int32(); err != nil {
		return nil, err
	}
	coll, err := c.cstring()
	if err != nil {
		return nil, err
	}
	flags, err := c.int32()
	if err != nil {
		return nil, err
	}
	sel, err := c.bsonDoc()
	if err != nil {
		return nil, err
	}
	return &DeleteRequest{Collection: coll, Flags: flags, Selector: sel}, nil
}

func parseUpdate(payload []byte) (*UpdateRequest, error) {
	c := &cursor{b: payload}
	if _, err := c.int32(); err != nil {
		return nil, err
	}
	coll, err := c.cstring()
	if err != nil {
		return nil, err
	}
	flags, err := c.int32()
	if err != nil {
		return nil, err
	}
	sel, err := c.bsonDoc()
	if err != nil {
		return nil, err
	}
	upd, err := c.bsonDoc()
	if err != nil {
		return nil, err
	}
	return &UpdateRequest{Collection: coll, Flags: flags, Selector: sel, Update: upd}, nil
}

func parseQuery(payload []byte) (*QueryRequest, error) {
	c := &cursor{b: payload}
	flags, err := c.int32()
	if err != nil {
		return nil, err
	}
	coll, err := c.cstring()
	if err != nil {
		return nil, err
	}
	skip, err := c.int32()
	if err != nil {
		return nil, err
	}
	ret, err := c.int32()
	if err != nil {
		return nil, err
	}
	q, err := c.bsonDoc()
	if err != nil {
		return nil, err
	}
	var fields bson.D
	if c.remaining() > 0 {
		fields, err = c.bsonDoc()
		if err != nil {
			return nil, err
		}
	}
	return &QueryRequest{Flags: flags, Collection: coll, Skip: skip, Return: ret, Query: q, Fields: fields}, nil
}

func parseGetMore(payload []byte) (*GetMoreRequest, error) {
	c := &cursor{b: payload}
	if _, err := c.int32(); err != nil {
		return nil, err
	}
	coll, err := c.cstring()
	if err != nil {
		return nil, err
	}
	ret, err := c.int32()
	if err != nil {
		return nil, err
	}
	cursorID, err := c.int64()
	if err != nil {
		return nil, err
	}
	return &GetMoreRequest{Collection: coll, Return: ret, CursorID: cursorID}, nil
}

func parseKillCursors(payload []byte) (*KillCursorsRequest, error) {
	c := &cursor{b: payload}
	if _, err := c.int32(); err != nil {
		return nil, err
	}
	n, err := c.int32()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, n)
	for i := int32(0); i < n; i++ {
		id, err := c.int64()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return &KillCursorsRequest{CursorIDs: ids}, nil
}

func parseMsg(hdr Header, payload []byte) (*MsgRequest, error) {
	c := &cursor{b: payload}
	flags32, err := c.int32()
	if err != nil {
		return nil, err
	}
	flags := uint32(flags32)
	checksumPresent := flags&msgFlagChecksumPresent != 0

	body := payload
	if checksumPresent {
		if len(payload) < 4 {
			return nil, fmt.Errorf("MALFORMED_PACKET: message too short for checksum")
		}
		var head [HeaderSize]byte
		EncodeHeader(head[:], hdr)
		want := binary.LittleEndian.Uint32(payload[len(payload)-4:])
		got := crc32.Update(crc32.Checksum(head[:], castagnoliTable), castagnoliTable, payload[:len(payload)-4])
		if want != got {
			return nil, ErrInvalidChecksum
		}
		body = payload[:len(payload)-4]
		c.b = body
	}

	var sections []MsgSection
	for c.remaining() > 0 {
		kind, err := c.byte()
		if err != nil {
			return nil, err
		}
		switch kind {
		case 0:
			doc, err := c.bsonDoc()
			if err != nil {
				return nil, err
			}
			sections = append(sections, MsgSection{Kind: 0, Body: doc})
		case 1:
			totalSize, err := c.int32()
			if err != nil {
				return nil, err
			}
			sectionEnd := c.pos + int(totalSize) - 4
			if sectionEnd < c.pos || sectionEnd > len(c.b) {
				return nil, fmt.Errorf("MALFORMED_PACKET: invalid section size")
			}
			id, err := c.cstring()
			if err != nil {
				return nil, err
			}
			var docs []bson.D
			for c.pos < sectionEnd {
				doc, err := c.bsonDoc()
				if err != nil {
					return nil, err
				}
				docs = append(docs, doc)
			}
			sections = append(sections, MsgSection{Kind: 1, Identifier: id, Documents: docs})
		default:
			return nil, fmt.Errorf("MALFORMED_PACKET: unknown section kind %d", kind)
		}
	}

	return &MsgRequest{
		ChecksumPresent: checksumPresent,
		MoreToCome:      flags&msgFlagMoreToCome != 0,
		ExhaustAllowed:  flags&msgFlagExhaustAllowed != 0,
		Sections:        sections,
	}, nil
}

// ChecksumOf computes the CRC32C of msg[:len(msg)-4] — the value that
// must appear in msg's trailing 4 bytes for a checksummed MSG reply.
func ChecksumOf(msg []byte) uint32 {
	return crc32.Checksum(msg[:len(msg)-4], castagnoliTable)
}

// WriteChecksum recomputes and writes the trailing CRC32C of msg in
// place (used after PatchRequestID on a cached response, §4.7/§8
// invariant 7).
func WriteChecksum(msg []byte) {
	sum := ChecksumOf(msg)
	binary.LittleEndian.PutUint32(msg[len(msg)-4:], sum)
}
