package wire

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func buildMsgFrame(t *testing.T, body bson.D, checksum bool) []byte {
	t.Helper()
	msg, err := EncodeMsg(body, checksum)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestFramerSplitsFedBytesAcrossReads(t *testing.T) {
	frame := buildMsgFrame(t, bson.D{{Key: "ping", Value: int32(1)}}, false)

	var f Framer
	f.Feed(frame[:5])
	if _, ok, err := f.Next(); ok || err != nil {
		t.Fatalf("expected no frame yet, got ok=%v err=%v", ok, err)
	}
	f.Feed(frame[5:])
	got, ok, err := f.Next()
	if err != nil || !ok {
		t.Fatalf("expected complete frame, err=%v ok=%v", err, ok)
	}
	if len(got) != len(frame) {
		t.Fatalf("frame length mismatch: got %d want %d", len(got), len(frame))
	}
}

func TestFramerRejectsOversizedMsgLen(t *testing.T) {
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, Header{MsgLen: MaxMsgSize + 1, Opcode: OpMsg})
	var f Framer
	f.Feed(buf)
	_, _, err := f.Next()
	if err == nil {
		t.Fatal("expected ErrMalformedPacket")
	}
	if _, ok := err.(*ErrMalformedPacket); !ok {
		t.Fatalf("expected *ErrMalformedPacket, got %T", err)
	}
}

func TestParseBodyRoundTripsMsg(t *testing.T) {
	body := bson.D{{Key: "insert", Value: "widgets"}, {Key: "$db", Value: "test"}}
	frame := buildMsgFrame(t, body, true)

	hdr, err := DecodeHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	req, err := ParseBody(hdr, frame[HeaderSize:])
	if err != nil {
		t.Fatal(err)
	}
	if req.Msg == nil {
		t.Fatal("expected Msg request")
	}
	if !req.Msg.ChecksumPresent {
		t.Fatal("expected checksum-present flag set")
	}
	got := req.Msg.Body()
	if len(got) != 2 || got[0].Key != "insert" || got[0].Value != "widgets" {
		t.Fatalf("unexpected body: %#v", got)
	}
}

func TestParseBodyRejectsBadChecksum(t *testing.T) {
	frame := buildMsgFrame(t, bson.D{{Key: "ping", Value: int32(1)}}, true)
	frame[len(frame)-1] ^= 0xFF

	hdr, _ := DecodeHeader(frame)
	_, err := ParseBody(hdr, frame[HeaderSize:])
	if err != ErrInvalidChecksum {
		t.Fatalf("expected ErrInvalidChecksum, got %v", err)
	}
}

func TestParseInsertDocumentBatch(t *testing.T) {
	docs := []bson.D{
		{{Key: "_id", Value: int32(1)}},
		{{Key: "_id", Value: int32(2)}},
	}
	var body []byte
	body = append(body, le32(0)...)
	body = append(body, []byte("widgets\x00")...)
	for _, d := range docs {
		raw, err := bson.Marshal(d)
		if err != nil {
			t.Fatal(err)
		}
		body = append(body, raw...)
	}
	req, err := parseInsert(body)
	if err != nil {
		t.Fatal(err)
	}
	if req.Collection != "widgets" || len(req.Documents) != 2 {
		t.Fatalf("unexpected parse result: %#v", req)
	}
}

func TestPatchRequestIDAndChecksum(t *testing.T) {
	frame := buildMsgFrame(t, bson.D{{Key: "ping", Value: int32(1)}}, true)
	PatchRequestID(frame, 42, 7)
	WriteChecksum(frame)

	hdr, err := DecodeHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.RequestID != 42 || hdr.ResponseTo != 7 {
		t.Fatalf("patch did not take effect: %#v", hdr)
	}
	if _, err := ParseBody(hdr, frame[HeaderSize:]); err != nil {
		t.Fatalf("checksum should validate after WriteChecksum: %v", err)
	}
}
