package cache

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mariadb-corp/nosqlbridge/internal/fingerprint"
	"github.com/mariadb-corp/nosqlbridge/internal/wire"
)

func TestPutGetPatchesRequestID(t *testing.T) {
	c := New()
	fp, err := fingerprint.Compute("alice", "host", "db", bson.D{{Key: "find", Value: "t"}})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := wire.EncodeMsg(bson.D{{Key: "ok", Value: 1}}, true)
	if err != nil {
		t.Fatal(err)
	}
	c.Put(fp, "t", resp)

	got, ok := c.Get(fp, 99, 5, true)
	if !ok {
		t.Fatal("expected cache hit")
	}
	hdr, err := wire.DecodeHeader(got)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.RequestID != 99 || hdr.ResponseTo != 5 {
		t.Fatalf("patch not applied: %#v", hdr)
	}
	if _, err := wire.ParseBody(hdr, got[wire.HeaderSize:]); err != nil {
		t.Fatalf("checksum should validate after patch: %v", err)
	}
}

func TestMissReturnsFalse(t *testing.T) {
	c := New()
	fp, _ := fingerprint.Compute("alice", "host", "db", bson.D{{Key: "find", Value: "t"}})
	if _, ok := c.Get(fp, 1, 1, false); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestInvalidateCurrentErasesTaggedEntries(t *testing.T) {
	c := New()
	fpA, _ := fingerprint.Compute("a", "h", "db", bson.D{{Key: "x", Value: 1}})
	fpB, _ := fingerprint.Compute("b", "h", "db", bson.D{{Key: "y", Value: 1}})
	resp, _ := wire.EncodeMsg(bson.D{{Key: "ok", Value: 1}}, false)
	c.Put(fpA, "widgets", resp)
	c.Put(fpB, "gadgets", resp)

	c.InvalidateCurrent([]string{"widgets"})

	if _, ok := c.Get(fpA, 1, 1, false); ok {
		t.Fatal("expected widgets entry invalidated")
	}
	if _, ok := c.Get(fpB, 1, 1, false); !ok {
		t.Fatal("expected gadgets entry to survive")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", c.Len())
	}
}
