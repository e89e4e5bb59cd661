package fingerprint

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestComputeIsStableForEqualInput(t *testing.T) {
	body := bson.D{{Key: "find", Value: "t"}, {Key: "filter", Value: bson.D{{Key: "a", Value: int32(1)}}}}
	a, err := Compute("alice", "10.0.0.1", "db", body)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compute("alice", "10.0.0.1", "db", body)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected equal fingerprints for equal input")
	}
}

func TestComputeDiffersByUser(t *testing.T) {
	body := bson.D{{Key: "find", Value: "t"}}
	a, _ := Compute("alice", "host", "db", body)
	b, _ := Compute("bob", "host", "db", body)
	if a == b {
		t.Fatal("expected different fingerprints for different users")
	}
}

func TestComputeDiffersByKeyOrder(t *testing.T) {
	a, _ := Compute("alice", "host", "db", bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}})
	b, _ := Compute("alice", "host", "db", bson.D{{Key: "b", Value: 2}, {Key: "a", Value: 1}})
	if a == b {
		t.Fatal("key-order variants are not required to alias")
	}
}
