package update

import (
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

// Scenario B: $inc on a missing field behaves as an insert of the
// increment value.
func TestCompileIncOnMissingField(t *testing.T) {
	c, err := Compile(bson.D{{Key: "$inc", Value: bson.D{{Key: "y", Value: int32(5)}}}}, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != OperatorUpdate {
		t.Fatalf("kind = %v, want OperatorUpdate", c.Kind)
	}
	if !strings.Contains(c.Expr, "COALESCE") || !strings.Contains(c.Expr, "JSON_SET") {
		t.Fatalf("expected COALESCE+JSON_SET in expr: %s", c.Expr)
	}
}

func TestCompileSetPreservesNull(t *testing.T) {
	c, err := Compile(bson.D{{Key: "$set", Value: bson.D{{Key: "a", Value: nil}}}}, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(c.Expr, "JSON_SET") {
		t.Fatalf("expected JSON_SET (not JSON_MERGE_PATCH, which drops nulls): %s", c.Expr)
	}
}

func TestClassifyMixedKeysIsError(t *testing.T) {
	_, err := Classify(bson.D{{Key: "$set", Value: bson.D{}}, {Key: "plain", Value: 1}})
	if err == nil {
		t.Fatal("expected error for mixed operator/plain keys")
	}
}

func TestClassifyReplacementDocument(t *testing.T) {
	kind, err := Classify(bson.D{{Key: "a", Value: int32(1)}})
	if err != nil {
		t.Fatal(err)
	}
	if kind != ReplacementDocument {
		t.Fatalf("kind = %v, want ReplacementDocument", kind)
	}
}

func TestCompileReplacementPreservesID(t *testing.T) {
	c, err := Compile(bson.D{{Key: "a", Value: int32(1)}}, "original-id")
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != ReplacementDocument {
		t.Fatalf("kind = %v, want ReplacementDocument", c.Kind)
	}
	if c.Replace[0].Key != "_id" || c.Replace[0].Value != "original-id" {
		t.Fatalf("expected _id preserved first, got %v", c.Replace)
	}
}

func TestCompileAggregationPipelineUnsupported(t *testing.T) {
	_, err := Compile(bson.A{bson.D{{Key: "$set", Value: bson.D{}}}}, "id1")
	if err == nil {
		t.Fatal("expected COMMAND_FAILED for aggregation pipeline")
	}
	if !strings.Contains(err.Error(), "COMMAND_FAILED") {
		t.Fatalf("error = %v, want COMMAND_FAILED", err)
	}
}

func TestConflictingUpdateOperators(t *testing.T) {
	_, err := Compile(bson.D{{Key: "$set", Value: bson.D{
		{Key: "a", Value: int32(1)},
		{Key: "a.b", Value: int32(2)},
	}}}, "id1")
	if err == nil {
		t.Fatal("expected CONFLICTING_UPDATE_OPERATORS")
	}
	if !strings.Contains(err.Error(), "CONFLICTING_UPDATE_OPERATORS") {
		t.Fatalf("error = %v, want CONFLICTING_UPDATE_OPERATORS", err)
	}
}

func TestImmutableIDField(t *testing.T) {
	_, err := Compile(bson.D{{Key: "$set", Value: bson.D{{Key: "_id", Value: int32(1)}}}}, "id1")
	if err == nil {
		t.Fatal("expected IMMUTABLE_FIELD")
	}
	if !strings.Contains(err.Error(), "IMMUTABLE_FIELD") {
		t.Fatalf("error = %v, want IMMUTABLE_FIELD", err)
	}
}

func TestRenameRejectsSelf(t *testing.T) {
	_, err := Compile(bson.D{{Key: "$rename", Value: bson.D{{Key: "a", Value: "a"}}}}, "id1")
	if err == nil {
		t.Fatal("expected error for identical $rename source/target")
	}
}

func TestBitRejectsMultipleSubOperators(t *testing.T) {
	// $bit requires exactly one recognized sub-operator.
	_, err := Compile(bson.D{{Key: "$bit", Value: bson.D{{Key: "and", Value: int32(1)}, {Key: "or", Value: int32(2)}}}}, "id1")
	if err == nil {
		t.Fatal("expected error for $bit with multiple sub-operators")
	}
}

func TestReplacementDocumentOverLimitIsRejected(t *testing.T) {
	big := strings.Repeat("x", MaxReplacementDocumentSize)
	_, err := Compile(bson.D{{Key: "payload", Value: big}}, "id1")
	if err == nil {
		t.Fatal("expected error for oversized replacement document")
	}
	if !strings.Contains(err.Error(), "BAD_VALUE") {
		t.Fatalf("error = %v, want BAD_VALUE", err)
	}
}
