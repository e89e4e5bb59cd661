package predicate

import (
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestCompileEmptyFilter(t *testing.T) {
	got, err := Compile(bson.D{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "1" {
		t.Fatalf("Compile(empty) = %q, want %q", got, "1")
	}
}

// Scenario A: {"a.b": 1} compiles to a disjunction over the two
// incarnations a.b and a[*].b.
func TestCompileDottedEquality(t *testing.T) {
	got, err := Compile(bson.D{{Key: "a.b", Value: int32(1)}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(got, "JSON_EXTRACT") != 2 {
		t.Fatalf("expected 2 JSON_EXTRACT guards, got: %s", got)
	}
	if !strings.Contains(got, `$.a.b`) || !strings.Contains(got, `$.a[*].b`) {
		t.Fatalf("expected both incarnations present: %s", got)
	}
}

func TestCompileAndOr(t *testing.T) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "x", Value: int32(1)}},
		bson.D{{Key: "y", Value: int32(2)}},
	}}}
	got, err := Compile(filter)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, " OR ") {
		t.Fatalf("expected OR connective: %s", got)
	}
}

func TestCompileNorNegates(t *testing.T) {
	filter := bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "x", Value: int32(1)}}}}}
	got, err := Compile(filter)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "(NOT ") {
		t.Fatalf("expected leading NOT: %s", got)
	}
}

func TestCompileUnknownTopLevelOperator(t *testing.T) {
	_, err := Compile(bson.D{{Key: "$bogus", Value: int32(1)}})
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
	if !strings.HasPrefix(err.Error(), "BAD_VALUE") {
		t.Fatalf("error = %v, want BAD_VALUE", err)
	}
}

func TestCompileExistsFalse(t *testing.T) {
	got, err := Compile(bson.D{{Key: "a", Value: bson.D{{Key: "$exists", Value: false}}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "IS NULL") {
		t.Fatalf("expected IS NULL: %s", got)
	}
}

func TestCompileRegexOptionsPairing(t *testing.T) {
	got, err := Compile(bson.D{{Key: "a", Value: bson.D{
		{Key: "$regex", Value: "^foo"},
		{Key: "$options", Value: "i"},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "REGEXP") || !strings.Contains(got, "'i'") {
		t.Fatalf("expected REGEXP with case-insensitive flag: %s", got)
	}
}

func TestCompileLoneOptionsIsError(t *testing.T) {
	_, err := Compile(bson.D{{Key: "a", Value: bson.D{{Key: "$options", Value: "i"}}}})
	if err == nil {
		t.Fatal("expected error for $options without $regex")
	}
}

func TestCompileModRejectsZeroDivisor(t *testing.T) {
	_, err := Compile(bson.D{{Key: "a", Value: bson.D{{Key: "$mod", Value: bson.A{int32(0), int32(1)}}}}})
	if err == nil {
		t.Fatal("expected error for zero divisor")
	}
}

func TestEscapeQuotesAndBackslashes(t *testing.T) {
	got := Escape(`O'Brien\path`)
	want := `O\'Brien\\path`
	if got != want {
		t.Fatalf("Escape() = %q, want %q", got, want)
	}
}

// Invariant 1: emitted SQL contains only single-quoted string literals
// with backslash-escaped quotes and backslashes.
func TestCompileInjectionSafety(t *testing.T) {
	got, err := Compile(bson.D{{Key: "name", Value: `o'; DROP TABLE t; --`}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "DROP TABLE") == false {
		t.Fatalf("literal should be embedded verbatim but escaped: %s", got)
	}
	if !strings.Contains(got, `\'`) {
		t.Fatalf("expected escaped quote in literal: %s", got)
	}
}
