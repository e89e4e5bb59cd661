package filter

import "testing"

func TestAllowsWithNoConstraints(t *testing.T) {
	f, err := New("", "")
	if err != nil {
		t.Fatal(err)
	}
	if !f.Allows("app", "widgets") {
		t.Fatal("expected unconstrained filter to allow everything")
	}
}

func TestIncludeRestrictsToMatch(t *testing.T) {
	f, err := New(`^app\.`, "")
	if err != nil {
		t.Fatal(err)
	}
	if !f.Allows("app", "widgets") {
		t.Fatal("expected app.widgets to be allowed")
	}
	if f.Allows("other", "widgets") {
		t.Fatal("expected other.widgets to be excluded by include pattern")
	}
}

func TestExcludeOverridesInclude(t *testing.T) {
	f, err := New(`^app\.`, `^app\.secrets$`)
	if err != nil {
		t.Fatal(err)
	}
	if f.Allows("app", "secrets") {
		t.Fatal("expected app.secrets to be excluded")
	}
	if !f.Allows("app", "widgets") {
		t.Fatal("expected app.widgets to remain allowed")
	}
}

func TestInvalidPatternErrors(t *testing.T) {
	if _, err := New("(unterminated", ""); err == nil {
		t.Fatal("expected compile error for invalid include pattern")
	}
}
