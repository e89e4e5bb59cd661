package replication

import "testing"

func TestParseGTIDRoundTrips(t *testing.T) {
	g, err := ParseGTID("0-1-100")
	if err != nil {
		t.Fatal(err)
	}
	if g.Domain != 0 || g.ServerID != 1 || g.Sequence != 100 {
		t.Fatalf("unexpected parse: %+v", g)
	}
	if g.String() != "0-1-100" {
		t.Fatalf("String() = %q", g.String())
	}
}

func TestParseGTIDRejectsMalformed(t *testing.T) {
	cases := []string{"", "not-a-gtid", "1-2", "a-b-c"}
	for _, c := range cases {
		if _, err := ParseGTID(c); err == nil {
			t.Errorf("ParseGTID(%q) expected error", c)
		}
	}
}

func TestGtidListTracksPerDomainAdvance(t *testing.T) {
	list, err := ParseGtidList("0-1-10,1-1-5")
	if err != nil {
		t.Fatal(err)
	}
	if list.Empty() {
		t.Fatal("expected non-empty list")
	}
	g0, ok := list.Get(0)
	if !ok || g0.Sequence != 10 {
		t.Fatalf("unexpected domain 0 entry: %+v ok=%v", g0, ok)
	}

	newer, _ := ParseGTID("0-1-11")
	list.Set(newer)
	if !list.Contains(newer) {
		t.Fatal("expected list to contain its own latest entry")
	}
	stale, _ := ParseGTID("0-1-5")
	if !list.Contains(stale) {
		t.Fatal("a stale GTID at-or-behind the committed position should be Contains()==true")
	}
	ahead, _ := ParseGTID("0-1-999")
	if list.Contains(ahead) {
		t.Fatal("a GTID ahead of the committed position should be Contains()==false")
	}
}

func TestGtidListStringIsDomainSorted(t *testing.T) {
	list := NewGtidList()
	g1, _ := ParseGTID("5-1-1")
	g0, _ := ParseGTID("0-1-1")
	list.Set(g1)
	list.Set(g0)
	if got, want := list.String(), "0-1-1,5-1-1"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestGtidListCloneIsIndependent(t *testing.T) {
	list, _ := ParseGtidList("0-1-1")
	clone := list.Clone()
	clone.Set(GTID{Domain: 0, ServerID: 1, Sequence: 2})
	g, _ := list.Get(0)
	if g.Sequence != 1 {
		t.Fatal("mutating the clone should not affect the original")
	}
}
