package supervisor

import (
	"testing"

	mysqlrepl "github.com/go-mysql-org/go-mysql/replication"
)

func TestSingleInstanceIsAlwaysLeader(t *testing.T) {
	if !(SingleInstance{}).IsLeader() {
		t.Fatal("expected SingleInstance to always report leadership")
	}
}

func TestIsSafeStopPointRecognizesNamedEvents(t *testing.T) {
	safe := []mysqlrepl.EventType{
		mysqlrepl.ROTATE_EVENT,
		mysqlrepl.MARIADB_GTID_EVENT,
		mysqlrepl.XID_EVENT,
		mysqlrepl.HEARTBEAT_EVENT,
	}
	for _, et := range safe {
		if !isSafeStopPoint(et) {
			t.Fatalf("expected %v to be a safe stop point", et)
		}
	}
	if isSafeStopPoint(mysqlrepl.WRITE_ROWS_EVENTv2) {
		t.Fatal("expected a row event to not be a safe stop point")
	}
}

func TestStaticCandidatesReturnsFixedList(t *testing.T) {
	src := StaticCandidates{{Host: "db1", Port: 3306}}
	got, err := src.Candidates()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Host != "db1" {
		t.Fatalf("unexpected candidates: %v", got)
	}
}
