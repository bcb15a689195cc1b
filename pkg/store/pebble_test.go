package store

import (
	"fmt"
	"testing"
)

func openTestDB(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func TestAppendAssignsSequentialSeqs(t *testing.T) {
	openTestDB(t)
	for i := 1; i <= 5; i++ {
		seq, err := AppendMessage("group:g1", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != uint64(i) {
			t.Fatalf("expected seq %d got %d", i, seq)
		}
	}
	last, err := LastSeq("group:g1")
	if err != nil {
		t.Fatalf("last seq: %v", err)
	}
	if last != 5 {
		t.Fatalf("expected last seq 5 got %d", last)
	}
}

func TestSeqsIndependentPerThread(t *testing.T) {
	openTestDB(t)
	if seq, _ := AppendMessage("group:a", []byte(`{}`)); seq != 1 {
		t.Fatalf("expected seq 1 got %d", seq)
	}
	if seq, _ := AppendMessage("group:b", []byte(`{}`)); seq != 1 {
		t.Fatalf("expected seq 1 got %d", seq)
	}
	if seq, _ := AppendMessage("group:a", []byte(`{}`)); seq != 2 {
		t.Fatalf("expected seq 2 got %d", seq)
	}
}

func TestSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := AppendMessage("group:g", []byte(`{}`)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := Open(dir); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
	seq, err := AppendMessage("group:g", []byte(`{}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 4 {
		t.Fatalf("expected seq 4 after reopen got %d", seq)
	}
}

func TestReadMessagesRange(t *testing.T) {
	openTestDB(t)
	for i := 1; i <= 4; i++ {
		if _, err := AppendMessage("user:pk", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := ReadMessages("user:pk", 2, 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0]) != "m2" || string(msgs[1]) != "m3" {
		t.Fatalf("unexpected range result: %q", msgs)
	}
	all, err := ReadMessages("user:pk", 0, 0)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 4 || string(all[0]) != "m1" || string(all[3]) != "m4" {
		t.Fatalf("unexpected full read: %q", all)
	}
}

func TestListMessagesTail(t *testing.T) {
	openTestDB(t)
	for i := 1; i <= 5; i++ {
		if _, err := AppendMessage("dm:a#x|b#y", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := ListMessages("dm:a#x|b#y", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0]) != "m4" || string(msgs[1]) != "m5" {
		t.Fatalf("unexpected tail: %q", msgs)
	}
}

func TestDirectThreadSortsParticipants(t *testing.T) {
	a := DirectThread([]string{"bob#remote.net", "alice#example.org"})
	b := DirectThread([]string{"alice#example.org", "bob#remote.net"})
	if a != b {
		t.Fatalf("direct thread key order-dependent: %s vs %s", a, b)
	}
	if a != "dm:alice#example.org|bob#remote.net" {
		t.Fatalf("unexpected key %s", a)
	}
}

func TestGroupTransitionIsAtomic(t *testing.T) {
	openTestDB(t)
	seq, err := ApplyGroupTransition("g1", []byte(`{"group_id":"g1"}`), []byte(`{"type":"system"}`))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1 got %d", seq)
	}
	meta, err := GetGroupMeta("g1")
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if string(meta) != `{"group_id":"g1"}` {
		t.Fatalf("unexpected meta %s", meta)
	}
	msgs, err := ReadMessages(GroupThread("g1"), 0, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected 1 log record, got %d (%v)", len(msgs), err)
	}
	ids, err := ListGroups()
	if err != nil || len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("unexpected group list %v (%v)", ids, err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	openTestDB(t)
	if _, err := GetGroupMeta("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := GetProfile("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
