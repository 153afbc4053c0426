package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestUpsertAndRemoveTrackConnectedSet(t *testing.T) {
	table := NewTable()

	const connected = 3
	for i := 1; i <= connected; i++ {
		id := fmt.Sprintf("user-%d", i)
		if _, replaced := table.Upsert(Entry{PrincipalID: id, ConnID: int64(i), DisplayName: id}); replaced {
			t.Fatalf("unexpected replacement for fresh principal %s", id)
		}
	}
	if table.Len() != connected {
		t.Fatalf("expected %d entries, got %d", connected, table.Len())
	}

	if !table.Remove("user-2", 2) {
		t.Fatal("expected removal of connected principal")
	}
	snapshot := table.Snapshot()
	if len(snapshot) != connected-1 {
		t.Fatalf("expected %d entries after disconnect, got %d", connected-1, len(snapshot))
	}
	for _, entry := range snapshot {
		if entry.PrincipalID == "user-2" {
			t.Fatal("expected disconnected principal to be absent from snapshot")
		}
	}
}

func TestUpsertReplacesPriorConnection(t *testing.T) {
	table := NewTable()

	table.Upsert(Entry{PrincipalID: "user-1", ConnID: 10, DisplayName: "first"})
	priorConnID, replaced := table.Upsert(Entry{PrincipalID: "user-1", ConnID: 11, DisplayName: "second"})
	if !replaced {
		t.Fatal("expected reconnect to replace prior entry")
	}
	if priorConnID != 10 {
		t.Fatalf("expected prior conn id 10, got %d", priorConnID)
	}
	if table.Len() != 1 {
		t.Fatalf("expected single entry after reconnect, got %d", table.Len())
	}
	if table.Snapshot()[0].DisplayName != "second" {
		t.Fatal("expected replacement metadata in snapshot")
	}
}

func TestRemoveIgnoresStaleConnection(t *testing.T) {
	table := NewTable()

	table.Upsert(Entry{PrincipalID: "user-1", ConnID: 10})
	table.Upsert(Entry{PrincipalID: "user-1", ConnID: 11})

	if table.Remove("user-1", 10) {
		t.Fatal("expected stale disconnect to be a no-op")
	}
	if table.Len() != 1 {
		t.Fatalf("expected fresh session to survive, got %d entries", table.Len())
	}
	if !table.Remove("user-1", 11) {
		t.Fatal("expected current connection to be removable")
	}
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	table := NewTable()
	for i := 0; i < 4; i++ {
		table.Upsert(Entry{PrincipalID: fmt.Sprintf("user-%d", i), ConnID: int64(i)})
	}

	snapshot := table.Snapshot()
	for i, entry := range snapshot {
		if want := fmt.Sprintf("user-%d", i); entry.PrincipalID != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, entry.PrincipalID)
		}
	}
}

func TestConcurrentMutationIsSafe(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", n%4)
			table.Upsert(Entry{PrincipalID: id, ConnID: int64(n)})
			table.Snapshot()
			table.Remove(id, int64(n))
		}(i)
	}
	wg.Wait()

	if table.Len() > 4 {
		t.Fatalf("expected at most 4 entries, got %d", table.Len())
	}
}
