package kit

import (
	"context"
	"testing"
)

func TestReplicaIgnoresReplayedPrefix(t *testing.T) {
	r := NewReplica("ui")
	batch := []Transaction{
		{ID: "1", Changes: []Change{{Entity: "note", Key: "x", Op: OpInsert, Data: []byte(`"v1"`)}}},
		{ID: "2", Changes: []Change{{Entity: "note", Key: "x", Op: OpUpdate, Data: []byte(`"v2"`)}}},
	}
	ctx := context.Background()
	if err := r.Merge(ctx, batch); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := r.Merge(ctx, batch[:1]); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if err := r.Merge(ctx, nil); err != nil {
		t.Fatalf("empty: %v", err)
	}
	v, ok := r.Get("note", "x")
	if !ok || string(v) != `"v2"` {
		t.Fatalf("replay overwrote newer value: %s", v)
	}
	if got := r.Applied(); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("applied = %v", got)
	}
}

func TestReplicaDelete(t *testing.T) {
	r := NewReplica("ui")
	ctx := context.Background()
	_ = r.Merge(ctx, []Transaction{{ID: "1", Changes: []Change{{Entity: "note", Key: "x", Op: OpInsert, Data: []byte(`1`)}}}})
	_ = r.Merge(ctx, []Transaction{{ID: "2", Changes: []Change{{Entity: "note", Key: "x", Op: OpDelete}}}})
	if r.Len() != 0 {
		t.Fatalf("row not deleted")
	}
}
