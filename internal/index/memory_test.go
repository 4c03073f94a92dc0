package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

func cached(owner, id string) domain.CachedSet {
	set := domain.NewBookmarkSet(owner, id, domain.SetInput{Title: id}, time.Now())
	return domain.CachedSet{Set: *set}
}

// count returns the number of records across all owners
func count(t *testing.T, store *MemoryStore) int {
	t.Helper()
	owners, err := store.Owners(context.Background())
	if err != nil {
		t.Fatalf("Owners() error = %v", err)
	}
	n := 0
	for _, owner := range owners {
		recs, _ := store.Get(context.Background(), owner)
		n += len(recs)
	}
	return n
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}
	if n := count(t, store); n != 0 {
		t.Errorf("NewMemoryStore() should start empty, got %v", n)
	}
}

func TestPutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "alice", "a", cached("alice", "a")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "alice", "b", cached("alice", "b")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "bob", "c", cached("bob", "c")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Get() returned %v records, want 2", len(got))
	}
	if got["a"].Set.Title != "a" {
		t.Errorf("Get() title = %v, want a", got["a"].Set.Title)
	}
	if n := count(t, store); n != 3 {
		t.Errorf("store holds %v records, want 3", n)
	}
	owners, _ := store.Owners(ctx)
	if len(owners) != 2 {
		t.Errorf("Owners() = %v, want alice and bob", owners)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := cached("alice", "a")
	rec.Set.PublicItems = []domain.BookmarkItem{{Kind: domain.ItemEvent, ID: "x"}}
	_ = store.Put(ctx, "alice", "a", rec)
	rec.Set.PublicItems[0].ID = "changed-after-put"

	got, _ := store.Get(ctx, "alice")
	got["a"].Set.PublicItems[0].ID = "changed-after-get"

	again, _ := store.Get(ctx, "alice")
	if id := again["a"].Set.PublicItems[0].ID; id != "x" {
		t.Errorf("stored record was mutated through a copy, item id = %v", id)
	}
}

func TestRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Put(ctx, "alice", "a", cached("alice", "a"))
	if err := store.Remove(ctx, "alice", "a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove(ctx, "alice", "missing"); err != nil {
		t.Fatalf("Remove() of a missing record error = %v", err)
	}

	got, _ := store.Get(ctx, "alice")
	if len(got) != 0 {
		t.Errorf("Remove() left %v records", len(got))
	}
	owners, _ := store.Owners(ctx)
	if len(owners) != 0 {
		t.Errorf("Owners() = %v, want none", owners)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("set-%d", i)
			_ = store.Put(ctx, "alice", id, cached("alice", id))
		}(i)
		go func() {
			defer wg.Done()
			_, _ = store.Get(ctx, "alice")
		}()
	}
	wg.Wait()

	if n := count(t, store); n != 50 {
		t.Errorf("store holds %v records, want 50", n)
	}
}
