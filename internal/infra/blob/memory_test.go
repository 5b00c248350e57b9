package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	meta := map[string]string{"run_id": "run-1"}
	info, err := store.Put(ctx, "exports/run-1/a.json", strings.NewReader("{}"), PutOptions{
		ContentType: "application/json",
		Metadata:    meta,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != 2 {
		t.Fatalf("size = %d, want 2", info.Size)
	}

	// The store must not alias the caller's metadata map.
	meta["run_id"] = "mutated"
	got, reader, err := store.Get(ctx, "exports/run-1/a.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer reader.Close()
	if got.Metadata["run_id"] != "run-1" {
		t.Fatalf("metadata aliased: %v", got.Metadata)
	}
	data, err := io.ReadAll(reader)
	if err != nil || string(data) != "{}" {
		t.Fatalf("read = (%q, %v)", data, err)
	}
}

func TestMemoryPutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if _, err := store.Put(ctx, "k", strings.NewReader("a"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("b"), PutOptions{}); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestMemoryHeadDeleteList(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	for _, key := range []string{"exports/run-1/b.csv", "exports/run-1/a.json", "other/x"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	if _, err := store.Head(ctx, "exports/run-1/a.json"); err != nil {
		t.Fatalf("Head: %v", err)
	}
	if _, err := store.Head(ctx, "missing"); err == nil {
		t.Fatal("expected Head error for missing key")
	}

	infos, err := store.List(ctx, "exports/run-1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "exports/run-1/a.json" {
		t.Fatalf("unexpected listing: %+v", infos)
	}

	existed, err := store.Delete(ctx, "other/x")
	if err != nil || !existed {
		t.Fatalf("Delete = (%v, %v)", existed, err)
	}
	existed, err = store.Delete(ctx, "other/x")
	if err != nil || existed {
		t.Fatalf("second Delete = (%v, %v)", existed, err)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	store := NewMemory()
	if _, err := store.PresignURL(context.Background(), "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("RIRCORE_BLOB_DRIVER", "memory")
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s, want memory", store.Driver())
	}

	t.Setenv("RIRCORE_BLOB_DRIVER", "fs")
	t.Setenv("RIRCORE_BLOB_FS_ROOT", t.TempDir())
	store, err = Open(ctx)
	if err != nil {
		t.Fatalf("Open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s, want fs", store.Driver())
	}

	t.Setenv("RIRCORE_BLOB_DRIVER", "tape")
	if _, err := Open(ctx); err == nil {
		t.Fatal("expected unknown driver error")
	}
}
