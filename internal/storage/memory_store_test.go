package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	handle, err := store.Put(ctx, []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !validHandle(handle) {
		t.Errorf("Expected a uuid handle, got %q", handle)
	}

	preview, err := store.Get(ctx, handle)
	if err != nil {
		t.Fatalf("Expected preview to resolve, got %v", err)
	}
	if !bytes.Equal(preview.Data, []byte("jpeg-bytes")) || preview.MIMEType != "image/jpeg" {
		t.Errorf("Unexpected preview %+v", preview)
	}

	if err := store.Delete(ctx, handle); err != nil {
		t.Fatalf("Unexpected delete error: %v", err)
	}
	if err := store.Delete(ctx, handle); err != nil {
		t.Fatalf("Expected idempotent delete, got %v", err)
	}
	if _, err := store.Get(ctx, handle); !errors.Is(err, ErrPreviewNotFound) {
		t.Errorf("Expected ErrPreviewNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_CopiesInput(t *testing.T) {
	store := NewMemoryStore(0)
	data := []byte("abc")

	handle, _ := store.Put(context.Background(), data, "image/png")
	data[0] = 'z'

	preview, _ := store.Get(context.Background(), handle)
	if string(preview.Data) != "abc" {
		t.Errorf("Expected stored copy to be unaffected, got %q", preview.Data)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	handle, _ := store.Put(context.Background(), []byte("x"), "image/jpeg")

	now = now.Add(30 * time.Second)
	if _, err := store.Get(context.Background(), handle); err != nil {
		t.Fatalf("Expected preview before expiry, got %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := store.Get(context.Background(), handle); !errors.Is(err, ErrPreviewNotFound) {
		t.Errorf("Expected expired preview to be gone, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected sweep to drop expired entries, got %d", store.Len())
	}
}

func TestHandlesAreValidated(t *testing.T) {
	if validHandle("../../etc/passwd") {
		t.Error("Expected path-like handle to be rejected")
	}
	if !validHandle(newHandle()) {
		t.Error("Expected generated handle to be valid")
	}
}
