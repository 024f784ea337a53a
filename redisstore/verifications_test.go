package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/petlink-dev/petauth/verification"
)

func newTestVerificationStore(t *testing.T) (*VerificationStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewVerificationStore(client, "pa", time.Hour), mr
}

func sampleRequest() *verification.Request {
	now := time.Now().Truncate(time.Millisecond)
	return &verification.Request{
		ID:        "vr-1",
		Type:      verification.TypePasswordReset,
		Phone:     "010-1234-5678",
		Code:      "123456",
		CreatedAt: now,
		ExpiresAt: now.Add(3 * time.Minute),
	}
}

func TestVerificationSaveGetRoundTrip(t *testing.T) {
	store, _ := newTestVerificationStore(t)
	ctx := context.Background()

	req := sampleRequest()
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "vr-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Code != "123456" || got.Type != verification.TypePasswordReset || got.Verified {
		t.Fatalf("unexpected request %+v", got)
	}
	if !got.ExpiresAt.Equal(req.ExpiresAt) {
		t.Fatalf("ExpiresAt = %v, want %v", got.ExpiresAt, req.ExpiresAt)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestVerificationResetTokenIndex(t *testing.T) {
	store, _ := newTestVerificationStore(t)
	ctx := context.Background()

	req := sampleRequest()
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	req.Verified = true
	req.ResetTokenHash = "hash-a"
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.GetByResetToken(ctx, "hash-a")
	if err != nil {
		t.Fatalf("GetByResetToken failed: %v", err)
	}
	if got.ID != "vr-1" {
		t.Fatalf("resolved %s, want vr-1", got.ID)
	}

	// A rotated digest unindexes its predecessor.
	req.ResetTokenHash = "hash-b"
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.GetByResetToken(ctx, "hash-a"); !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("stale digest still resolves: %v", err)
	}
	if _, err := store.GetByResetToken(ctx, "hash-b"); err != nil {
		t.Fatalf("GetByResetToken failed: %v", err)
	}
}

func TestVerificationDeleteRemovesEverything(t *testing.T) {
	store, _ := newTestVerificationStore(t)
	ctx := context.Background()

	req := sampleRequest()
	req.Verified = true
	req.ResetTokenHash = "hash-a"
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "vr-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get(ctx, "vr-1"); !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByResetToken(ctx, "hash-a"); !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Delete is idempotent.
	if err := store.Delete(ctx, "vr-1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}

func TestVerificationRetentionWindow(t *testing.T) {
	store, mr := newTestVerificationStore(t)
	ctx := context.Background()

	req := sampleRequest()
	if err := store.Save(ctx, req); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Past code expiry but inside retention the record is still readable,
	// so callers can tell expired apart from never-existed.
	mr.FastForward(10 * time.Minute)
	if _, err := store.Get(ctx, "vr-1"); err != nil {
		t.Fatalf("Get inside retention failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "vr-1"); !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound past retention", err)
	}
}
