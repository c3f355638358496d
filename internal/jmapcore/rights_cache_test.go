package jmapcore

import (
	"context"
	"errors"
	"testing"
)

type fakeRightsStore struct {
	reads  int
	rights Rights
	err    error
}

func (f *fakeRightsStore) Rights(ctx context.Context, accountID, mailbox string) (Rights, error) {
	f.reads++
	if f.err != nil {
		return 0, f.err
	}
	return f.rights, nil
}

func TestRightsCache_MemoizesPerMailbox(t *testing.T) {
	store := &fakeRightsStore{rights: RightRead | RightWrite}
	cache := NewRightsCache(store)

	r1, err := cache.RightsFor(context.Background(), "a1", "INBOX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := cache.RightsFor(context.Background(), "a1", "INBOX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r1 != r2 {
		t.Errorf("expected memoized rights to match, got %v vs %v", r1, r2)
	}
	if store.reads != 1 {
		t.Errorf("expected exactly one store read, got %d", store.reads)
	}
}

func TestRightsCache_HasRights(t *testing.T) {
	store := &fakeRightsStore{rights: RightRead | RightLookup}
	cache := NewRightsCache(store)

	ok, err := cache.HasRights(context.Background(), "a1", "INBOX", RightRead|RightLookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected HasRights to report true for a satisfied mask")
	}

	ok, err = cache.HasRights(context.Background(), "a1", "INBOX", RightWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected HasRights to report false for an unsatisfied mask")
	}
}

func TestRightsCache_Invalidate(t *testing.T) {
	store := &fakeRightsStore{rights: RightRead}
	cache := NewRightsCache(store)

	cache.RightsFor(context.Background(), "a1", "INBOX")
	cache.Invalidate("INBOX")
	cache.RightsFor(context.Background(), "a1", "INBOX")

	if store.reads != 2 {
		t.Errorf("expected invalidation to force a second read, got %d reads", store.reads)
	}
}

func TestRightsCache_PropagatesStoreError(t *testing.T) {
	store := &fakeRightsStore{err: errors.New("boom")}
	cache := NewRightsCache(store)
	if _, err := cache.RightsFor(context.Background(), "a1", "INBOX"); err == nil {
		t.Error("expected the store's error to propagate")
	}
}
