package jmapcore

import (
	"context"
	"fmt"
)

// MailboxStore opens, commits, and aborts the backing-store handle a mailbox
// name resolves to (spec §4.3).
type MailboxStore interface {
	Open(ctx context.Context, accountID, name string, rw bool) (*MailboxHandle, error)
	Commit(ctx context.Context, handle *MailboxHandle) error
	Abort(ctx context.Context, handle *MailboxHandle) error
}

// MailboxHandle is an opened mailbox, tagged with the lock mode it holds.
type MailboxHandle struct {
	AccountID string
	Name      string
	RW        bool
	Data      any // opaque backing-store handle (e.g. a locked DynamoDB item version)
}

type cachedMailbox struct {
	handle *MailboxHandle
	rw     bool
}

// MailboxCache is the per-request open-mailbox table with lock-mode
// coherence: repeat opens of the same mailbox within one request reuse the
// cached handle instead of reopening it, and a read-write handle always
// satisfies a later read-only request for the same mailbox (spec §4.3).
type MailboxCache struct {
	store   MailboxStore
	handles map[string]*cachedMailbox
	forceRW bool
}

// NewMailboxCache returns an empty cache backed by store.
func NewMailboxCache(store MailboxStore) *MailboxCache {
	return &MailboxCache{store: store, handles: make(map[string]*cachedMailbox)}
}

// ForceOpenMboxRW makes every subsequent Open request a mailbox read-write
// regardless of what the caller asked for. Set it before the first Open of
// a mailbox a handler knows it will later need to write, so that a read
// done early in the call never blocks a write done later in the same call.
func (c *MailboxCache) ForceOpenMboxRW() { c.forceRW = true }

// Open returns the cached handle for name if it can satisfy rw, otherwise
// opens a fresh one. A write request against a mailbox already cached
// read-only fails with lockUpgradeForbidden instead of silently reopening it
// — upgrading a lock mid-request can deadlock against another handle on the
// same mailbox opened earlier in the same call.
func (c *MailboxCache) Open(ctx context.Context, accountID, name string, rw bool) (*MailboxHandle, error) {
	effectiveRW := rw || c.forceRW
	if cached, ok := c.handles[name]; ok {
		if cached.rw || !effectiveRW {
			return cached.handle, nil
		}
		return nil, LockUpgradeForbiddenErr()
	}
	handle, err := c.store.Open(ctx, accountID, name, effectiveRW)
	if err != nil {
		return nil, err
	}
	c.handles[name] = &cachedMailbox{handle: handle, rw: effectiveRW}
	return handle, nil
}

// Teardown commits every cached handle exactly once at the end of the
// request, aborting any handle whose commit fails so nothing is left open
// across request boundaries (spec §4.1 step 6, §4.3).
func (c *MailboxCache) Teardown(ctx context.Context) error {
	var firstErr error
	for _, cached := range c.handles {
		if err := c.store.Commit(ctx, cached.handle); err != nil {
			if abortErr := c.store.Abort(ctx, cached.handle); abortErr != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("commit failed (%v) and abort failed (%w)", err, abortErr)
				}
			} else if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.handles = make(map[string]*cachedMailbox)
	return firstErr
}
