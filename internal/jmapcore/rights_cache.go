package jmapcore

import "context"

// Rights is a bitset of ACL rights the authenticated user holds on a
// mailbox (spec §4.4).
type Rights uint32

const (
	RightLookup Rights = 1 << iota
	RightRead
	RightWrite
	RightInsert
	RightDeleteMsg
	RightAdmin
)

// RightsStore reads the authenticated user's rights bitset for a mailbox.
type RightsStore interface {
	Rights(ctx context.Context, accountID, mailbox string) (Rights, error)
}

// RightsCache memoizes the authenticated user's rights per mailbox name for
// the lifetime of one request (spec §4.4), so a chain of method calls that
// each touch the same mailbox only reads its ACL once.
type RightsCache struct {
	store RightsStore
	cache map[string]Rights
}

// NewRightsCache returns an empty cache backed by store.
func NewRightsCache(store RightsStore) *RightsCache {
	return &RightsCache{store: store, cache: make(map[string]Rights)}
}

// RightsFor returns the memoized rights bitset for a mailbox, reading
// through to the store on first access.
func (c *RightsCache) RightsFor(ctx context.Context, accountID, mailbox string) (Rights, error) {
	if rights, ok := c.cache[mailbox]; ok {
		return rights, nil
	}
	rights, err := c.store.Rights(ctx, accountID, mailbox)
	if err != nil {
		return 0, err
	}
	c.cache[mailbox] = rights
	return rights, nil
}

// HasRights reports whether the memoized rights for mailbox satisfy every
// bit in mask.
func (c *RightsCache) HasRights(ctx context.Context, accountID, mailbox string, mask Rights) (bool, error) {
	rights, err := c.RightsFor(ctx, accountID, mailbox)
	if err != nil {
		return false, err
	}
	return rights&mask == mask, nil
}

// Invalidate drops a mailbox's memoized rights, used when a handler changes
// an ACL mid-request (e.g. Mailbox/set changing sharedWith).
func (c *RightsCache) Invalidate(mailbox string) {
	delete(c.cache, mailbox)
}
