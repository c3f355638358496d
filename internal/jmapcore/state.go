package jmapcore

import (
	"context"
	"fmt"
	"strconv"
)

// StateStore reads the current modification sequence for an account/type
// pair, the integer a StateToken wraps (spec §4.10).
type StateStore interface {
	Modseq(ctx context.Context, accountID, typeName string) (uint64, error)
}

// GetState returns the current state token for one data type.
func GetState(ctx context.Context, store StateStore, accountID, typeName string) (StateToken, error) {
	modseq, err := store.Modseq(ctx, accountID, typeName)
	if err != nil {
		return "", fmt.Errorf("read state for %s/%s: %w", accountID, typeName, err)
	}
	return NewStateToken(modseq), nil
}

// CmpState compares two state tokens by their underlying mod-sequence:
// negative if a is older than b, zero if equal, positive if a is newer.
// This is an internal server-side operation used to pick the highest state
// across types; it does not expose lexicographic string ordering to
// clients, who may only test tokens for equality.
func CmpState(a, b StateToken) (int, error) {
	an, err := strconv.ParseUint(string(a), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid state token %q: %w", a, err)
	}
	bn, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid state token %q: %w", b, err)
	}
	switch {
	case an < bn:
		return -1, nil
	case an > bn:
		return 1, nil
	default:
		return 0, nil
	}
}

// HighestState returns the state token tagged with the highest mod-sequence
// across the given types, used to mint the Session resource's top-level
// "state" string and to decide whether a round of changes touched a type at
// all (spec §3, §6).
func HighestState(ctx context.Context, store StateStore, accountID string, types []string) (StateToken, error) {
	var highest uint64
	for _, t := range types {
		modseq, err := store.Modseq(ctx, accountID, t)
		if err != nil {
			return "", fmt.Errorf("read state for %s/%s: %w", accountID, t, err)
		}
		if modseq > highest {
			highest = modseq
		}
	}
	return NewStateToken(highest), nil
}
