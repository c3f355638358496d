package crud

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
)

// ChangesArgs is the parsed {sinceState, maxChanges?} request half of
// Foo/changes.
type ChangesArgs struct {
	SinceState string
	MaxChanges int
	HasMax     bool
}

// ChangesResult is the {oldState, newState, hasMoreChanges, created,
// updated, destroyed} response half.
type ChangesResult struct {
	OldState       string
	NewState       string
	HasMoreChanges bool
	Created        []string
	Updated        []string
	Destroyed      []string
}

// ChangesBackend is what a type package supplies to share the Changes
// shape. Diff returns every id that changed since sinceState, tagged with
// how it changed; the backend decides whether sinceState is still
// reconstructable (e.g. it may have expired out of a change log).
type ChangesBackend interface {
	State(ctx context.Context, accountID string) (string, error)
	// Diff returns, in change order, the ids created/updated/destroyed
	// since sinceState, and the state token reached after applying up to
	// max of them (which is the account's current state only if hasMore
	// is false). ok=false means sinceState is too old to diff
	// (cannotCalculateChanges).
	Diff(ctx context.Context, accountID, sinceState string, max int) (created, updated, destroyed []string, newState string, hasMore bool, ok bool, err error)
}

// ParseChanges validates a Foo/changes call's arguments object.
func ParseChanges(args map[string]any) (ChangesArgs, *jmapcore.MethodError) {
	p := jmapcore.NewParser()
	var out ChangesArgs

	if raw, present := args["sinceState"]; present {
		s, ok := raw.(string)
		if !ok {
			p.Invalid("sinceState")
		} else {
			out.SinceState = s
		}
	} else {
		p.Invalid("sinceState")
	}

	if raw, present := args["maxChanges"]; present && raw != nil {
		n, ok := raw.(float64)
		if !ok || n <= 0 {
			p.Invalid("maxChanges")
		} else {
			out.HasMax = true
			out.MaxChanges = int(n)
		}
	}

	if err := p.Errors(); err != nil {
		return ChangesArgs{}, err
	}
	return out, nil
}

// Changes runs the shared Foo/changes shape against backend (spec §4.6).
// sinceState equal to the current state returns an empty diff without
// consulting the backend's change log at all.
func Changes(ctx context.Context, backend ChangesBackend, accountID string, in ChangesArgs) (ChangesResult, *jmapcore.MethodError) {
	current, err := backend.State(ctx, accountID)
	if err != nil {
		return ChangesResult{}, jmapcore.ServerError(err, true)
	}
	if in.SinceState == current {
		return ChangesResult{OldState: current, NewState: current}, nil
	}

	max := in.MaxChanges
	created, updated, destroyed, newState, hasMore, ok, err := backend.Diff(ctx, accountID, in.SinceState, max)
	if err != nil {
		return ChangesResult{}, jmapcore.ServerError(err, true)
	}
	if !ok {
		return ChangesResult{}, jmapcore.CannotCalculateChangesErr()
	}

	return ChangesResult{
		OldState:       in.SinceState,
		NewState:       newState,
		HasMoreChanges: hasMore,
		Created:        created,
		Updated:        updated,
		Destroyed:      destroyed,
	}, nil
}

// Reply renders a ChangesResult as the Foo/changes response argument object.
func (r ChangesResult) Reply() map[string]any {
	return map[string]any{
		"oldState":       r.OldState,
		"newState":       r.NewState,
		"hasMoreChanges": r.HasMoreChanges,
		"created":        stringsOrEmpty(r.Created),
		"updated":        stringsOrEmpty(r.Updated),
		"destroyed":      stringsOrEmpty(r.Destroyed),
	}
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
