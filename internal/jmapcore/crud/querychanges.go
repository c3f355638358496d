package crud

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
)

// QueryChangesArgs is the parsed {filter, sort, sinceQueryState, maxChanges?,
// upToId?, calculateTotal?} request half of Foo/queryChanges.
type QueryChangesArgs struct {
	Filter          any
	Sort            []SortCriterion
	SinceQueryState string
	MaxChanges      int
	HasMax          bool
	UpToID          string
	HasUpToID       bool
	CalculateTotal  bool
}

// AddedItem is one {id, index} entry of a Foo/queryChanges response's
// "added" array.
type AddedItem struct {
	ID    string
	Index int64
}

// QueryChangesResult is the {oldQueryState, newQueryState, total?, removed,
// added} response half.
type QueryChangesResult struct {
	OldQueryState string
	NewQueryState string
	Total         int
	HasTotal      bool
	Removed       []string
	Added         []AddedItem
}

// QueryChangesBackend is what a type package supplies to share the
// QueryChanges shape.
type QueryChangesBackend interface {
	QueryBackend
	// Diff reports the ids removed from and added to the filtered, sorted
	// result set since sinceQueryState, with added entries carrying their
	// new index. ok=false means sinceQueryState is too old to diff.
	Diff(ctx context.Context, accountID string, filter any, sort []SortCriterion, sinceQueryState string, upToID string, max int) (removed []string, added []AddedItem, newQueryState string, ok bool, err error)
}

// ParseQueryChanges validates a Foo/queryChanges call's arguments object.
func ParseQueryChanges(args map[string]any, filter any, sort []SortCriterion) (QueryChangesArgs, *jmapcore.MethodError) {
	p := jmapcore.NewParser()
	out := QueryChangesArgs{Filter: filter, Sort: sort}

	if raw, present := args["sinceQueryState"]; present {
		s, ok := raw.(string)
		if !ok {
			p.Invalid("sinceQueryState")
		} else {
			out.SinceQueryState = s
		}
	} else {
		p.Invalid("sinceQueryState")
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

	if raw, present := args["upToId"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			p.Invalid("upToId")
		} else {
			out.HasUpToID = true
			out.UpToID = s
		}
	}

	if raw, ok := args["calculateTotal"].(bool); ok {
		out.CalculateTotal = raw
	}

	if err := p.Errors(); err != nil {
		return QueryChangesArgs{}, err
	}
	return out, nil
}

// QueryChanges runs the shared Foo/queryChanges shape against backend
// (spec §4.6).
func QueryChanges(ctx context.Context, backend QueryChangesBackend, accountID string, in QueryChangesArgs) (QueryChangesResult, *jmapcore.MethodError) {
	removed, added, newState, ok, err := backend.Diff(ctx, accountID, in.Filter, in.Sort, in.SinceQueryState, in.UpToID, in.MaxChanges)
	if err != nil {
		return QueryChangesResult{}, jmapcore.ServerError(err, true)
	}
	if !ok {
		return QueryChangesResult{}, jmapcore.CannotCalculateChangesErr()
	}

	result := QueryChangesResult{
		OldQueryState: in.SinceQueryState,
		NewQueryState: newState,
		Removed:       removed,
		Added:         added,
	}
	if in.CalculateTotal {
		all, err := backend.Matching(ctx, accountID, in.Filter, in.Sort)
		if err != nil {
			return QueryChangesResult{}, jmapcore.ServerError(err, true)
		}
		result.HasTotal = true
		result.Total = len(all)
	}
	return result, nil
}

// Reply renders a QueryChangesResult as the Foo/queryChanges response
// argument object.
func (r QueryChangesResult) Reply() map[string]any {
	out := map[string]any{
		"oldQueryState": r.OldQueryState,
		"newQueryState": r.NewQueryState,
		"removed":       stringsOrEmpty(r.Removed),
	}
	added := make([]map[string]any, 0, len(r.Added))
	for _, a := range r.Added {
		added = append(added, map[string]any{"id": a.ID, "index": a.Index})
	}
	out["added"] = added
	if r.HasTotal {
		out["total"] = r.Total
	}
	return out
}
