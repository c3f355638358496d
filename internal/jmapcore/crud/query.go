package crud

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
)

// SortCriterion is one {property, isAscending, collation} entry of a
// Foo/query call's "sort" array.
type SortCriterion struct {
	Property    string
	IsAscending bool
	Collation   string
}

// QueryArgs is the parsed {filter?, sort?, position?, anchor?,
// anchorOffset?, limit?, calculateTotal?} request half of Foo/query.
type QueryArgs struct {
	Filter         any // type-specific filter tree, opaque to the shared shape
	Sort           []SortCriterion
	Position       int64
	Anchor         string
	HasAnchor      bool
	AnchorOffset   int64
	Limit          int
	HasLimit       bool
	CalculateTotal bool
}

// QueryResult is the {queryState, canCalculateChanges, position, ids,
// total?} response half.
type QueryResult struct {
	QueryState          string
	CanCalculateChanges bool
	Position            int64
	Ids                 []string
	Total               int
	HasTotal            bool
}

// QueryBackend is what a type package supplies to share the Query shape.
// Filter parsing is left to the caller (ParseQuery takes the already-parsed
// filter tree) since filter shape varies per type.
type QueryBackend interface {
	State(ctx context.Context, accountID string) (string, error)
	// Matching returns every id matching filter, sorted per sort — the
	// full result set before position/anchor/limit windowing, since anchor
	// resolution needs the full ordering to find its offset.
	Matching(ctx context.Context, accountID string, filter any, sort []SortCriterion) ([]string, error)
	CanCalculateChanges() bool
}

// ParseQuery validates the positioning/limit fields of a Foo/query call.
// filter and sort are parsed by the caller with type-specific hooks and
// passed in already resolved.
func ParseQuery(args map[string]any, filter any, sort []SortCriterion, maxObjectsInGet int) (QueryArgs, *jmapcore.MethodError) {
	p := jmapcore.NewParser()
	out := QueryArgs{Filter: filter, Sort: sort}

	_, hasPosition := args["position"]
	_, hasAnchor := args["anchor"]
	if hasPosition && hasAnchor {
		p.Invalid("position")
		p.Invalid("anchor")
	}

	if hasPosition {
		n, ok := args["position"].(float64)
		if !ok {
			p.Invalid("position")
		} else {
			out.Position = int64(n)
		}
	}

	if hasAnchor {
		s, ok := args["anchor"].(string)
		if !ok {
			p.Invalid("anchor")
		} else {
			out.HasAnchor = true
			out.Anchor = s
		}
		if raw, present := args["anchorOffset"]; present && raw != nil {
			n, ok := raw.(float64)
			if !ok {
				p.Invalid("anchorOffset")
			} else {
				out.AnchorOffset = int64(n)
			}
		}
	}

	if raw, present := args["limit"]; present && raw != nil {
		n, ok := raw.(float64)
		if !ok || n < 0 {
			p.Invalid("limit")
		} else {
			out.HasLimit = true
			out.Limit = int(n)
		}
	}
	if !out.HasLimit || (maxObjectsInGet > 0 && out.Limit > maxObjectsInGet) {
		if maxObjectsInGet > 0 {
			out.Limit = maxObjectsInGet
			out.HasLimit = true
		}
	}

	if raw, ok := args["calculateTotal"].(bool); ok {
		out.CalculateTotal = raw
	}

	if err := p.Errors(); err != nil {
		return QueryArgs{}, err
	}
	return out, nil
}

// Query runs the shared Foo/query shape against backend (spec §4.6).
func Query(ctx context.Context, backend QueryBackend, accountID string, in QueryArgs) (QueryResult, *jmapcore.MethodError) {
	state, err := backend.State(ctx, accountID)
	if err != nil {
		return QueryResult{}, jmapcore.ServerError(err, true)
	}

	all, err := backend.Matching(ctx, accountID, in.Filter, in.Sort)
	if err != nil {
		return QueryResult{}, jmapcore.ServerError(err, true)
	}

	position := in.Position
	if in.HasAnchor {
		idx := indexOf(all, in.Anchor)
		if idx < 0 {
			return QueryResult{}, jmapcore.AnchorNotFoundErr()
		}
		position = int64(idx) + in.AnchorOffset
	}
	if position < 0 {
		position += int64(len(all))
		if position < 0 {
			position = 0
		}
	}
	if position > int64(len(all)) {
		position = int64(len(all))
	}

	end := len(all)
	if in.HasLimit && position+int64(in.Limit) < int64(end) {
		end = int(position) + in.Limit
	}

	window := []string{}
	if int(position) < end {
		window = append(window, all[position:end]...)
	}

	result := QueryResult{
		QueryState:          state,
		CanCalculateChanges: backend.CanCalculateChanges(),
		Position:            position,
		Ids:                 window,
	}
	if in.CalculateTotal {
		result.HasTotal = true
		result.Total = len(all)
	}
	return result, nil
}

func indexOf(list []string, target string) int {
	for i, v := range list {
		if v == target {
			return i
		}
	}
	return -1
}

// Reply renders a QueryResult as the Foo/query response argument object.
func (r QueryResult) Reply() map[string]any {
	out := map[string]any{
		"queryState":          r.QueryState,
		"canCalculateChanges": r.CanCalculateChanges,
		"position":            r.Position,
		"ids":                 stringsOrEmpty(r.Ids),
	}
	if r.HasTotal {
		out["total"] = r.Total
	}
	return out
}
