// Package crud implements the six parse/reply shapes RFC 8620 §5 shares
// across every JMAP data type (Foo/get, Foo/set, Foo/changes, Foo/query,
// Foo/queryChanges, Foo/copy). Each shape is generic over a small per-type
// Backend interface; the type-specific packages (mailbox, email, ...) supply
// the backend and register the resulting handlers into a jmapcore.MethodRegistry.
package crud

import (
	"context"
	"fmt"

	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
)

// GetArgs is the parsed {ids?, properties?} request half of Foo/get.
type GetArgs struct {
	Ids        []string
	HasIds     bool
	Properties []string
	HasProps   bool
}

// GetResult is the {accountId, state, list, notFound} response half.
type GetResult struct {
	AccountID string
	State     string
	List      []map[string]any
	NotFound  []string
}

// GetBackend is what a type package supplies to share the Get shape.
type GetBackend interface {
	// AllIds lists every object id in the account, used when the request
	// omits "ids" (spec §4.6 "return ALL objects... unless allowNullIds is
	// false").
	AllIds(ctx context.Context, accountID string) ([]string, error)
	// Fetch renders one object's requested properties, or ok=false if id
	// does not exist.
	Fetch(ctx context.Context, accountID, id string, properties []string) (obj map[string]any, ok bool, err error)
	// KnownProperties lists every property name Fetch can render, used to
	// validate the request's "properties" array.
	KnownProperties() []string
	// State returns the type's current state token.
	State(ctx context.Context, accountID string) (string, error)
}

// ParseGet validates a Foo/get call's arguments object. allowNullIds=false
// rejects a request that omits "ids" instead of returning every object.
func ParseGet(args map[string]any, known []string, allowNullIds bool) (GetArgs, *jmapcore.MethodError) {
	p := jmapcore.NewParser()
	var out GetArgs

	if raw, present := args["ids"]; present && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			p.Invalid("ids")
		} else {
			out.HasIds = true
			for _, v := range list {
				s, ok := v.(string)
				if !ok {
					p.Invalid("ids")
					continue
				}
				out.Ids = append(out.Ids, s)
			}
		}
	} else if !allowNullIds {
		p.Invalid("ids")
	}

	if raw, present := args["properties"]; present && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			p.Invalid("properties")
		} else {
			out.HasProps = true
			knownSet := make(map[string]bool, len(known))
			for _, k := range known {
				knownSet[k] = true
			}
			for i, v := range list {
				s, ok := v.(string)
				if !ok || !knownSet[s] {
					p.Invalid(fmt.Sprintf("properties[%d]", i))
					continue
				}
				out.Properties = append(out.Properties, s)
			}
		}
	}

	if err := p.Errors(); err != nil {
		return GetArgs{}, err
	}
	return out, nil
}

// Get runs the shared Foo/get shape against backend (spec §4.6).
func Get(ctx context.Context, backend GetBackend, accountID string, in GetArgs) (GetResult, *jmapcore.MethodError) {
	ids := in.Ids
	if !in.HasIds {
		all, err := backend.AllIds(ctx, accountID)
		if err != nil {
			return GetResult{}, jmapcore.ServerError(err, true)
		}
		ids = all
	}

	state, err := backend.State(ctx, accountID)
	if err != nil {
		return GetResult{}, jmapcore.ServerError(err, true)
	}

	result := GetResult{AccountID: accountID, State: state, List: []map[string]any{}}
	for _, id := range ids {
		obj, ok, err := backend.Fetch(ctx, accountID, id, in.Properties)
		if err != nil {
			return GetResult{}, jmapcore.ServerError(err, true)
		}
		if !ok {
			result.NotFound = append(result.NotFound, id)
			continue
		}
		result.List = append(result.List, obj)
	}
	return result, nil
}

// Reply renders a GetResult as the Foo/get response argument object.
func (r GetResult) Reply() map[string]any {
	out := map[string]any{
		"accountId": r.AccountID,
		"state":     r.State,
		"list":      r.List,
	}
	if len(r.NotFound) > 0 {
		out["notFound"] = r.NotFound
	} else {
		out["notFound"] = nil
	}
	return out
}
