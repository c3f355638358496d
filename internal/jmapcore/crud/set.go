package crud

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
)

// SetArgs is the parsed {ifInState?, create, update, destroy} request half
// of Foo/set.
type SetArgs struct {
	IfInState string
	HasIf     bool
	Create    map[string]map[string]any
	Update    map[string]map[string]any
	Destroy   []string
}

// SetResult is the {accountId, oldState, newState, created, updated,
// destroyed, notCreated, notUpdated, notDestroyed} response half.
type SetResult struct {
	AccountID    string
	OldState     string
	NewState     string
	Created      map[string]map[string]any
	Updated      map[string]map[string]any
	Destroyed    []string
	NotCreated   map[string]map[string]any
	NotUpdated   map[string]map[string]any
	NotDestroyed map[string]map[string]any
}

// SetBackend is what a type package supplies to share the Set shape.
type SetBackend interface {
	State(ctx context.Context, accountID string) (string, error)
	// Create validates and stores a new object, returning its rendered
	// form (including the server-assigned id) or an ObjectError.
	Create(ctx context.Context, accountID string, fields map[string]any) (obj map[string]any, err error)
	// Update patches an existing object, returning the fields that actually
	// changed. fields is the client's update entry for id as received: Set
	// does not expand RFC 6901 patch paths in it (jmapcore.Apply does that
	// expansion, and Set does not call it).
	Update(ctx context.Context, accountID, id string, fields map[string]any) (changed map[string]any, err error)
	Destroy(ctx context.Context, accountID, id string) error
	// Bump advances the type's state after a successful mutation round.
	Bump(ctx context.Context, accountID string) (string, error)
}

// ParseSet validates a Foo/set call's arguments object. maxObjects caps
// |create|+|update|+|destroy| (spec §4.6, §6 MAX_OBJECTS_IN_SET).
func ParseSet(args map[string]any, maxObjects int) (SetArgs, *jmapcore.MethodError) {
	p := jmapcore.NewParser()
	var out SetArgs

	if raw, present := args["ifInState"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			p.Invalid("ifInState")
		} else {
			out.HasIf = true
			out.IfInState = s
		}
	}

	out.Create = parseObjectMap(p, args, "create")
	out.Update = parseObjectMap(p, args, "update")

	if raw, present := args["destroy"]; present && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			p.Invalid("destroy")
		} else {
			for _, v := range list {
				s, ok := v.(string)
				if !ok {
					p.Invalid("destroy")
					continue
				}
				out.Destroy = append(out.Destroy, s)
			}
		}
	}

	if err := p.Errors(); err != nil {
		return SetArgs{}, err
	}

	total := len(out.Create) + len(out.Update) + len(out.Destroy)
	if maxObjects > 0 && total > maxObjects {
		return SetArgs{}, &jmapcore.MethodError{Type: jmapcore.CodeLimit, Properties: map[string]any{"limit": "maxObjectsInSet"}}
	}
	return out, nil
}

func parseObjectMap(p *jmapcore.Parser, args map[string]any, name string) map[string]map[string]any {
	raw, present := args[name]
	if !present || raw == nil {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		p.Invalid(name)
		return nil
	}
	out := make(map[string]map[string]any, len(m))
	for k, v := range m {
		fields, ok := v.(map[string]any)
		if !ok {
			p.Invalid(name + "/" + k)
			continue
		}
		out[k] = fields
	}
	return out
}

// Set runs the shared Foo/set shape against backend (spec §4.6). If in has
// IfInState set and it does not match the backend's current state, the
// whole call fails with stateMismatch before any mutation runs.
func Set(ctx context.Context, backend SetBackend, creationIDs *jmapcore.CreationIDTable, accountID string, in SetArgs) (SetResult, *jmapcore.MethodError) {
	oldState, err := backend.State(ctx, accountID)
	if err != nil {
		return SetResult{}, jmapcore.ServerError(err, true)
	}
	if in.HasIf && in.IfInState != oldState {
		return SetResult{}, jmapcore.StateMismatchErr()
	}

	result := SetResult{
		AccountID:    accountID,
		OldState:     oldState,
		Created:      map[string]map[string]any{},
		Updated:      map[string]map[string]any{},
		NotCreated:   map[string]map[string]any{},
		NotUpdated:   map[string]map[string]any{},
		NotDestroyed: map[string]map[string]any{},
	}

	for creationID, fields := range in.Create {
		obj, err := backend.Create(ctx, accountID, fields)
		if err != nil {
			result.NotCreated[creationID] = objectErrorArgs(err)
			continue
		}
		result.Created[creationID] = obj
		if id, ok := obj["id"].(string); ok {
			creationIDs.Add(creationID, id)
		}
	}

	for id, fields := range in.Update {
		changed, err := backend.Update(ctx, accountID, id, fields)
		if err != nil {
			result.NotUpdated[id] = objectErrorArgs(err)
			continue
		}
		result.Updated[id] = changed
	}

	for _, id := range in.Destroy {
		if err := backend.Destroy(ctx, accountID, id); err != nil {
			result.NotDestroyed[id] = objectErrorArgs(err)
			continue
		}
		result.Destroyed = append(result.Destroyed, id)
	}

	newState, err := backend.Bump(ctx, accountID)
	if err != nil {
		return SetResult{}, jmapcore.ServerError(err, true)
	}
	result.NewState = newState
	return result, nil
}

func objectErrorArgs(err error) map[string]any {
	if oe, ok := err.(*jmapcore.ObjectError); ok {
		return oe.ToArgs()
	}
	return jmapcore.ServerError(err, false).ToArgs()
}

// Reply renders a SetResult as the Foo/set response argument object.
func (r SetResult) Reply() map[string]any {
	out := map[string]any{
		"accountId": r.AccountID,
		"oldState":  r.OldState,
		"newState":  r.NewState,
	}
	out["created"] = orNil(r.Created)
	out["updated"] = orNil(r.Updated)
	if len(r.Destroyed) > 0 {
		out["destroyed"] = r.Destroyed
	} else {
		out["destroyed"] = nil
	}
	out["notCreated"] = orNil(r.NotCreated)
	out["notUpdated"] = orNil(r.NotUpdated)
	out["notDestroyed"] = orNil(r.NotDestroyed)
	return out
}

func orNil(m map[string]map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
