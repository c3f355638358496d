package crud

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-core/internal/jmapcore"
)

// CopyArgs is the parsed {fromAccountId, create, onSuccessDestroyOriginal,
// destroyFromIfInState?} request half of Foo/copy.
type CopyArgs struct {
	FromAccountID             string
	Create                    map[string]map[string]any
	OnSuccessDestroyOriginal  bool
	DestroyFromIfInState      string
	HasDestroyFromIfInState   bool
}

// CopyResult is the {fromAccountId, accountId, created, notCreated} response
// half.
type CopyResult struct {
	FromAccountID string
	AccountID     string
	Created       map[string]map[string]any
	NotCreated    map[string]map[string]any
}

// CopyBackend is what a type package supplies to share the Copy shape.
type CopyBackend interface {
	// CopyOne copies the source object sourceID from fromAccountId into
	// accountId, returning its rendered form including the new id. fields is
	// the client's create entry for it as received (the source id under "id"
	// plus any other properties the client sent).
	CopyOne(ctx context.Context, fromAccountID, accountID string, sourceID string, fields map[string]any) (obj map[string]any, err error)
}

// ParseCopy validates a Foo/copy call's arguments object.
func ParseCopy(args map[string]any) (CopyArgs, *jmapcore.MethodError) {
	p := jmapcore.NewParser()
	var out CopyArgs

	if raw, present := args["fromAccountId"]; present {
		s, ok := raw.(string)
		if !ok {
			p.Invalid("fromAccountId")
		} else {
			out.FromAccountID = s
		}
	} else {
		p.Invalid("fromAccountId")
	}

	out.Create = parseObjectMap(p, args, "create")
	if len(out.Create) == 0 {
		p.Invalid("create")
	}

	if raw, ok := args["onSuccessDestroyOriginal"].(bool); ok {
		out.OnSuccessDestroyOriginal = raw
	}

	if raw, present := args["destroyFromIfInState"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			p.Invalid("destroyFromIfInState")
		} else {
			out.HasDestroyFromIfInState = true
			out.DestroyFromIfInState = s
		}
	}

	if err := p.Errors(); err != nil {
		return CopyArgs{}, err
	}
	return out, nil
}

// Copy runs the shared Foo/copy shape against backend (spec §4.6). Each
// entry of in.Create is keyed by the creation id on the client side but
// carries the source object's id under "id" (the one JMAP-specific
// convention Foo/copy adds to the ordinary create-map shape). If
// onSuccessDestroyOriginal is set and every source object copied
// successfully, the caller (the dispatcher, via RequestContext) should
// schedule the returned destroy call against fromAccountId. destroyMethod is
// the Foo/set method name to invoke for that sub-call (e.g. "Email/set").
func Copy(ctx context.Context, backend CopyBackend, creationIDs *jmapcore.CreationIDTable, in CopyArgs, accountID, destroyMethod string) (CopyResult, *jmapcore.MethodError, *jmapcore.Invocation) {
	result := CopyResult{
		FromAccountID: in.FromAccountID,
		AccountID:     accountID,
		Created:       map[string]map[string]any{},
		NotCreated:    map[string]map[string]any{},
	}

	destroyIDs := make([]string, 0, len(in.Create))
	allSucceeded := true
	for creationID, fields := range in.Create {
		sourceID, _ := fields["id"].(string)
		obj, err := backend.CopyOne(ctx, in.FromAccountID, accountID, sourceID, fields)
		if err != nil {
			result.NotCreated[creationID] = objectErrorArgs(err)
			allSucceeded = false
			continue
		}
		result.Created[creationID] = obj
		if id, ok := obj["id"].(string); ok {
			creationIDs.Add(creationID, id)
		}
		destroyIDs = append(destroyIDs, sourceID)
	}

	var deferredDestroy *jmapcore.Invocation
	if in.OnSuccessDestroyOriginal && allSucceeded && len(destroyIDs) > 0 {
		destroyArgs := map[string]any{"accountId": in.FromAccountID, "destroy": toAnySlice(destroyIDs)}
		if in.HasDestroyFromIfInState {
			destroyArgs["ifInState"] = in.DestroyFromIfInState
		}
		call := jmapcore.Invocation{Name: destroyMethod, Args: destroyArgs, ClientID: "onSuccessDestroyOriginal"}
		deferredDestroy = &call
	}

	return result, nil, deferredDestroy
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// Reply renders a CopyResult as the Foo/copy response argument object.
func (r CopyResult) Reply() map[string]any {
	return map[string]any{
		"fromAccountId": r.FromAccountID,
		"accountId":     r.AccountID,
		"created":       orNil(r.Created),
		"notCreated":    orNil(r.NotCreated),
	}
}
