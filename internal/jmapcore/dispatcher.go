package jmapcore

import (
	"context"
	"fmt"

	"github.com/jarrod-lowe/jmap-service-core/internal/plugin"
	"github.com/jarrod-lowe/jmap-service-core/internal/resultref"
	"github.com/jarrod-lowe/jmap-service-core/internal/tracing"
)

// ContextFactory builds the per-request context a Dispatch call threads
// through every method. Protocol modules that don't need mailbox/rights
// caching may return a RequestContext with those fields left nil.
type ContextFactory func(ctx context.Context, userID, accountID string, createdIDs map[string]string) *RequestContext

// Dispatcher implements the core request/response cycle (spec §4.1): gate
// the request envelope, then run each method call in order, resolving
// result references against every prior response and the creation-id table,
// routing to either a core-owned MethodHandler or a plugin Lambda.
type Dispatcher struct {
	Registry    *MethodRegistry
	Plugins     *plugin.Registry
	Invoker     plugin.Invoker
	Settings    Settings
	NewContext  ContextFactory
	ServiceName string // tracer name for per-method spans
}

// Dispatch runs one JMAP request envelope to completion and returns its
// response envelope, or an EnvelopeError if the request is rejected before
// any method call runs (spec §7 tier 1).
func (d *Dispatcher) Dispatch(ctx context.Context, rawSize int, req Request, userID, accountID string) (Response, *EnvelopeError) {
	if int64(rawSize) > d.Settings.MaxSizeRequest && d.Settings.MaxSizeRequest > 0 {
		return Response{}, &EnvelopeError{Type: CodeLimit, Limit: "maxSizeRequest"}
	}
	if len(req.Using) == 0 {
		return Response{}, &EnvelopeError{Type: CodeNotRequest, Detail: "using must be a non-empty array"}
	}
	using := make(map[string]bool, len(req.Using))
	for _, capability := range req.Using {
		if !d.isKnownCapability(capability) {
			return Response{}, &EnvelopeError{Type: CodeUnknownCapability, Detail: capability}
		}
		using[capability] = true
	}
	if len(req.MethodCalls) == 0 {
		return Response{}, &EnvelopeError{Type: CodeNotRequest, Detail: "methodCalls must be a non-empty array"}
	}
	if d.Settings.MaxCallsInRequest > 0 && len(req.MethodCalls) > d.Settings.MaxCallsInRequest {
		return Response{}, &EnvelopeError{Type: CodeLimit, Limit: "maxCallsInRequest"}
	}

	rc := d.NewContext(ctx, userID, accountID, req.CreatedIDs)
	rc.Registry = d.Registry

	queue := append([]Invocation{}, req.MethodCalls...)
	responses := make([]Invocation, 0, len(queue))
	var seen []resultref.MethodResponse

	for i := 0; i < len(queue); i++ {
		call := queue[i]

		resolvedArgs, refErr := d.resolveCallArgs(call.Args, seen, rc.CreationIDs)
		if refErr != nil {
			resp := ErrorInvocation(call.ClientID, refErr)
			responses = append(responses, resp)
			seen = append(seen, toResultrefResponse(resp))
			continue
		}
		call.Args = resolvedArgs

		resp := d.dispatchOne(ctx, rc, call, using, i)
		responses = append(responses, resp)
		seen = append(seen, toResultrefResponse(resp))

		deferred := rc.DrainDeferred()
		if len(deferred) > 0 {
			tail := append([]Invocation{}, queue[i+1:]...)
			queue = append(queue[:i+1], append(deferred, tail...)...)
		}
	}

	if err := rc.Teardown(ctx); err != nil {
		for i := range responses {
			if responses[i].Name != "error" {
				responses[i] = ErrorInvocation(responses[i].ClientID, ServerError(err, false))
			}
		}
	}

	return Response{
		MethodResponses: responses,
		CreatedIDs:      rc.CreationIDs.Snapshot(),
		SessionState:    "", // set by the caller from jmapcore.HighestState after Dispatch returns
	}, nil
}

// dispatchOne routes one already-resolved call to either a core handler or a
// plugin Lambda, recording a per-method trace span either way (spec §4.1 step 5).
func (d *Dispatcher) dispatchOne(ctx context.Context, rc *RequestContext, call Invocation, using map[string]bool, idx int) Invocation {
	ctx, span := tracing.StartMethodSpan(ctx, d.ServiceName, call.Name, call.ClientID, idx)
	defer span.End()

	if handler, _, capability, ok := d.Registry.Lookup(call.Name); ok {
		if capability != "" && !using[capability] {
			err := MethodNotFoundErr()
			tracing.RecordError(span, err)
			return ErrorInvocation(call.ClientID, err)
		}
		resp := handler(ctx, rc, call)
		if resp.Name == "error" {
			tracing.RecordError(span, fmt.Errorf("%v", resp.Args["type"]))
		}
		return resp
	}

	target := d.Plugins.GetMethodTarget(call.Name)
	if target == nil {
		err := UnknownMethodErr()
		tracing.RecordError(span, err)
		return ErrorInvocation(call.ClientID, err)
	}

	resp, err := d.invokePlugin(ctx, *target, call, idx, rc.AccountID)
	if err != nil {
		tracing.RecordError(span, err)
		return ErrorInvocation(call.ClientID, ServerError(err, true))
	}
	return resp
}

func (d *Dispatcher) invokePlugin(ctx context.Context, target plugin.MethodTarget, call Invocation, idx int, accountID string) (Invocation, error) {
	req := plugin.PluginInvocationRequest{
		CallIndex: idx,
		AccountID: accountID,
		Method:    call.Name,
		Args:      call.Args,
		ClientID:  call.ClientID,
	}
	resp, err := d.Invoker.Invoke(ctx, target, req)
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{
		Name:     resp.MethodResponse.Name,
		Args:     resp.MethodResponse.Args,
		ClientID: resp.MethodResponse.ClientID,
	}, nil
}

// resolveCallArgs resolves "#"-prefixed back-reference properties against
// prior responses (internal/resultref, unchanged from the teacher), then
// substitutes any remaining "#creationId" string values against the
// request's creation-id table (spec §4.5, §4.6).
func (d *Dispatcher) resolveCallArgs(args map[string]any, seen []resultref.MethodResponse, creationIDs *CreationIDTable) (map[string]any, *MethodError) {
	resolved, err := resultref.ResolveArgs(args, seen)
	if err != nil {
		if resolveErr, ok := err.(*resultref.ResolveError); ok {
			switch resolveErr.Type {
			case resultref.ErrorInvalidResultReference:
				return nil, InvalidResultReference(resolveErr.Description)
			default:
				return nil, InvalidArguments(resolveErr.Description)
			}
		}
		return nil, InvalidResultReference(err.Error())
	}

	substituted, unresolved := creationIDs.Substitute(resolved)
	if len(unresolved) > 0 {
		return nil, InvalidArguments(unresolved...)
	}
	substitutedMap, _ := substituted.(map[string]any)
	return substitutedMap, nil
}

func (d *Dispatcher) isKnownCapability(capability string) bool {
	switch capability {
	case CapabilityCore, CapabilityMail, CapabilitySubmission, CapabilityVacationResponse,
		CapabilityContacts, CapabilityCalendars, CapabilityWebSocket, CapabilityQuota:
		return true
	}
	return d.Plugins != nil && d.Plugins.HasCapability(capability)
}

func toResultrefResponse(inv Invocation) resultref.MethodResponse {
	return resultref.MethodResponse{Name: inv.Name, Args: inv.Args, ClientID: inv.ClientID}
}
