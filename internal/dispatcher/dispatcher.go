package dispatcher

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-core/internal/resultref"
)

// CallProcessor processes a single JMAP method call
type CallProcessor interface {
	Process(ctx context.Context, idx int, call []any, depResponses []resultref.MethodResponse) []any
}

// Config holds configuration for the dispatcher
type Config struct {
	Calls     [][]any
	Processor CallProcessor
}

// Execute processes JMAP method calls one at a time, in request order. The
// single-threaded, cooperative-per-request scheduling model (one call runs
// to completion before the next starts) makes the old worker-pool coordinator
// unnecessary: a call's dependencies have already completed by the time its
// turn comes, simply because they appear earlier in the slice.
func Execute(ctx context.Context, cfg Config) [][]any {
	if len(cfg.Calls) == 0 {
		return [][]any{}
	}

	deps, _, err := BuildGraph(cfg.Calls)
	if err != nil {
		return makeAllErrorResponses(cfg.Calls, "invalidResultReference", err.Error())
	}

	responses := make([][]any, len(cfg.Calls))
	failed := make(map[int]bool)

	for i, call := range cfg.Calls {
		select {
		case <-ctx.Done():
			return fillRemainingCancelled(cfg.Calls, responses, i)
		default:
		}

		if hasFailedDep(i, deps, failed) {
			failed[i] = true
			clientID := extractClientID(call)
			responses[i] = []any{"error", map[string]any{
				"type":        "invalidResultReference",
				"description": "A dependency of this method call failed",
			}, clientID}
			continue
		}

		resp := cfg.Processor.Process(ctx, i, call, gatherDepResponses(i, deps, responses))
		responses[i] = resp
		if isErrorResponse(resp) {
			failed[i] = true
		}
	}

	return responses
}

// fillRemainingCancelled fills every unprocessed call's slot with a
// serverFail response once the request context is cancelled mid-dispatch.
func fillRemainingCancelled(calls [][]any, responses [][]any, from int) [][]any {
	for i := from; i < len(calls); i++ {
		responses[i] = []any{"error", map[string]any{
			"type":        "serverFail",
			"description": "context cancelled",
		}, extractClientID(calls[i])}
	}
	return responses
}

// hasFailedDep checks if any dependency of the given call index has failed
func hasFailedDep(idx int, deps map[int][]int, failed map[int]bool) bool {
	for _, depIdx := range deps[idx] {
		if failed[depIdx] {
			return true
		}
	}
	return false
}

// gatherDepResponses collects responses from dependencies for result reference resolution
func gatherDepResponses(idx int, deps map[int][]int, responses [][]any) []resultref.MethodResponse {
	var result []resultref.MethodResponse
	for _, depIdx := range deps[idx] {
		result = append(result, toMethodResponse(responses[depIdx]))
	}
	return result
}

// toMethodResponse converts a JMAP response array to a MethodResponse struct
func toMethodResponse(resp []any) resultref.MethodResponse {
	var name string
	var args map[string]any
	var clientID string

	if len(resp) >= 1 {
		name, _ = resp[0].(string)
	}
	if len(resp) >= 2 {
		if v, ok := resp[1].(map[string]any); ok {
			args = v
		}
	}
	if len(resp) >= 3 {
		clientID, _ = resp[2].(string)
	}

	return resultref.MethodResponse{
		Name:     name,
		Args:     args,
		ClientID: clientID,
	}
}

// isErrorResponse checks if a response is an error response
func isErrorResponse(resp []any) bool {
	if len(resp) >= 1 {
		name, _ := resp[0].(string)
		return name == "error"
	}
	return false
}

// extractClientID gets the clientId from a call
func extractClientID(call []any) string {
	if len(call) >= 3 {
		clientID, _ := call[2].(string)
		return clientID
	}
	return ""
}

// makeAllErrorResponses creates error responses for all calls
func makeAllErrorResponses(calls [][]any, errType, description string) [][]any {
	responses := make([][]any, len(calls))
	for i, call := range calls {
		clientID := extractClientID(call)
		responses[i] = []any{"error", map[string]any{
			"type":        errType,
			"description": description,
		}, clientID}
	}
	return responses
}
