// Package jmapcore implements the JMAP Core (RFC 8620) request/response
// dispatcher: the envelope codec, method registry, per-request caches, and
// the shared CRUD shapes every protocol module builds on.
package jmapcore

import (
	"encoding/json"
	"fmt"
)

// Invocation is one [name, arguments, clientId] triple (RFC 8620 §3.2).
type Invocation struct {
	Name     string
	Args     map[string]any
	ClientID string
}

// MarshalJSON encodes an Invocation as its wire triple.
func (inv Invocation) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{inv.Name, inv.Args, inv.ClientID})
}

// UnmarshalJSON decodes a wire triple into an Invocation.
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invocation must be a 3-element array: %w", err)
	}
	if err := json.Unmarshal(raw[0], &inv.Name); err != nil {
		return fmt.Errorf("invocation name must be a string: %w", err)
	}
	inv.Args = nil
	if err := json.Unmarshal(raw[1], &inv.Args); err != nil {
		return fmt.Errorf("invocation arguments must be an object: %w", err)
	}
	if err := json.Unmarshal(raw[2], &inv.ClientID); err != nil {
		return fmt.Errorf("invocation clientId must be a string: %w", err)
	}
	return nil
}

// Request is the JMAP Request envelope (RFC 8620 §3.3).
type Request struct {
	Using       []string
	MethodCalls []Invocation
	CreatedIDs  map[string]string
}

type rawRequest struct {
	Using       []string          `json:"using"`
	MethodCalls []Invocation      `json:"methodCalls"`
	CreatedIDs  map[string]string `json:"createdIds,omitempty"`
}

// MarshalJSON encodes the envelope with the JMAP field names.
func (r Request) MarshalJSON() ([]byte, error) { return json.Marshal(rawRequest(r)) }

// UnmarshalJSON decodes the envelope from the JMAP field names.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Request(raw)
	return nil
}

// Response is the JMAP Response envelope (RFC 8620 §3.4).
type Response struct {
	MethodResponses []Invocation
	CreatedIDs      map[string]string
	SessionState    string
}

type rawResponse struct {
	MethodResponses []Invocation      `json:"methodResponses"`
	CreatedIDs      map[string]string `json:"createdIds,omitempty"`
	SessionState    string            `json:"sessionState"`
}

// MarshalJSON encodes the envelope with the JMAP field names.
func (r Response) MarshalJSON() ([]byte, error) { return json.Marshal(rawResponse(r)) }

// UnmarshalJSON decodes the envelope from the JMAP field names.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response(raw)
	return nil
}

// ErrorInvocation builds the "error" pseudo-invocation a failed method call
// produces in place of its normal response (spec §7 tier 2/3).
func ErrorInvocation(clientID string, err *MethodError) Invocation {
	return Invocation{Name: "error", Args: err.toArgs(), ClientID: clientID}
}
