package jmapcore

import "fmt"

// ErrorCode is one of the JMAP error type strings (spec §7).
type ErrorCode string

// ProblemPrefix is the URN prefix RFC 8620 uses for errors exposed as
// problem details outside the method-response object (not used on the wire
// here, kept for documentation/debug logging of EnvelopeError).
const ProblemPrefix = "urn:ietf:params:jmap:error:"

// Tier 1 (request) error codes (spec §7 "Envelope errors").
const (
	CodeUnknownCapability ErrorCode = "unknownCapability"
	CodeNotJSON           ErrorCode = "notJSON"
	CodeNotRequest        ErrorCode = "notRequest"
	CodeLimit             ErrorCode = "limit"
)

// Tier 2 (method) error codes (spec §7 "Method errors").
const (
	CodeUnknownMethod               ErrorCode = "unknownMethod"
	CodeMethodNotFound              ErrorCode = "methodNotFound"
	CodeInvalidArguments             ErrorCode = "invalidArguments"
	CodeInvalidResultReference       ErrorCode = "invalidResultReference"
	CodeForbidden                    ErrorCode = "forbidden"
	CodeAccountNotFound              ErrorCode = "accountNotFound"
	CodeAccountReadOnly              ErrorCode = "accountReadOnly"
	CodeAccountNotSupportedByMethod  ErrorCode = "accountNotSupportedByMethod"
	CodeServerUnavailable            ErrorCode = "serverUnavailable"
	CodeServerFail                   ErrorCode = "serverFail"
	CodeStateMismatch                ErrorCode = "stateMismatch"
	CodeCannotCalculateChanges       ErrorCode = "cannotCalculateChanges"
	CodeAnchorNotFound               ErrorCode = "anchorNotFound"
	CodeLockUpgradeForbidden         ErrorCode = "lockUpgradeForbidden"
	CodeUnsupportedFilter            ErrorCode = "unsupportedFilter"
	CodeUnsupportedSort              ErrorCode = "unsupportedSort"
)

// Tier 3 (object) error codes (spec §7 "Object errors").
const (
	CodeInvalidProperties  ErrorCode = "invalidProperties"
	CodeOverQuota          ErrorCode = "overQuota"
	CodeTooLarge           ErrorCode = "tooLarge"
	CodeAlreadyExists      ErrorCode = "alreadyExists"
	CodeNotFound           ErrorCode = "notFound"
	CodeWillDestroy        ErrorCode = "willDestroy"
	CodeBlobNotFound       ErrorCode = "blobNotFound"
	CodeToAccountNotFound  ErrorCode = "toAccountNotFound"
	CodeSingleton          ErrorCode = "singleton"
)

// EnvelopeError replaces the entire response per spec §7 tier 1: the request
// is rejected before any method call is considered.
type EnvelopeError struct {
	Type   ErrorCode `json:"type"`
	Status int       `json:"status,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Limit  string    `json:"limit,omitempty"`
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("%s%s: %s", ProblemPrefix, e.Type, e.Detail)
}

// MethodError replaces a single call's response payload (spec §7 tier 2).
type MethodError struct {
	Type       ErrorCode
	Properties map[string]any
}

func (e *MethodError) Error() string { return string(e.Type) }

// toArgs flattens Properties alongside Type into the plain JSON object the
// method-error response argument must be (no nested "properties" key).
func (e *MethodError) toArgs() map[string]any {
	out := make(map[string]any, len(e.Properties)+1)
	for k, v := range e.Properties {
		out[k] = v
	}
	out["type"] = string(e.Type)
	return out
}

// ToArgs exports toArgs for packages (e.g. internal/jmapcore/crud) that need
// to render a *MethodError as a notCreated/notUpdated/notDestroyed entry.
func (e *MethodError) ToArgs() map[string]any { return e.toArgs() }

// ObjectError is a single entry inside a set response's notCreated,
// notUpdated, notDestroyed, or a get response's notFound handling
// (spec §7 tier 3).
type ObjectError struct {
	Type       ErrorCode
	Properties map[string]any
}

func (e *ObjectError) Error() string { return string(e.Type) }

func (e *ObjectError) ToArgs() map[string]any {
	out := make(map[string]any, len(e.Properties)+1)
	for k, v := range e.Properties {
		out[k] = v
	}
	out["type"] = string(e.Type)
	return out
}

// InvalidArguments builds an invalidArguments method error naming the
// offending argument paths (spec §7).
func InvalidArguments(paths ...string) *MethodError {
	return &MethodError{Type: CodeInvalidArguments, Properties: map[string]any{"arguments": paths}}
}

// InvalidResultReference builds an invalidResultReference method error.
func InvalidResultReference(description string) *MethodError {
	return &MethodError{Type: CodeInvalidResultReference, Properties: map[string]any{"description": description}}
}

func StateMismatchErr() *MethodError           { return &MethodError{Type: CodeStateMismatch} }
func CannotCalculateChangesErr() *MethodError  { return &MethodError{Type: CodeCannotCalculateChanges} }
func AnchorNotFoundErr() *MethodError          { return &MethodError{Type: CodeAnchorNotFound} }
func UnknownMethodErr() *MethodError           { return &MethodError{Type: CodeUnknownMethod} }
func MethodNotFoundErr() *MethodError          { return &MethodError{Type: CodeMethodNotFound} }
func LockUpgradeForbiddenErr() *MethodError    { return &MethodError{Type: CodeLockUpgradeForbidden} }
func AccountNotFoundErr() *MethodError         { return &MethodError{Type: CodeAccountNotFound} }
func AccountReadOnlyErr() *MethodError         { return &MethodError{Type: CodeAccountReadOnly} }
func ForbiddenErr() *MethodError               { return &MethodError{Type: CodeForbidden} }

func AccountNotSupportedErr() *MethodError {
	return &MethodError{Type: CodeAccountNotSupportedByMethod}
}

// InvalidProperties builds an invalidProperties object error naming the
// offending property names.
func InvalidProperties(names ...string) *ObjectError {
	return &ObjectError{Type: CodeInvalidProperties, Properties: map[string]any{"properties": names}}
}

func NotFoundErr() *ObjectError      { return &ObjectError{Type: CodeNotFound} }
func AlreadyExistsErr() *ObjectError { return &ObjectError{Type: CodeAlreadyExists} }
func OverQuotaErr() *ObjectError     { return &ObjectError{Type: CodeOverQuota} }
func TooLargeErr() *ObjectError      { return &ObjectError{Type: CodeTooLarge} }
func WillDestroyErr() *ObjectError   { return &ObjectError{Type: CodeWillDestroy} }

// ServerError classifies a backing-store failure as serverUnavailable
// (transient, safe to retry) or serverFail (permanent), per the propagation
// rule in spec §7.
func ServerError(err error, transient bool) *MethodError {
	code := CodeServerFail
	if transient {
		code = CodeServerUnavailable
	}
	return &MethodError{Type: code, Properties: map[string]any{"description": err.Error()}}
}
