package jmapcore

import "context"

// RequestContext is the per-request state threaded through every method
// call in one envelope: the open-mailbox cache, the rights cache, the
// creation-id table, and the deferred sub-call queue (spec §3 "Request
// context", §4.1, §4.3, §4.4, §4.5).
type RequestContext struct {
	AuthenticatedUserID string
	AccountID            string

	Mailboxes   *MailboxCache
	Rights      *RightsCache
	CreationIDs *CreationIDTable
	Registry    *MethodRegistry

	deferred []Invocation
}

// NewRequestContext builds a fresh per-request context. Mailboxes and
// Rights may be nil for protocol modules that don't use them (e.g. Core's
// own Blob/* methods).
func NewRequestContext(userID, accountID string, mailboxes *MailboxCache, rights *RightsCache, registry *MethodRegistry, createdIDs map[string]string) *RequestContext {
	return &RequestContext{
		AuthenticatedUserID: userID,
		AccountID:           accountID,
		Mailboxes:           mailboxes,
		Rights:              rights,
		Registry:            registry,
		CreationIDs:         NewCreationIDTable(createdIDs),
	}
}

// ScheduleSubCall appends a handler-originated sub-call to the deferred
// queue. The dispatcher drains it immediately after the call that scheduled
// it, before moving on to the next original call (spec §4.1 step 5e — used
// by, e.g., Email/set to sub-call Email/get for each created id's implicit
// onSuccess fetch).
func (rc *RequestContext) ScheduleSubCall(call Invocation) {
	rc.deferred = append(rc.deferred, call)
}

// DrainDeferred removes and returns every currently queued sub-call.
func (rc *RequestContext) DrainDeferred() []Invocation {
	drained := rc.deferred
	rc.deferred = nil
	return drained
}

// Teardown releases every resource the request context owns: committing
// open mailbox handles (spec §4.1 step 6).
func (rc *RequestContext) Teardown(ctx context.Context) error {
	if rc.Mailboxes == nil {
		return nil
	}
	return rc.Mailboxes.Teardown(ctx)
}
