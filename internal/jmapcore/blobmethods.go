package jmapcore

import (
	"context"

	"github.com/jarrod-lowe/jmap-service-core/internal/bloballocate"
	"github.com/jarrod-lowe/jmap-service-core/internal/blobcomplete"
)

// BlobMetadata is the subset of a stored blob's metadata Blob/get reports
// (RFC 8620 §4.9, RFC 9404 §3.1).
type BlobMetadata struct {
	Size int64
	Data []byte
}

// BlobStore is the backing-store contract Blob/get and Blob/copy need: read
// one account's blob bytes, and copy a blob into another account under a
// freshly minted content-addressed id.
type BlobStore interface {
	GetMetadata(ctx context.Context, accountID string, blobID BlobID) (*BlobMetadata, error)
	Copy(ctx context.Context, fromAccountID, toAccountID string, blobID BlobID) (BlobID, error)
}

// RegisterCore registers every method Core implements directly — Core/echo
// and the Blob/* family — into reg (spec §3.5, §4.9). allocate and complete
// may be nil when a deployment has not enabled the direct-upload capability,
// in which case Blob/allocate and Blob/complete are left unregistered and
// fall through to unknownMethod.
func RegisterCore(reg *MethodRegistry, blobs BlobStore, allocate *bloballocate.Handler, complete *blobcomplete.Handler) {
	reg.Register("Core/echo", CapabilityCore, 0, echoHandler)
	reg.Register("Blob/get", CapabilityCore, FlagSharedState, blobGetHandler(blobs))
	reg.Register("Blob/copy", CapabilityCore, 0, blobCopyHandler(blobs))
	if allocate != nil {
		reg.Register("Blob/allocate", CapabilityQuota, 0, blobAllocateHandler(allocate))
	}
	if complete != nil {
		reg.Register("Blob/complete", CapabilityQuota, 0, blobCompleteHandler(complete))
	}
}

// echoHandler implements Core/echo: the arguments are returned unchanged
// (RFC 8620 §3.5), used by clients to probe connectivity and auth.
func echoHandler(_ context.Context, _ *RequestContext, call Invocation) Invocation {
	return Invocation{Name: "Core/echo", Args: call.Args, ClientID: call.ClientID}
}

// blobGetHandler implements Blob/get (RFC 8620 §4.9): fetch the metadata for
// every requested blob id, reporting missing ids in notFound rather than
// failing the whole call.
func blobGetHandler(store BlobStore) MethodHandler {
	return func(ctx context.Context, rc *RequestContext, call Invocation) Invocation {
		p := NewParser()
		var idsRaw any
		p.ReadProp(call.Args, "ids", true, KindArray, &idsRaw)
		if err := p.Errors(); err != nil {
			return ErrorInvocation(call.ClientID, err)
		}

		list := []BlobID{}
		if idsRaw != nil {
			for _, v := range idsRaw.([]any) {
				if s, ok := v.(string); ok {
					list = append(list, BlobID(s))
				}
			}
		}

		listData := make([]map[string]any, 0, len(list))
		notFound := make([]string, 0)
		for _, id := range list {
			meta, err := store.GetMetadata(ctx, rc.AccountID, id)
			if err != nil || meta == nil {
				notFound = append(notFound, string(id))
				continue
			}
			listData = append(listData, map[string]any{
				"id":       string(id),
				"size":     meta.Size,
				"data:asBase64": meta.Data,
			})
		}

		args := map[string]any{
			"accountId": rc.AccountID,
			"list":      listData,
		}
		if len(notFound) > 0 {
			args["notFound"] = notFound
		} else {
			args["notFound"] = nil
		}
		return Invocation{Name: "Blob/get", Args: args, ClientID: call.ClientID}
	}
}

// blobCopyHandler implements Blob/copy (RFC 8620 §4.9): copy each blob id
// from another account into the calling account, minting a fresh
// content-addressed id for the copy.
func blobCopyHandler(store BlobStore) MethodHandler {
	return func(ctx context.Context, rc *RequestContext, call Invocation) Invocation {
		p := NewParser()
		var fromRaw, idsRaw any
		p.ReadProp(call.Args, "fromAccountId", true, KindString, &fromRaw)
		p.ReadProp(call.Args, "blobIds", true, KindArray, &idsRaw)
		if err := p.Errors(); err != nil {
			return ErrorInvocation(call.ClientID, err)
		}
		fromAccountID := fromRaw.(string)

		copied := map[string]any{}
		notCopied := map[string]any{}
		for _, v := range idsRaw.([]any) {
			s, ok := v.(string)
			if !ok {
				continue
			}
			newID, err := store.Copy(ctx, fromAccountID, rc.AccountID, BlobID(s))
			if err != nil {
				notCopied[s] = NotFoundErr().ToArgs()
				continue
			}
			copied[s] = string(newID)
		}

		args := map[string]any{
			"fromAccountId": fromAccountID,
			"accountId":     rc.AccountID,
		}
		if len(copied) > 0 {
			args["copied"] = copied
		} else {
			args["copied"] = nil
		}
		if len(notCopied) > 0 {
			args["notCopied"] = notCopied
		} else {
			args["notCopied"] = nil
		}
		return Invocation{Name: "Blob/copy", Args: args, ClientID: call.ClientID}
	}
}

// blobAllocateHandler adapts internal/bloballocate.Handler's single-request
// API to the set-style create/notCreated shape the plugin-routed Blob/allocate
// call used before this method moved in-core (RFC 9404 direct-upload
// extension).
func blobAllocateHandler(h *bloballocate.Handler) MethodHandler {
	return func(ctx context.Context, rc *RequestContext, call Invocation) Invocation {
		createMap, ok := call.Args["create"].(map[string]any)
		if !ok || len(createMap) == 0 {
			return ErrorInvocation(call.ClientID, InvalidArguments("create"))
		}

		created := map[string]any{}
		notCreated := map[string]any{}
		for creationID, reqData := range createMap {
			reqMap, ok := reqData.(map[string]any)
			if !ok {
				notCreated[creationID] = InvalidArguments("type", "size").ToArgs()
				continue
			}
			contentType, _ := reqMap["type"].(string)
			size, _ := reqMap["size"].(float64)
			sizeUnknown, _ := reqMap["sizeUnknown"].(bool)
			multipart, _ := reqMap["multipart"].(bool)

			resp, err := h.Allocate(ctx, bloballocate.AllocateRequest{
				AccountID:   rc.AccountID,
				Type:        contentType,
				Size:        int64(size),
				SizeUnknown: sizeUnknown,
				Multipart:   multipart,
			})
			if err != nil {
				notCreated[creationID] = allocationErrorArgs(err)
				continue
			}
			rc.CreationIDs.Add(creationID, resp.BlobID)
			entry := map[string]any{
				"id":      resp.BlobID,
				"type":    resp.Type,
				"size":    resp.Size,
				"url":     resp.URL,
				"expires": resp.URLExpires,
			}
			if len(resp.Parts) > 0 {
				entry["parts"] = resp.Parts
			}
			created[creationID] = entry
		}

		args := map[string]any{"accountId": rc.AccountID}
		if len(created) > 0 {
			args["created"] = created
		} else {
			args["created"] = nil
		}
		if len(notCreated) > 0 {
			args["notCreated"] = notCreated
		} else {
			args["notCreated"] = nil
		}
		return Invocation{Name: "Blob/allocate", Args: args, ClientID: call.ClientID}
	}
}

func allocationErrorArgs(err error) map[string]any {
	if allocErr, ok := err.(*bloballocate.AllocationError); ok {
		out := map[string]any{"type": allocErr.Type, "description": allocErr.Message}
		if len(allocErr.Properties) > 0 {
			out["properties"] = allocErr.Properties
		}
		return out
	}
	return ServerError(err, false).toArgs()
}

// blobCompleteHandler adapts internal/blobcomplete.Handler to the set-style
// update/notUpdated shape, keyed by blob id rather than a creation id since
// the blob already exists by the time Blob/complete is called.
func blobCompleteHandler(h *blobcomplete.Handler) MethodHandler {
	return func(ctx context.Context, rc *RequestContext, call Invocation) Invocation {
		updateMap, ok := call.Args["update"].(map[string]any)
		if !ok || len(updateMap) == 0 {
			return ErrorInvocation(call.ClientID, InvalidArguments("update"))
		}

		updated := map[string]any{}
		notUpdated := map[string]any{}
		for blobID, reqData := range updateMap {
			reqMap, ok := reqData.(map[string]any)
			if !ok {
				notUpdated[blobID] = InvalidArguments("parts").ToArgs()
				continue
			}
			partsRaw, _ := reqMap["parts"].([]any)
			parts := make([]bloballocate.CompletedPart, 0, len(partsRaw))
			for _, p := range partsRaw {
				pm, ok := p.(map[string]any)
				if !ok {
					continue
				}
				partNum, _ := pm["partNumber"].(float64)
				etag, _ := pm["etag"].(string)
				parts = append(parts, bloballocate.CompletedPart{PartNumber: int32(partNum), ETag: etag})
			}

			resp, err := h.Complete(ctx, blobcomplete.CompleteRequest{
				AccountID: rc.AccountID,
				BlobID:    blobID,
				Parts:     parts,
			})
			if err != nil {
				if completeErr, ok := err.(*blobcomplete.CompleteError); ok {
					notUpdated[blobID] = map[string]any{"type": completeErr.Type, "description": completeErr.Message}
				} else {
					notUpdated[blobID] = ServerError(err, false).toArgs()
				}
				continue
			}
			updated[blobID] = map[string]any{"id": resp.BlobID}
		}

		args := map[string]any{"accountId": rc.AccountID}
		if len(updated) > 0 {
			args["updated"] = updated
		} else {
			args["updated"] = nil
		}
		if len(notUpdated) > 0 {
			args["notUpdated"] = notUpdated
		} else {
			args["notUpdated"] = nil
		}
		return Invocation{Name: "Blob/complete", Args: args, ClientID: call.ClientID}
	}
}
