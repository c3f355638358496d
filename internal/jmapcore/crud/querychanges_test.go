package crud

import (
	"context"
	"errors"
	"testing"
)

type fakeQueryChangesBackend struct {
	fakeQueryBackend
	removed  []string
	added    []AddedItem
	newState string
	diffOK   bool
	diffErr  error
}

func (f *fakeQueryChangesBackend) Diff(ctx context.Context, accountID string, filter any, sort []SortCriterion, sinceQueryState, upToID string, max int) ([]string, []AddedItem, string, bool, error) {
	if f.diffErr != nil {
		return nil, nil, "", false, f.diffErr
	}
	return f.removed, f.added, f.newState, f.diffOK, nil
}

func TestParseQueryChanges_RequiresSinceQueryState(t *testing.T) {
	_, err := ParseQueryChanges(map[string]any{}, nil, nil)
	if err == nil {
		t.Fatal("expected invalidArguments for missing sinceQueryState")
	}
}

func TestParseQueryChanges_ParsesUpToID(t *testing.T) {
	args, err := ParseQueryChanges(map[string]any{"sinceQueryState": "1", "upToId": "id5"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !args.HasUpToID || args.UpToID != "id5" {
		t.Errorf("expected upToId=id5, got %+v", args)
	}
}

func TestQueryChanges_ReturnsRemovedAndAdded(t *testing.T) {
	backend := &fakeQueryChangesBackend{
		removed: []string{"id1"}, added: []AddedItem{{ID: "id2", Index: 0}},
		newState: "9", diffOK: true,
	}
	result, err := QueryChanges(context.Background(), backend, "a1", QueryChangesArgs{SinceQueryState: "5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Removed) != 1 || len(result.Added) != 1 {
		t.Errorf("expected 1 removed and 1 added, got %+v", result)
	}
	if result.NewQueryState != "9" {
		t.Errorf("expected newQueryState=9, got %s", result.NewQueryState)
	}
}

func TestQueryChanges_CannotCalculateChangesWhenBackendRejects(t *testing.T) {
	backend := &fakeQueryChangesBackend{diffOK: false}
	_, err := QueryChanges(context.Background(), backend, "a1", QueryChangesArgs{SinceQueryState: "5"})
	if err == nil {
		t.Fatal("expected cannotCalculateChanges")
	}
}

func TestQueryChanges_CalculateTotalCallsMatching(t *testing.T) {
	backend := &fakeQueryChangesBackend{diffOK: true, newState: "9"}
	backend.matching = []string{"a", "b", "c"}
	result, err := QueryChanges(context.Background(), backend, "a1", QueryChangesArgs{SinceQueryState: "5", CalculateTotal: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasTotal || result.Total != 3 {
		t.Errorf("expected total=3, got %+v", result)
	}
}

func TestQueryChanges_PropagatesDiffError(t *testing.T) {
	backend := &fakeQueryChangesBackend{diffErr: errors.New("boom")}
	_, err := QueryChanges(context.Background(), backend, "a1", QueryChangesArgs{SinceQueryState: "5"})
	if err == nil {
		t.Fatal("expected a server error when diff fails")
	}
}

func TestQueryChangesResult_ReplyRendersAddedAsObjects(t *testing.T) {
	result := QueryChangesResult{Added: []AddedItem{{ID: "id1", Index: 2}}}
	reply := result.Reply()
	added := reply["added"].([]map[string]any)
	if len(added) != 1 || added[0]["id"] != "id1" || added[0]["index"] != int64(2) {
		t.Errorf("unexpected added rendering: %v", added)
	}
}
