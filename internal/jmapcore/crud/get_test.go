package crud

import (
	"context"
	"errors"
	"testing"
)

type fakeGetBackend struct {
	ids      []string
	objects  map[string]map[string]any
	known    []string
	state    string
	allIDErr error
	stateErr error
}

func (f *fakeGetBackend) AllIds(ctx context.Context, accountID string) ([]string, error) {
	if f.allIDErr != nil {
		return nil, f.allIDErr
	}
	return f.ids, nil
}

func (f *fakeGetBackend) Fetch(ctx context.Context, accountID, id string, properties []string) (map[string]any, bool, error) {
	obj, ok := f.objects[id]
	return obj, ok, nil
}

func (f *fakeGetBackend) KnownProperties() []string { return f.known }

func (f *fakeGetBackend) State(ctx context.Context, accountID string) (string, error) {
	if f.stateErr != nil {
		return "", f.stateErr
	}
	return f.state, nil
}

func TestParseGet_DefaultsToInvalidWithoutIdsWhenNotAllowed(t *testing.T) {
	_, err := ParseGet(map[string]any{}, []string{"name"}, false)
	if err == nil {
		t.Fatal("expected invalidArguments when ids is omitted and not allowed")
	}
}

func TestParseGet_AllowsNullIdsWhenPermitted(t *testing.T) {
	args, err := ParseGet(map[string]any{}, []string{"name"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args.HasIds {
		t.Error("expected HasIds false when ids is omitted")
	}
}

func TestParseGet_ParsesIdsAndProperties(t *testing.T) {
	args, err := ParseGet(map[string]any{
		"ids":        []any{"id1", "id2"},
		"properties": []any{"name"},
	}, []string{"name", "role"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !args.HasIds || len(args.Ids) != 2 {
		t.Errorf("expected 2 ids parsed, got %v", args.Ids)
	}
	if !args.HasProps || len(args.Properties) != 1 || args.Properties[0] != "name" {
		t.Errorf("expected properties=[name], got %v", args.Properties)
	}
}

func TestParseGet_RejectsUnknownProperty(t *testing.T) {
	_, err := ParseGet(map[string]any{"properties": []any{"bogus"}}, []string{"name"}, true)
	if err == nil {
		t.Fatal("expected invalidArguments for an unknown property name")
	}
}

func TestParseGet_RejectsNonStringId(t *testing.T) {
	_, err := ParseGet(map[string]any{"ids": []any{42}}, nil, true)
	if err == nil {
		t.Fatal("expected invalidArguments for a non-string id")
	}
}

func TestGet_UsesAllIdsWhenOmitted(t *testing.T) {
	backend := &fakeGetBackend{
		ids:     []string{"id1"},
		objects: map[string]map[string]any{"id1": {"id": "id1", "name": "x"}},
		state:   "1",
	}
	result, err := Get(context.Background(), backend, "a1", GetArgs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.List) != 1 || result.List[0]["id"] != "id1" {
		t.Errorf("expected id1 fetched, got %v", result.List)
	}
	if result.State != "1" {
		t.Errorf("expected state=1, got %s", result.State)
	}
}

func TestGet_ReportsNotFound(t *testing.T) {
	backend := &fakeGetBackend{
		objects: map[string]map[string]any{"id1": {"id": "id1"}},
		state:   "1",
	}
	result, err := Get(context.Background(), backend, "a1", GetArgs{HasIds: true, Ids: []string{"id1", "missing"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.List) != 1 {
		t.Errorf("expected 1 found object, got %v", result.List)
	}
	if len(result.NotFound) != 1 || result.NotFound[0] != "missing" {
		t.Errorf("expected missing reported in notFound, got %v", result.NotFound)
	}
}

func TestGet_PropagatesAllIdsError(t *testing.T) {
	backend := &fakeGetBackend{allIDErr: errors.New("boom")}
	_, err := Get(context.Background(), backend, "a1", GetArgs{})
	if err == nil {
		t.Fatal("expected a serverUnavailable error")
	}
}

func TestGet_PropagatesStateError(t *testing.T) {
	backend := &fakeGetBackend{ids: []string{}, stateErr: errors.New("boom")}
	_, err := Get(context.Background(), backend, "a1", GetArgs{HasIds: true})
	if err == nil {
		t.Fatal("expected a serverUnavailable error")
	}
}

func TestGetResult_Reply(t *testing.T) {
	result := GetResult{AccountID: "a1", State: "1", List: []map[string]any{{"id": "id1"}}}
	reply := result.Reply()
	if reply["accountId"] != "a1" || reply["state"] != "1" {
		t.Errorf("unexpected reply: %v", reply)
	}
	if reply["notFound"] != nil {
		t.Errorf("expected notFound=nil when empty, got %v", reply["notFound"])
	}
}

func TestGetResult_ReplyIncludesNotFoundWhenPresent(t *testing.T) {
	result := GetResult{NotFound: []string{"missing"}}
	reply := result.Reply()
	notFound, ok := reply["notFound"].([]string)
	if !ok || len(notFound) != 1 {
		t.Errorf("expected notFound=[missing], got %v", reply["notFound"])
	}
}
