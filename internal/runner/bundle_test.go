package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/dbgateway/dbgateway/internal/gwerror"
	"github.com/dbgateway/dbgateway/internal/store"
)

// fakeStore implements store.Store with in-memory fixtures, just enough to
// exercise LoadBundle's macro-gating logic.
type fakeStore struct {
	content *store.EndpointContent
	macros  []store.Macro
}

func (f *fakeStore) DataSource(ctx context.Context, id string) (*store.DataSource, error) { return nil, nil }
func (f *fakeStore) Module(ctx context.Context, basePath string) (*store.Module, error)    { return nil, nil }
func (f *fakeStore) Modules(ctx context.Context) ([]store.Module, error)                   { return nil, nil }
func (f *fakeStore) EndpointsForModule(ctx context.Context, moduleID string) ([]store.Endpoint, error) {
	return nil, nil
}
func (f *fakeStore) Endpoint(ctx context.Context, id string) (*store.Endpoint, error) { return nil, nil }
func (f *fakeStore) EndpointContent(ctx context.Context, endpointID, versionID string) (*store.EndpointContent, error) {
	return f.content, nil
}
func (f *fakeStore) Macros(ctx context.Context, moduleID *string) ([]store.Macro, error) {
	return f.macros, nil
}
func (f *fakeStore) ClientByClientID(ctx context.Context, clientID string) (*store.Client, error) {
	return nil, nil
}
func (f *fakeStore) ClientByAPIKey(ctx context.Context, apiKey string) (*store.Client, error) {
	return nil, nil
}
func (f *fakeStore) ClientGroup(ctx context.Context, groupID string) (*store.ClientGroup, error) {
	return nil, nil
}
func (f *fakeStore) IPRules(ctx context.Context) ([]store.IPRule, error) { return nil, nil }
func (f *fakeStore) AccessLogConfig(ctx context.Context) (*store.AccessLogConfig, error) {
	return nil, nil
}
func (f *fakeStore) ClientCanAccessEndpoint(ctx context.Context, clientID, endpointID string) (bool, error) {
	return false, nil
}

func TestLoadBundleSkipsUnreferencedMacro(t *testing.T) {
	s := &fakeStore{
		content: &store.EndpointContent{ID: "c1", EndpointID: "ep1", Body: "SELECT * FROM orders"},
		macros: []store.Macro{
			{ID: "m1", Name: "paginate", Body: "LIMIT 10", Engine: store.EngineSQL, Published: false},
		},
	}
	ep := store.Endpoint{ID: "ep1", ModuleID: "mod1", Engine: store.EngineSQL}

	b, err := LoadBundle(context.Background(), s, ep)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if b.PrependedSQLMacros != "" {
		t.Errorf("unreferenced macro should not be prepended, got %q", b.PrependedSQLMacros)
	}
}

func TestLoadBundleReferencedUnpublishedMacroFails(t *testing.T) {
	s := &fakeStore{
		content: &store.EndpointContent{ID: "c1", EndpointID: "ep1", Body: "SELECT * FROM orders paginate"},
		macros: []store.Macro{
			{ID: "m1", Name: "paginate", Body: "LIMIT 10", Engine: store.EngineSQL, Published: false},
		},
	}
	ep := store.Endpoint{ID: "ep1", ModuleID: "mod1", Engine: store.EngineSQL}

	_, err := LoadBundle(context.Background(), s, ep)
	if err == nil {
		t.Fatal("expected an error for a referenced-but-unpublished macro")
	}
	ge := gwerror.As(err)
	if ge.Kind != gwerror.KindBadRequest {
		t.Errorf("expected KindBadRequest, got %s", ge.Kind)
	}
}

func TestLoadBundleReferencedPublishedMacroIsPrepended(t *testing.T) {
	s := &fakeStore{
		content: &store.EndpointContent{ID: "c1", EndpointID: "ep1", Body: "SELECT * FROM orders paginate"},
		macros: []store.Macro{
			{ID: "m1", Name: "paginate", Body: "LIMIT 10", Engine: store.EngineSQL, Published: true},
		},
	}
	ep := store.Endpoint{ID: "ep1", ModuleID: "mod1", Engine: store.EngineSQL}

	b, err := LoadBundle(context.Background(), s, ep)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if !strings.Contains(b.PrependedSQLMacros, "LIMIT 10") {
		t.Errorf("expected macro body prepended, got %q", b.PrependedSQLMacros)
	}
}

func TestLoadBundleRequiresWholeWordMatch(t *testing.T) {
	s := &fakeStore{
		content: &store.EndpointContent{ID: "c1", EndpointID: "ep1", Body: "SELECT * FROM paginated_orders"},
		macros: []store.Macro{
			{ID: "m1", Name: "paginate", Body: "LIMIT 10", Engine: store.EngineSQL, Published: false},
		},
	}
	ep := store.Endpoint{ID: "ep1", ModuleID: "mod1", Engine: store.EngineSQL}

	// "paginate" is only a substring of "paginated_orders", not a whole-word
	// match, so the unpublished macro must be silently skipped rather than
	// failing the load.
	b, err := LoadBundle(context.Background(), s, ep)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if b.PrependedSQLMacros != "" {
		t.Errorf("substring match should not count as a reference, got %q", b.PrependedSQLMacros)
	}
}
