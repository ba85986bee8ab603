package resolver

import (
	"errors"
	"testing"

	"github.com/dbgateway/dbgateway/internal/store"
)

func testModule() (store.Module, []store.Endpoint) {
	mod := store.Module{ID: "mod-1", Name: "orders", BasePath: "orders", IsActive: true}
	eps := []store.Endpoint{
		{ID: "ep-1", ModuleID: mod.ID, Method: "GET", Path: "/:id", IsActive: true},
		{ID: "ep-2", ModuleID: mod.ID, Method: "POST", Path: "/", IsActive: true},
	}
	return mod, eps
}

func TestResolveMatchesPathVariable(t *testing.T) {
	r := New()
	mod, eps := testModule()
	if err := r.LoadModule(mod, eps); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	m, err := r.Resolve("GET", "/orders/42")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Endpoint.ID != "ep-1" {
		t.Errorf("expected ep-1, got %s", m.Endpoint.ID)
	}
	if m.PathParams["id"] != "42" {
		t.Errorf("expected id=42, got %q", m.PathParams["id"])
	}
}

func TestResolveNoRoute(t *testing.T) {
	r := New()
	mod, eps := testModule()
	if err := r.LoadModule(mod, eps); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	if _, err := r.Resolve("GET", "/unknown-module/1"); !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
	if _, err := r.Resolve("DELETE", "/orders/1"); !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute for unmatched method, got %v", err)
	}
}

func TestResolvePausedEndpoint(t *testing.T) {
	r := New()
	mod, eps := testModule()
	if err := r.LoadModule(mod, eps); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	r.PauseEndpoint("ep-1")
	if _, err := r.Resolve("GET", "/orders/42"); !errors.Is(err, ErrPaused) {
		t.Errorf("expected ErrPaused, got %v", err)
	}

	r.ResumeEndpoint("ep-1")
	if _, err := r.Resolve("GET", "/orders/42"); err != nil {
		t.Errorf("expected resumed endpoint to resolve, got %v", err)
	}
}

func TestLoadModuleReplacesPriorSnapshot(t *testing.T) {
	r := New()
	mod, eps := testModule()
	if err := r.LoadModule(mod, eps); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	replaced := []store.Endpoint{
		{ID: "ep-3", ModuleID: mod.ID, Method: "GET", Path: "/:id", IsActive: true},
	}
	if err := r.LoadModule(mod, replaced); err != nil {
		t.Fatalf("LoadModule (replace): %v", err)
	}

	m, err := r.Resolve("GET", "/orders/7")
	if err != nil {
		t.Fatalf("Resolve after replace: %v", err)
	}
	if m.Endpoint.ID != "ep-3" {
		t.Errorf("expected ep-3 after replace, got %s", m.Endpoint.ID)
	}
}
