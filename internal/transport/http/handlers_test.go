package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	git "github.com/fleetforge/orchestrator/internal/orch/git"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
)

type fakeClock struct{ n int }

func (c *fakeClock) NewEventID() string {
	c.n++
	return "ev-" + string(rune('a'+c.n))
}

func (c *fakeClock) Now() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	l := layout.New(t.TempDir())
	items := item.New(l, bus.New(), nil, git.NewPool(2), &fakeClock{}, nil)
	return &Handlers{Layout: l, Items: items}
}

func newRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Post("/api/v1/items", h.CreateItem)
	r.Get("/api/v1/items", h.ListItems)
	r.Route("/api/v1/items/{id}", func(r chi.Router) {
		r.Get("/", h.GetItem)
		r.Patch("/", h.UpdateItem)
		r.Delete("/", h.DeleteItem)
	})
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateItem_RejectsNoRepositories(t *testing.T) {
	h := newTestHandlers(t)
	r := newRouter(h)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/items", createItemRequest{Name: "Add widget"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateItem_ThenGetAndList(t *testing.T) {
	h := newTestHandlers(t)
	r := newRouter(h)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/items", createItemRequest{
		Name: "Add widget",
		Repositories: []orch.RepositoryConfig{
			{DirectoryName: "svc", Type: orch.RepoLocal, Path: h.Layout.WorkspaceRoot("fixture")},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created orch.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated item id")
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/items/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/items", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []orch.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("expected one listed item matching %s, got %+v", created.ID, list)
	}
}

func TestUpdateItem_PatchesName(t *testing.T) {
	h := newTestHandlers(t)
	r := newRouter(h)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/items", createItemRequest{
		Name:         "Add widget",
		Repositories: []orch.RepositoryConfig{{DirectoryName: "svc", Type: orch.RepoLocal, Path: h.Layout.WorkspaceRoot("fixture")}},
	})
	var created orch.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	newName := "Add widget v2"
	rec = doJSON(t, r, http.MethodPatch, "/api/v1/items/"+created.ID, updateItemRequest{Name: &newName})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated orch.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Name != newName {
		t.Fatalf("expected name %q, got %q", newName, updated.Name)
	}
}

func TestGetItem_UnknownIDIs404(t *testing.T) {
	h := newTestHandlers(t)
	r := newRouter(h)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/items/item-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown item id, got %d", rec.Code)
	}
}

func TestDeleteItem_RemovesFromList(t *testing.T) {
	h := newTestHandlers(t)
	r := newRouter(h)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/items", createItemRequest{
		Name:         "Add widget",
		Repositories: []orch.RepositoryConfig{{DirectoryName: "svc", Type: orch.RepoLocal, Path: h.Layout.WorkspaceRoot("fixture")}},
	})
	var created orch.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/v1/items/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/items", nil)
	var list []orch.Item
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected an empty list after delete, got %+v", list)
	}
}
