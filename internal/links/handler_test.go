package links

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sundayezeilo/linkshare/internal/auth"
	"github.com/sundayezeilo/linkshare/internal/errx"
	"github.com/sundayezeilo/linkshare/internal/httpx"
	"github.com/sundayezeilo/linkshare/internal/preview"
)

/***************
 * Mocks
 ***************/

// mockService implements Service for handler tests.
type mockService struct {
	createFunc      func(ctx context.Context, p auth.Principal, in CreateInput) (Link, error)
	getFunc         func(ctx context.Context, id uuid.UUID) (Link, error)
	listFunc        func(ctx context.Context, limit, offset int) ([]Link, error)
	updateFunc      func(ctx context.Context, p auth.Principal, id uuid.UUID, patch Patch) (Link, error)
	deleteFunc      func(ctx context.Context, p auth.Principal, id uuid.UUID) error
	recordClickFunc func(ctx context.Context, id uuid.UUID, client string) error
}

func (m *mockService) Create(ctx context.Context, p auth.Principal, in CreateInput) (Link, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, p, in)
	}
	return Link{}, nil
}

func (m *mockService) Get(ctx context.Context, id uuid.UUID) (Link, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return Link{}, errx.E("mock.Get", errx.NotFound, errors.New("not found"))
}

func (m *mockService) List(ctx context.Context, limit, offset int) ([]Link, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockService) Update(ctx context.Context, p auth.Principal, id uuid.UUID, patch Patch) (Link, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, p, id, patch)
	}
	return Link{}, nil
}

func (m *mockService) Delete(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, p, id)
	}
	return nil
}

func (m *mockService) RecordClick(ctx context.Context, id uuid.UUID, client string) error {
	if m.recordClickFunc != nil {
		return m.recordClickFunc(ctx, id, client)
	}
	return nil
}

func (m *mockService) EditableUntil(l Link) time.Time {
	return l.CreatedAt.Add(DefaultEditWindow)
}

/***************
 * Helpers
 ***************/

// newTestRouter mounts h the way the server does, with principal injected in place of
// the auth gate. A nil principal leaves the request unauthenticated.
func newTestRouter(h *Handler, principal *auth.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if principal != nil {
				req = req.WithContext(auth.WithPrincipal(req.Context(), *principal))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/links", h.CreateLink)
	r.Get("/links", h.ListLinks)
	r.Get("/links/{id}", h.GetLink)
	r.Patch("/links/{id}", h.UpdateLink)
	r.Delete("/links/{id}", h.DeleteLink)
	r.Post("/links/{id}/click", h.RecordClick)
	return r
}

func newTestHandler(svc Service) *Handler {
	return NewHandler(HandlerConfig{
		Service: svc,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func sampleLink() Link {
	return Link{
		ID:          uuid.Must(uuid.NewV7()),
		URL:         "https://example.com/article",
		Title:       "Title",
		Description: "Description",
		OwnerID:     owner.UserID,
		ClickCount:  3,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorResponse {
	t.Helper()
	var resp httpx.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

/***************
 * Handler Tests
 ***************/

func TestHandler_CreateLink(t *testing.T) {
	t.Run("returns 201 with the link", func(t *testing.T) {
		link := sampleLink()
		var gotPrincipal auth.Principal
		var gotInput CreateInput
		svc := &mockService{
			createFunc: func(ctx context.Context, p auth.Principal, in CreateInput) (Link, error) {
				gotPrincipal, gotInput = p, in
				return link, nil
			},
		}
		h := newTestRouter(newTestHandler(svc), &owner)

		rec := do(t, h, http.MethodPost, "/links", `{"url":"https://example.com/article","title":"Title"}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
		if gotPrincipal.UserID != owner.UserID {
			t.Errorf("principal = %+v", gotPrincipal)
		}
		if gotInput.URL != "https://example.com/article" || gotInput.Title != "Title" {
			t.Errorf("input = %+v", gotInput)
		}

		var resp LinkResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.ID != link.ID.String() || resp.ClickCount != 3 {
			t.Errorf("resp = %+v", resp)
		}
		if resp.EditableUntil != "2025-03-01T12:01:00Z" {
			t.Errorf("editable_until = %q", resp.EditableUntil)
		}
		if !strings.Contains(rec.Body.String(), `"preview":null`) {
			t.Errorf("absent preview should encode as null: %s", rec.Body.String())
		}
	})

	t.Run("invalid url maps to 400", func(t *testing.T) {
		svc := &mockService{
			createFunc: func(ctx context.Context, p auth.Principal, in CreateInput) (Link, error) {
				return Link{}, errx.E("links.service.Create", errx.Invalid, errors.New("url must use http or https scheme"))
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &owner), http.MethodPost, "/links", `{"url":"ftp://x"}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		resp := decodeError(t, rec)
		if resp.Error != "invalid_input" || resp.Message != "url must use http or https scheme" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("malformed body maps to 400 without calling the service", func(t *testing.T) {
		called := false
		svc := &mockService{
			createFunc: func(ctx context.Context, p auth.Principal, in CreateInput) (Link, error) {
				called = true
				return Link{}, nil
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &owner), http.MethodPost, "/links", `{"url":`)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if called {
			t.Error("service called with malformed body")
		}
	})

	t.Run("missing principal is 401", func(t *testing.T) {
		rec := do(t, newTestRouter(newTestHandler(&mockService{}), nil), http.MethodPost, "/links", `{"url":"https://example.com"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("store unavailable is 503 without internals", func(t *testing.T) {
		svc := &mockService{
			createFunc: func(ctx context.Context, p auth.Principal, in CreateInput) (Link, error) {
				return Link{}, errx.E("links.repo.Create", errx.Unavailable, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &owner), http.MethodPost, "/links", `{"url":"https://example.com"}`)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "10.0.0.5") {
			t.Errorf("response leaks internals: %s", rec.Body.String())
		}
	})
}

func TestHandler_GetLink(t *testing.T) {
	t.Run("returns link with preview", func(t *testing.T) {
		link := sampleLink()
		link.Preview = &preview.Preview{Title: "OG title", Image: "https://example.com/og.png"}
		svc := &mockService{
			getFunc: func(ctx context.Context, id uuid.UUID) (Link, error) {
				if id != link.ID {
					t.Errorf("id = %s, want %s", id, link.ID)
				}
				return link, nil
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), nil), http.MethodGet, "/links/"+link.ID.String(), "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp LinkResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Preview == nil || resp.Preview.Title != "OG title" {
			t.Errorf("preview = %+v", resp.Preview)
		}
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		for _, id := range []string{"abc", uuid.New().String()} {
			rec := do(t, newTestRouter(newTestHandler(&mockService{}), nil), http.MethodGet, "/links/"+id, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("id %q: status = %d, want 400", id, rec.Code)
			}
		}
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		rec := do(t, newTestRouter(newTestHandler(&mockService{}), nil), http.MethodGet, "/links/"+uuid.Must(uuid.NewV7()).String(), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandler_ListLinks(t *testing.T) {
	t.Run("passes paging through", func(t *testing.T) {
		var gotLimit, gotOffset int
		svc := &mockService{
			listFunc: func(ctx context.Context, limit, offset int) ([]Link, error) {
				gotLimit, gotOffset = limit, offset
				return []Link{sampleLink(), sampleLink()}, nil
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &owner), http.MethodGet, "/links?limit=5&offset=10", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if gotLimit != 5 || gotOffset != 10 {
			t.Errorf("limit/offset = %d/%d", gotLimit, gotOffset)
		}
		var resp ListLinksResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Links) != 2 || resp.Limit != 5 || resp.Offset != 10 {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("empty list encodes as an array", func(t *testing.T) {
		rec := do(t, newTestRouter(newTestHandler(&mockService{}), &owner), http.MethodGet, "/links", "")
		if !strings.Contains(rec.Body.String(), `"links":[]`) {
			t.Errorf("body = %s", rec.Body.String())
		}
	})

	t.Run("bad paging is 400", func(t *testing.T) {
		for _, q := range []string{"limit=x", "offset=-1", "limit=-3"} {
			rec := do(t, newTestRouter(newTestHandler(&mockService{}), &owner), http.MethodGet, "/links?"+q, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", q, rec.Code)
			}
		}
	})
}

func TestHandler_UpdateLink(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	t.Run("passes only supplied fields", func(t *testing.T) {
		var got Patch
		svc := &mockService{
			updateFunc: func(ctx context.Context, p auth.Principal, gotID uuid.UUID, patch Patch) (Link, error) {
				got = patch
				l := sampleLink()
				l.ID = gotID
				return l, nil
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &owner), http.MethodPatch, "/links/"+id.String(), `{"title":"New"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}
		if got.Title == nil || *got.Title != "New" || got.Description != nil {
			t.Errorf("patch = %+v", got)
		}
	})

	t.Run("url in payload is rejected", func(t *testing.T) {
		called := false
		svc := &mockService{
			updateFunc: func(ctx context.Context, p auth.Principal, id uuid.UUID, patch Patch) (Link, error) {
				called = true
				return Link{}, nil
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &owner), http.MethodPatch, "/links/"+id.String(), `{"url":"https://evil.example"}`)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if called {
			t.Error("service called for url change")
		}
	})

	t.Run("unknown field is rejected", func(t *testing.T) {
		rec := do(t, newTestRouter(newTestHandler(&mockService{}), &owner), http.MethodPatch, "/links/"+id.String(), `{"owner_id":"user-2"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("maps policy errors", func(t *testing.T) {
		tests := []struct {
			kind     errx.Kind
			wantCode int
			wantErr  string
		}{
			{errx.Forbidden, http.StatusForbidden, "forbidden"},
			{errx.Expired, http.StatusConflict, "edit_window_expired"},
			{errx.NotFound, http.StatusNotFound, "not_found"},
		}
		for _, tt := range tests {
			t.Run(tt.kind.String(), func(t *testing.T) {
				svc := &mockService{
					updateFunc: func(ctx context.Context, p auth.Principal, id uuid.UUID, patch Patch) (Link, error) {
						return Link{}, errx.E("links.service.Update", tt.kind, errors.New("denied"))
					},
				}
				rec := do(t, newTestRouter(newTestHandler(svc), &other), http.MethodPatch, "/links/"+id.String(), `{"title":"x"}`)

				if rec.Code != tt.wantCode {
					t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
				}
				if resp := decodeError(t, rec); resp.Error != tt.wantErr {
					t.Errorf("error = %q, want %q", resp.Error, tt.wantErr)
				}
			})
		}
	})
}

func TestHandler_DeleteLink(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	t.Run("returns 204", func(t *testing.T) {
		var gotPrincipal auth.Principal
		svc := &mockService{
			deleteFunc: func(ctx context.Context, p auth.Principal, gotID uuid.UUID) error {
				gotPrincipal = p
				return nil
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &admin), http.MethodDelete, "/links/"+id.String(), "")

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if !gotPrincipal.IsAdmin() {
			t.Errorf("principal = %+v", gotPrincipal)
		}
	})

	t.Run("second delete is 404", func(t *testing.T) {
		svc := &mockService{
			deleteFunc: func(ctx context.Context, p auth.Principal, id uuid.UUID) error {
				return errx.E("links.repo.Delete", errx.NotFound, errors.New("no rows"))
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), &owner), http.MethodDelete, "/links/"+id.String(), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandler_RecordClick(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	t.Run("returns 204 and forwards client address", func(t *testing.T) {
		var gotClient string
		svc := &mockService{
			recordClickFunc: func(ctx context.Context, gotID uuid.UUID, client string) error {
				gotClient = client
				return nil
			},
		}
		req := httptest.NewRequest(http.MethodPost, "/links/"+id.String()+"/click", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		newTestRouter(newTestHandler(svc), nil).ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if gotClient != "203.0.113.9" {
			t.Errorf("client = %q", gotClient)
		}
	})

	t.Run("unknown link is 404", func(t *testing.T) {
		svc := &mockService{
			recordClickFunc: func(ctx context.Context, id uuid.UUID, client string) error {
				return errx.E("links.service.RecordClick", errx.NotFound, errors.New("no rows"))
			},
		}
		rec := do(t, newTestRouter(newTestHandler(svc), nil), http.MethodPost, "/links/"+id.String()+"/click", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
