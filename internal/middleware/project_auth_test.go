package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type mockProjectKeyCache struct {
	orgID, projectID string
	ok               bool
	err              error
}

func (m *mockProjectKeyCache) Lookup(ctx context.Context, apiKeyHash string) (string, string, bool, error) {
	return m.orgID, m.projectID, m.ok, m.err
}

func (m *mockProjectKeyCache) Invalidate(ctx context.Context, apiKeyHash string) error { return nil }

func TestProjectAuthMiddleware_Success(t *testing.T) {
	e := echo.New()
	cache := &mockProjectKeyCache{orgID: "org-1", projectID: "proj-1", ok: true}
	mw := NewProjectAuthMiddleware(cache)

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	req.Header.Set("Authorization", "Bearer mb_live_abc123")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotOrg, gotProject string
	handler := func(c echo.Context) error {
		ac := GetAuthContext(c)
		gotOrg = ac.OrganisationID
		gotProject = ac.ProjectID
		return c.NoContent(http.StatusAccepted)
	}

	if err := mw.Authenticate()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if gotOrg != "org-1" || gotProject != "proj-1" {
		t.Fatalf("unexpected auth context: org=%s project=%s", gotOrg, gotProject)
	}
}

func TestProjectAuthMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	mw := NewProjectAuthMiddleware(&mockProjectKeyCache{})

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	}

	if err := mw.Authenticate()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProjectAuthMiddleware_InvalidKey(t *testing.T) {
	e := echo.New()
	mw := NewProjectAuthMiddleware(&mockProjectKeyCache{ok: false})

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	req.Header.Set("Authorization", "Bearer mb_live_bad")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	}

	if err := mw.Authenticate()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHashAPIKey_Deterministic(t *testing.T) {
	h1 := HashAPIKey("mb_live_abc123")
	h2 := HashAPIKey("mb_live_abc123")
	h3 := HashAPIKey("mb_live_different")

	if h1 != h2 {
		t.Error("hash should be deterministic for the same input")
	}
	if h1 == h3 {
		t.Error("hash should differ for different inputs")
	}
}
