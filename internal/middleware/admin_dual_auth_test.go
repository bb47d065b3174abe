package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAdminDualAuth_PicksAPIKeyModeForOpaqueToken(t *testing.T) {
	e := echo.New()
	repo := &mockAdminRepo{key: nil, err: nil}
	apiKeyAuth := NewAdminAPIKeyAuthMiddleware(repo)
	dual := NewAdminDualAuthMiddleware(nil, apiKeyAuth)

	req := httptest.NewRequest(http.MethodGet, "/admin/organisations", nil)
	req.Header.Set("Authorization", "Bearer opaque-admin-key")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	}

	err := dual.Authenticate()(handler)(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// repo.key is nil -> lookup "succeeds" with a nil key, which is a
	// deliberately degenerate fixture; what matters here is that the
	// dual middleware routed to the api-key path rather than erroring on
	// "no mode configured". The api-key middleware answers a nil key with
	// "invalid admin api key", which only that path produces.
	_ = called
	if !strings.Contains(rec.Body.String(), "invalid admin api key") {
		t.Fatalf("expected the api-key path's rejection, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestAdminDualAuth_NoModeConfigured(t *testing.T) {
	e := echo.New()
	dual := NewAdminDualAuthMiddleware(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/organisations", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	}

	if err := dual.Authenticate()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminDualAuth_MissingHeader(t *testing.T) {
	e := echo.New()
	dual := NewAdminDualAuthMiddleware(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/organisations", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		t.Fatal("handler should not be called")
		return nil
	}

	if err := dual.Authenticate()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
