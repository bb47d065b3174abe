package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/labstack/echo/v4"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiterWithConfig(600, 5) // burst of 5
	defer rl.Stop()

	projectID := "proj-1"

	for i := 0; i < 5; i++ {
		if !rl.Allow(projectID) {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow(projectID) {
		t.Error("6th request should be rate limited")
	}
}

func TestRateLimiter_DifferentProjects(t *testing.T) {
	rl := NewRateLimiterWithConfig(600, 3)
	defer rl.Stop()

	proj1 := "proj-1"
	proj2 := "proj-2"

	for i := 0; i < 3; i++ {
		if !rl.Allow(proj1) {
			t.Errorf("proj1 request %d should be allowed", i+1)
		}
	}
	if rl.Allow(proj1) {
		t.Error("proj1 should now be rate limited")
	}

	// proj2 has its own independent bucket
	if !rl.Allow(proj2) {
		t.Error("proj2 first request should be allowed")
	}
}

func TestRateLimitMiddleware_SkipsNonAPIKeyRequests(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiterWithConfig(600, 1)
	defer rl.Stop()

	called := 0
	handler := func(c echo.Context) error {
		called++
		return c.NoContent(http.StatusOK)
	}

	mw := RateLimitMiddleware(rl)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := mw(handler)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if called != 5 {
		t.Errorf("expected handler called 5 times for non-api-key requests, got %d", called)
	}
}

func TestRateLimitMiddleware_LimitsAPIKeyRequests(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiterWithConfig(600, 2)
	defer rl.Stop()

	handler := func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
	mw := RateLimitMiddleware(rl)

	newReq := func() (echo.Context, *httptest.ResponseRecorder) {
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		setAuthContext(c, domain.AuthContext{OrganisationID: "org-1", ProjectID: "proj-1", IsAPIKeyAuth: true})
		return c, rec
	}

	for i := 0; i < 2; i++ {
		c, rec := newReq()
		if err := mw(handler)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i+1, rec.Code)
		}
	}

	c, rec := newReq()
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}
