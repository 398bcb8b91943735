package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func routedContext(path string) echo.Context {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
	c.SetPath(path)
	return c
}

func TestAuthSkipper(t *testing.T) {
	for _, p := range []string{"/health", "/health/db"} {
		if !AuthSkipper(routedContext(p)) {
			t.Errorf("expected %s to skip auth", p)
		}
	}
	for _, p := range []string{"/api/v1/invoices", "/api/v1/payments", "/"} {
		if AuthSkipper(routedContext(p)) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") || IsPublicPath("/api/v1/billing-codes") {
		t.Error("unexpected public path classification")
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	c := routedContext("/health")
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("expected public path to pass without token: %v", err)
	}
}

func TestJWTMiddleware_DoesNotSkipProtectedPaths(t *testing.T) {
	c := routedContext("/api/v1/invoices")
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	expectStatus(t, mw(okHandler)(c), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_SkipsPublicPaths(t *testing.T) {
	c := routedContext("/health")
	handler := func(c echo.Context) error {
		if RolesFromContext(c.Request().Context()) != nil {
			t.Error("skipped request should carry no identity")
		}
		return nil
	}
	if err := DevAuthMiddleware(AuthSkipper)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
