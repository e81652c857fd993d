package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func runAdmin(t *testing.T, secret, header string) (*httptest.ResponseRecorder, *AdminClaims) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	var seen *AdminClaims
	AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := AdminClaimsFromContext(r.Context()); ok {
			seen = &c
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, seen
}

func TestAdminJWTMissingSecret(t *testing.T) {
	rec, _ := runAdmin(t, "", "Bearer "+signedAdminToken(t, "secret", "", time.Minute))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTMissingHeader(t *testing.T) {
	rec, _ := runAdmin(t, "secret", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTInvalidToken(t *testing.T) {
	cases := map[string]string{
		"wrong secret": "Bearer " + signedAdminToken(t, "wrong", "", time.Minute),
		"expired":      "Bearer " + signedAdminToken(t, "secret", "", -time.Hour),
		"garbage":      "Bearer not-a-token",
	}
	for name, header := range cases {
		rec, _ := runAdmin(t, "secret", header)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected status %d, got %d", name, http.StatusUnauthorized, rec.Code)
		}
	}
}

func TestAdminJWTRoles(t *testing.T) {
	rec, claims := runAdmin(t, "secret", "Bearer "+signedAdminToken(t, "secret", "", time.Minute))
	if rec.Code != http.StatusOK || claims == nil || claims.Role != RoleAdmin {
		t.Fatalf("expected admin access, got %d %+v", rec.Code, claims)
	}

	rec, claims = runAdmin(t, "secret", "Bearer "+signedAdminToken(t, "secret", RoleOperator, time.Minute))
	if rec.Code != http.StatusOK || claims.Role != RoleOperator || claims.Subject != "ops-user" {
		t.Fatalf("expected operator access, got %d %+v", rec.Code, claims)
	}

	rec, _ = runAdmin(t, "secret", "Bearer "+signedAdminToken(t, "secret", "viewer", time.Minute))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rec.Code)
	}
}

func signedAdminToken(t *testing.T, secret, role string, ttl time.Duration) string {
	t.Helper()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
