package api

import (
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	base := jwt.MapClaims{
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	for k, v := range claims {
		base[k] = v
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, base).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringRejects(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{"", errMissingAuthorization},
		{"   ", errMissingAuthorization},
		{"Basic a.b.c", errBadAuthorization},
		{"Bearer ", errBadAuthorization},
		{"Bearer " + strings.Repeat(".", 1000), errBadAuthorization},
	}
	for _, tc := range cases {
		if _, err := bearerTokenFromString(tc.raw); err != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.raw, tc.want, err)
		}
	}
}

func TestAuthHeaderFromRequest(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest("GET", "/hub?access_token=a.b.c", nil)
	if got := authHeaderFromRequest(e.NewContext(req, httptest.NewRecorder())); got != "Bearer a.b.c" {
		t.Fatalf("expected access_token fallback, got %q", got)
	}

	req = httptest.NewRequest("GET", "/hub?token=d.e.f", nil)
	if got := authHeaderFromRequest(e.NewContext(req, httptest.NewRecorder())); got != "Bearer d.e.f" {
		t.Fatalf("expected token fallback, got %q", got)
	}

	req = httptest.NewRequest("GET", "/hub?token=d.e.f", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	if got := authHeaderFromRequest(e.NewContext(req, httptest.NewRecorder())); got != "Bearer x.y.z" {
		t.Fatalf("expected header to win, got %q", got)
	}
}

func TestPrincipalFromBearerHS256(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":       "user-123",
		"aud":       "api://aud",
		"iss":       "https://issuer/",
		"role":      []string{"FrontDesk", "Manager"},
		"hotelId":   7,
		"bookingId": "42",
	})
	auth := NewHS256Auth(testSecret, "api://aud", "https://issuer/")

	p, err := auth.PrincipalFromBearer([]byte(signed))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if p.UserID != "user-123" {
		t.Fatalf("unexpected user id: %s", p.UserID)
	}
	if !reflect.DeepEqual(p.Roles, []string{"FrontDesk", "Manager"}) {
		t.Fatalf("unexpected roles: %v", p.Roles)
	}
	if p.HotelID == nil || *p.HotelID != 7 {
		t.Fatalf("unexpected hotel id: %v", p.HotelID)
	}
	if p.BookingID == nil || *p.BookingID != 42 {
		t.Fatalf("unexpected booking id: %v", p.BookingID)
	}
}

func TestPrincipalFromBearerRoleClaimVariants(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":        "u1",
		"roles":      "Guest",
		claimRoleURI: []any{"FrontDesk"},
		"hotelId":    "not-a-number",
	})
	p, err := NewHS256Auth(testSecret, "", "").PrincipalFromBearer([]byte(signed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(p.Roles, []string{"Guest", "FrontDesk"}) {
		t.Fatalf("unexpected roles: %v", p.Roles)
	}
	if p.HotelID != nil {
		t.Fatalf("expected malformed hotel id to be ignored, got %d", *p.HotelID)
	}
}

func TestPrincipalFromBearerWithoutSubjectIsAnonymous(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"role": "FrontDesk", "hotelId": 7})
	p, err := NewHS256Auth(testSecret, "", "").PrincipalFromBearer([]byte(signed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Anonymous() || len(p.Groups()) != 0 {
		t.Fatalf("expected anonymous principal, got %+v", p)
	}
}

func TestPrincipalFromBearerRejects(t *testing.T) {
	auth := NewHS256Auth(testSecret, "api://aud", "")

	expired := signToken(t, jwt.MapClaims{"sub": "u1", "aud": "api://aud", "exp": time.Now().Add(-5 * time.Minute).Unix()})
	if _, err := auth.PrincipalFromBearer([]byte(expired)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	wrongAud := signToken(t, jwt.MapClaims{"sub": "u1", "aud": "api://other"})
	if _, err := auth.PrincipalFromBearer([]byte(wrongAud)); err == nil || err.Error() != "invalid audience" {
		t.Fatalf("expected invalid audience, got %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"aud": "api://aud",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.PrincipalFromAuthHeader("Bearer " + forged); err == nil {
		t.Fatal("expected forged token to be rejected")
	}

	if _, err := auth.PrincipalFromAuthHeader(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header, got %v", err)
	}
}

func TestNewAuthLocalMode(t *testing.T) {
	t.Setenv(envLocalAuthMode, "HS256")
	t.Setenv(envLocalAuthSecret, "local-secret")
	t.Setenv(envJWKSCacheTTL, "1m")

	auth := NewAuth(nil, "", "")
	if !auth.TestMode || string(auth.TestSecret) != "local-secret" {
		t.Fatalf("expected local hs256 mode, got %+v", auth)
	}
	if auth.keyCacheTTL != time.Minute {
		t.Fatalf("unexpected cache ttl %s", auth.keyCacheTTL)
	}
}

func TestNewAuthPanicsWithoutSecret(t *testing.T) {
	t.Setenv(envLocalAuthMode, "")
	t.Setenv(envAuth0TestMode, "1")
	t.Setenv(envTestJWTSecret, "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewAuth(nil, "", "")
}
