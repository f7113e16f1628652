package api

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"presence-service/domain"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuth0TestMode    = "AUTH0_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envLocalAuthMode    = "LOCAL_AUTH_MODE"
	envLocalAuthSecret  = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"

	claimRoleURI = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

var roleClaims = []string{"role", "roles", claimRoleURI}

// Auth validates bearer tokens and turns their claims into a principal.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth verifying RS256 tokens against jwks, or HS256
// tokens when a local auth mode is configured in the environment.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	a.keyCacheTTL = parseCacheTTL()

	if mode := strings.ToLower(os.Getenv(envLocalAuthMode)); mode != "" {
		switch mode {
		case "hs256":
			secret := os.Getenv(envLocalAuthSecret)
			if secret == "" {
				panic("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
			}
			a.TestMode = true
			a.TestSecret = []byte(secret)
		default:
			panic("unsupported LOCAL_AUTH_MODE value")
		}
	} else if os.Getenv(envAuth0TestMode) == "1" {
		secret := os.Getenv(envTestJWTSecret)
		if secret == "" {
			panic("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}

	a.parser = newParser(a.TestMode)
	return a
}

// NewHS256Auth creates an Auth that only accepts tokens signed with secret.
func NewHS256Auth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Audience:   audience,
		Issuer:     issuer,
		TestMode:   true,
		TestSecret: secret,
		parser:     newParser(true),
	}
}

func newParser(hs256 bool) *jwt.Parser {
	if hs256 {
		return jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithJSONNumber())
	}
	return jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithJSONNumber())
}

func parseCacheTTL() time.Duration {
	ttl := defaultJWKSCacheTTL
	if raw := os.Getenv(envJWKSCacheTTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			panic("invalid JWKS_CACHE_TTL")
		}
		ttl = parsed
	}
	return ttl
}

// PrincipalFromAuthHeader verifies the bearer token in an Authorization
// header value.
func (a *Auth) PrincipalFromAuthHeader(h string) (domain.Principal, error) {
	if h == "" {
		return domain.Principal{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return domain.Principal{}, err
	}
	return a.PrincipalFromBearer(token)
}

// PrincipalFromBearer verifies a raw bearer token. A valid token without a
// subject yields the anonymous principal.
func (a *Auth) PrincipalFromBearer(token []byte) (domain.Principal, error) {
	if len(token) == 0 {
		return domain.Principal{}, errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	var parsedToken *jwt.Token
	var err error
	if a.TestMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return domain.Principal{}, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.Principal{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return domain.Principal{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return domain.Principal{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return domain.Principal{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return domain.Principal{}, errors.New("invalid issuer")
	}

	return principalFromClaims(claims), nil
}

func principalFromClaims(claims jwt.MapClaims) domain.Principal {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Principal{}
	}
	p := domain.Principal{UserID: sub}
	for _, name := range roleClaims {
		p.Roles = append(p.Roles, stringsClaim(claims[name])...)
	}
	p.HotelID = int64Claim(claims, "hotelId")
	p.BookingID = int64Claim(claims, "bookingId")
	return p
}

// stringsClaim accepts a single string or an array of strings.
func stringsClaim(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	}
	return nil
}

// int64Claim reads a numeric claim that may be encoded as a number or a
// decimal string. Anything else is treated as absent.
func int64Claim(claims jwt.MapClaims, name string) *int64 {
	var (
		n   int64
		err error
	)
	switch val := claims[name].(type) {
	case json.Number:
		n, err = val.Int64()
	case string:
		n, err = strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return nil
		}
		n = int64(val)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &n
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
