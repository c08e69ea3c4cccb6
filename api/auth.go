package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/GeneralTask/task-manager-sub001/config"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuth0TestMode    = "AUTH0_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envLocalAuthMode    = "LOCAL_AUTH_MODE"
	envLocalAuthSecret  = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"
)

// AuthConfig selects how session tokens are verified.
type AuthConfig struct {
	Audience string
	Issuer   string
	// SharedSecret switches to HS256 verification when set.
	SharedSecret []byte
	KeyCacheTTL  time.Duration
}

// AuthConfigFromEnv reads the local and test mode settings. LOCAL_AUTH_MODE
// takes precedence over AUTH0_TEST_MODE.
func AuthConfigFromEnv() (AuthConfig, error) {
	cfg := AuthConfig{KeyCacheTTL: config.Duration(envJWKSCacheTTL, defaultJWKSCacheTTL)}
	if mode := strings.ToLower(config.String(envLocalAuthMode, "")); mode != "" {
		if mode != "hs256" {
			return AuthConfig{}, fmt.Errorf("unsupported %s value %q", envLocalAuthMode, mode)
		}
		secret := config.String(envLocalAuthSecret, "")
		if secret == "" {
			return AuthConfig{}, fmt.Errorf("%s must be set when %s=hs256", envLocalAuthSecret, envLocalAuthMode)
		}
		cfg.SharedSecret = []byte(secret)
		return cfg, nil
	}
	if config.Bool(envAuth0TestMode, false) {
		secret := config.String(envTestJWTSecret, "")
		if secret == "" {
			return AuthConfig{}, fmt.Errorf("%s must be set when %s=1", envTestJWTSecret, envAuth0TestMode)
		}
		cfg.SharedSecret = []byte(secret)
	}
	return cfg, nil
}

// Auth validates incoming JWT tokens and returns their subject.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth. jwks may be nil when cfg carries a shared secret.
func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) *Auth {
	a := &Auth{JWKS: jwks, Audience: cfg.Audience, Issuer: cfg.Issuer, secret: cfg.SharedSecret, keyCacheTTL: cfg.KeyCacheTTL}
	if a.LocalMode() {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// LocalMode reports whether tokens are verified with the shared secret.
func (a *Auth) LocalMode() bool {
	return len(a.secret) > 0
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer extracts the user identifier from a bearer token presented as raw bytes.
func (a *Auth) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}

	parsed, err := a.parser.Parse(readOnlyString(token), func(t *jwt.Token) (any, error) {
		if a.LocalMode() {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.secret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
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
