package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"project-manager/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// AuthOptions configures token validation.
type AuthOptions struct {
	Audience string
	Issuer   string
	// OrgClaim names the claim carrying the caller's organization.
	OrgClaim string
	// TestSecret switches validation to HS256 with a shared secret.
	TestSecret  []byte
	KeyCacheTTL time.Duration
}

// Auth validates bearer tokens and resolves the calling principal.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	OrgClaim   string
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

// NewAuth creates an Auth. jwks may be nil in test mode.
func NewAuth(jwks *keyfunc.JWKS, opts AuthOptions) *Auth {
	a := &Auth{
		JWKS:        jwks,
		Audience:    opts.Audience,
		Issuer:      opts.Issuer,
		OrgClaim:    opts.OrgClaim,
		keyCacheTTL: opts.KeyCacheTTL,
	}
	if a.OrgClaim == "" {
		a.OrgClaim = "org_id"
	}
	if a.keyCacheTTL <= 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}
	if len(opts.TestSecret) > 0 {
		a.TestMode = true
		a.TestSecret = opts.TestSecret
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// PrincipalFromAuthHeader resolves the caller from an Authorization header value.
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

// PrincipalFromBearer validates a raw bearer token. A token without the
// organization claim yields a principal with an empty OrganizationID.
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
		parsedToken, err = a.parser.Parse(tokenStr, a.keyForToken)
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

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.Principal{}, errors.New("missing sub")
	}

	return domain.Principal{UserID: sub, OrganizationID: orgFromClaims(claims, a.OrgClaim)}, nil
}

// orgFromClaims accepts either a string claim or a list whose first entry is used.
func orgFromClaims(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" {
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

	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
