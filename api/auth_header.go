package api

import (
	"bytes"
	"errors"
	"strings"
	"unsafe"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// authHeader returns the Authorization header, falling back to the token
// query parameter for clients that cannot set headers (EventSource).
func authHeader(c echo.Context, allowQuery bool) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if h == "" && allowQuery {
		if token := c.QueryParam("token"); token != "" {
			h = bearerPrefix + token
		}
	}
	return h
}

func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return nil, errBadAuthorization
	}
	token := readOnlyBytes(trimmed[len(bearerPrefix):])
	if bytes.Count(token, []byte{'.'}) != 2 {
		return nil, errBadAuthorization
	}
	return token, nil
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
