package api

import (
	"compress/gzip"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// requireServiceToken rejects requests whose bearer token is not the shared
// service token.
func requireServiceToken(token string) echo.MiddlewareFunc {
	want := []byte(token)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got, ok := serviceTokenFromHeader(c.Request().Header)
			if !ok || subtle.ConstantTimeCompare(got, want) != 1 {
				return c.NoContent(http.StatusUnauthorized)
			}
			return next(c)
		}
	}
}

// Service tokens are opaque, so unlike user tokens they are not required to
// look like a JWT.
func serviceTokenFromHeader(header http.Header) ([]byte, bool) {
	raw := strings.TrimSpace(header.Get(echo.HeaderAuthorization))
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return nil, false
	}
	return []byte(token), true
}

// gzipRequest decompresses gzip-encoded request bodies. Invalid gzip
// payloads are rejected with a 400 response.
func gzipRequest() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return c.String(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
