package httpserver

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/correlation"
	apperrors "github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/errors"
)

// correlationMiddleware honors a caller-supplied correlation header when it is well-formed
// and echoes the effective ID back in the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.NewID()
		if candidate := c.Request().Header.Get(correlation.Header); candidate != "" {
			id = correlation.Sanitize(candidate)
		}
		c.Response().Header().Set(correlation.Header, id)

		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requireAPIKey guards the publish API with the shared bearer key.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	expected := []byte(s.config.PublishAPIKey)
	return func(c echo.Context) error {
		key, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok || subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			return apperrors.UnauthorizedError("missing or invalid API key")
		}
		return next(c)
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
