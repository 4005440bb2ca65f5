package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"cardscan/internal/logging"
)

// observe logs and measures every request. The error is rendered here so
// the recorded status matches what the client received.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		elapsed := time.Since(started)
		status := c.Response().Status
		if s.metrics != nil {
			s.metrics.ObserveHTTP(c.Request().Method, c.Path(), status, elapsed)
		}
		logging.WithContext(c.Request().Context(), s.logger).Debug("api request",
			logging.String("method", c.Request().Method),
			logging.String("path", c.Request().URL.Path),
			logging.Int("status", status),
			logging.Duration("duration", elapsed),
		)
		return nil
	}
}

// authenticate validates bearer tokens. With no token configured every
// request passes through.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	if s.token == "" {
		return next
	}
	want := []byte(s.token)
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}
