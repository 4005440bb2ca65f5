package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) daemonStatus(c echo.Context) error {
	summary := s.workflow.Status(c.Request().Context())
	status := DaemonStatus{Running: summary.Running}
	if s.status != nil {
		status = s.status()
	}
	status.Workflow = FromStatusSummary(summary)
	return c.JSON(http.StatusOK, status)
}
