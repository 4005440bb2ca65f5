package workflow

import (
	"context"
	"log/slog"

	"cardscan/internal/logging"
)

// scanLogger returns the manager logger enriched with the scan, stage, and
// request fields carried by ctx.
func (m *Manager) scanLogger(ctx context.Context) *slog.Logger {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	return logging.WithContext(ctx, base)
}
