package stage

import (
	"context"
	"strings"

	"cardscan/internal/services"
)

// Annotate attaches the scan id and stage name to ctx so log lines emitted by
// the stage carry both.
func Annotate(ctx context.Context, scanID, name string) context.Context {
	if id := strings.TrimSpace(scanID); id != "" {
		ctx = services.WithScanID(ctx, id)
	}
	if name = strings.TrimSpace(name); name != "" {
		ctx = services.WithStage(ctx, name)
	}
	return ctx
}
