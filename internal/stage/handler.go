package stage

import (
	"context"

	"cardscan/internal/scan"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *scan.Scan) error
	Execute(context.Context, *scan.Scan) error
	HealthCheck(context.Context) Health
}

// Checker is implemented by dependencies that only report readiness.
type Checker interface {
	HealthCheck(context.Context) Health
}
