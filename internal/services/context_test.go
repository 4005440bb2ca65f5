package services_test

import (
	"context"
	"testing"

	"cardscan/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithScanID(ctx, "scan-1")
	ctx = services.WithImageID(ctx, "img-1")
	ctx = services.WithStage(ctx, "recognition")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ScanIDFromContext(ctx); !ok || id != "scan-1" {
		t.Fatalf("unexpected scan id: %v %v", id, ok)
	}
	if id, ok := services.ImageIDFromContext(ctx); !ok || id != "img-1" {
		t.Fatalf("unexpected image id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "recognition" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	if services.WithScanID(ctx, "") != ctx {
		t.Fatal("expected blank scan id to return original context")
	}
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected blank stage to be ignored")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id")
	}
}
