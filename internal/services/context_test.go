package services_test

import (
	"context"
	"testing"

	"autosumm/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, "2406.01234")
	ctx = services.WithStage(ctx, "rate")
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ItemIDFromContext(ctx); !ok || id != "2406.01234" {
		t.Fatalf("unexpected item id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "rate" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if run, ok := services.RunIDFromContext(ctx); !ok || run != "run-1" {
		t.Fatalf("unexpected run id: %v %v", run, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithItemID(ctx, "")
	if _, ok := services.ItemIDFromContext(ctx); ok {
		t.Fatal("expected no item id value")
	}
}
