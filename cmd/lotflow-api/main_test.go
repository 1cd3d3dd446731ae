package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/yourorg/lotflow/internal/auth"
	"github.com/yourorg/lotflow/internal/evidence"
	"github.com/yourorg/lotflow/internal/lot"
	"github.com/yourorg/lotflow/internal/store/memstore"
	"github.com/yourorg/lotflow/internal/workflow"
)

func TestDefaultEvidenceWiringAcceptsPresignedPhotos(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	storage, opts, err := setupEvidence(ctx, evidence.Config{}, logger)
	if err != nil {
		t.Fatalf("setupEvidence: %v", err)
	}
	if len(opts) != 0 {
		t.Fatalf("in-memory evidence installed %d engine options, want none", len(opts))
	}
	engine := workflow.NewEngine(memstore.New(), workflow.Config{}, append(opts, workflow.WithLogger(logger))...)

	vendor := auth.Identity{ActorID: "V1", DisplayName: "Vendor One", Role: lot.RoleVendor}
	inspector := auth.Identity{ActorID: "I1", DisplayName: "Inspector One", Role: lot.RoleInspector}
	l, err := engine.CreateLot(ctx, vendor, lot.Descriptor{Name: "Sleepers"})
	if err != nil {
		t.Fatal(err)
	}
	key, err := evidence.ObjectKey(l.ID, "crack.jpg")
	if err != nil {
		t.Fatal(err)
	}
	up, err := storage.PresignUpload(ctx, key, 0)
	if err != nil {
		t.Fatal(err)
	}

	got, err := engine.Inspect(ctx, inspector, l.ID, lot.InspectInput{Condition: lot.ConditionReplace, Photos: []string{up.Key}})
	if err != nil {
		t.Fatalf("Inspect with presigned photo: %v", err)
	}
	if n := len(got.AuditTrail); n != 1 {
		t.Fatalf("trail length = %d, want 1", n)
	}
	_, _, err = engine.RequestReplacement(ctx, inspector, l.ID, lot.ReplacementInput{
		Reason: lot.ReasonDamaged, Description: "cracked", Photos: []string{up.Key},
	})
	if err != nil {
		t.Fatalf("RequestReplacement with presigned photo: %v", err)
	}
}

func TestMinioEvidenceWiringRejectsBadConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, _, err := setupEvidence(context.Background(), evidence.Config{Endpoint: "minio:9000"}, logger)
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
