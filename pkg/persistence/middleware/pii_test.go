package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
)

func TestPIIMiddlewareMasking(t *testing.T) {
	underlying := NewMockStore()
	// Mask email addresses and anything shaped like a US SSN.
	mw := middleware.NewPIIMiddleware([]string{
		`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
		`\d{3}-\d{2}-\d{4}`,
	})
	secure := mw(underlying)

	ctx := context.Background()
	record := &domain.RunRecord{
		ID:     "pii-1",
		Goal:   "follow up with jdoe@example.com about the contract",
		Status: domain.StatusDone,
		Tasks: []domain.Task{
			{ID: "t1", Content: "Email jdoe@example.com the signed form", Description: "SSN on file: 999-99-9999"},
			{ID: "t2", Content: "Water the plants"},
		},
		Results: map[string]string{
			"t1": "Sent to jdoe@example.com.",
			"t2": "Done.",
		},
		Notes: []string{"contact was jdoe@example.com"},
		Decisions: []domain.RoutingDecision{
			{Step: 3, Reason: "message mentions jdoe@example.com"},
		},
	}

	if err := secure.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The engine's in-memory record must be untouched.
	if record.Tasks[0].Content != "Email jdoe@example.com the signed form" {
		t.Error("middleware modified the original record in memory")
	}

	stored, err := underlying.Load(ctx, "pii-1")
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}

	if stored.Goal != "follow up with *** about the contract" {
		t.Errorf("goal not masked: %q", stored.Goal)
	}
	if stored.Tasks[0].Content != "Email *** the signed form" {
		t.Errorf("task content not masked: %q", stored.Tasks[0].Content)
	}
	if stored.Tasks[0].Description != "SSN on file: ***" {
		t.Errorf("task description not masked: %q", stored.Tasks[0].Description)
	}
	if stored.Tasks[1].Content != "Water the plants" {
		t.Errorf("clean content should pass through, got %q", stored.Tasks[1].Content)
	}
	if stored.Results["t1"] != "Sent to ***." {
		t.Errorf("result not masked: %q", stored.Results["t1"])
	}
	if stored.Notes[0] != "contact was ***" {
		t.Errorf("note not masked: %q", stored.Notes[0])
	}
	if stored.Decisions[0].Reason != "message mentions ***" {
		t.Errorf("decision reason not masked: %q", stored.Decisions[0].Reason)
	}
}

func TestPIIMiddlewareComposesWithEncryption(t *testing.T) {
	underlying := NewMockStore()
	masker := middleware.NewPIIMiddleware([]string{`\d{3}-\d{2}-\d{4}`})
	encryptor := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	// Mask first, then encrypt what leaves the process.
	secure := masker(encryptor(underlying))

	record := &domain.RunRecord{
		ID:      "combo-1",
		Goal:    "renew the card ending 123-45-6789",
		Status:  domain.StatusDone,
		Results: map[string]string{"t1": "done"},
	}
	ctx := context.Background()
	if err := secure.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := secure.Load(ctx, "combo-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Goal != "renew the card ending ***" {
		t.Errorf("expected masked goal after the roundtrip, got %q", loaded.Goal)
	}
}
