package services_test

import (
	"errors"
	"strings"
	"testing"

	"cardscan/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrStorage, "scan store", "create scan", "write image", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"scan store", "create scan", "write image"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"not found", services.Wrap(services.ErrNotFound, "scan", "get", "", nil), services.KindFixRequest},
		{"invalid transition", services.Wrap(services.ErrInvalidTransition, "scan", "status", "", nil), services.KindFixRequest},
		{"invalid state", services.Wrap(services.ErrInvalidState, "workflow", "accept", "", nil), services.KindFixRequest},
		{"nothing accepted", services.Wrap(services.ErrNothingAccepted, "commit", "", "", nil), services.KindFixRequest},
		{"refusal", services.Wrap(services.ErrRecognitionRefusal, "vision", "", "", nil), services.KindTerminal},
		{"service", services.Wrap(services.ErrRecognitionService, "vision", "", "", nil), services.KindRetry},
		{"storage", services.Wrap(services.ErrStorage, "scan", "", "", nil), services.KindRetry},
		{"commit", services.Wrap(services.ErrCommit, "commit", "", "", nil), services.KindRetry},
		{"plain", errors.New("plain"), services.KindInternal},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
	if !services.Retryable(services.Wrap(services.ErrStorage, "", "", "", nil)) {
		t.Fatal("expected storage errors to be retryable")
	}
}
