package services_test

import (
	"errors"
	"strings"
	"testing"

	"audiojoin/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrSpawn, "engine", "launch", "ffmpeg did not start", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrSpawn) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"engine", "launch", "ffmpeg did not start"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"validation", services.Wrap(services.ErrValidation, "session", "load", "bad id", nil), services.ErrValidation},
		{"public conflict", services.Public(services.ErrConflict, "already converting"), services.ErrConflict},
		{"nil marker defaults to runtime", services.Wrap(nil, "engine", "wait", "", errors.New("exit 1")), services.ErrRuntime},
		{"untagged", errors.New("plain"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	integrity := services.Wrap(services.ErrIntegrity, "session", "resolve", "/etc/passwd escapes root", nil)
	if got := services.PublicMessage(integrity); got != "session not found" {
		t.Fatalf("integrity message leaked: %q", got)
	}
	spawn := services.Wrap(services.ErrSpawn, "engine", "launch", "fork: resource unavailable", nil)
	if got := services.PublicMessage(spawn); strings.Contains(got, "fork") {
		t.Fatalf("spawn message leaked: %q", got)
	}
	conflict := services.Public(services.ErrConflict, "conversion already in progress")
	if got := services.PublicMessage(conflict); got != "conversion already in progress" {
		t.Fatalf("unexpected conflict message %q", got)
	}
	if got := services.PublicMessage(services.Wrap(services.ErrValidation, "", "", "x", nil)); got != "invalid request" {
		t.Fatalf("unexpected validation fallback %q", got)
	}
}
