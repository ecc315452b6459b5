package faults_test

import (
	"errors"
	"testing"

	"murmur/internal/faults"
)

var errMarker = errors.New("marker")

func TestWrapTagsWithMarker(t *testing.T) {
	cause := errors.New("boom")
	err := faults.Wrap(errMarker, "feed", "toggle like", "request failed", cause)
	if !errors.Is(err, errMarker) {
		t.Fatalf("expected marker to be detectable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be detectable, got %v", err)
	}
	want := "marker: feed: toggle like: request failed: boom"
	if err.Error() != want {
		t.Fatalf("unexpected message: got %q want %q", err.Error(), want)
	}
}

func TestWrapWithoutCauseOrMarker(t *testing.T) {
	err := faults.Wrap(errMarker, "session", "sign in", "", nil)
	if err.Error() != "marker: session: sign in" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	err = faults.Wrap(nil, "", "", "", nil)
	if err.Error() != "operation failed" {
		t.Fatalf("unexpected fallback message: %q", err.Error())
	}
}
