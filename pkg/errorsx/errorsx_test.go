package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := Wrap(base, ReasonSynthConnect)
	if Reason(err) != ReasonSynthConnect {
		t.Fatalf("expected synth_connect, got %q", Reason(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to unwrap to base")
	}
}

func TestWrapKeepsFirstReason(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonConsumerSend)
	err = Wrap(err, ReasonSynthSend)
	if Reason(err) != ReasonConsumerSend {
		t.Fatalf("expected first reason preserved, got %q", Reason(err))
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonConfigInvalid)
	outer := fmt.Errorf("text ingest: %w", err)
	if !HasReason(outer, ReasonConfigInvalid) {
		t.Fatalf("expected config_invalid through fmt wrapping, got %q", Reason(outer))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonSynthSend) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil error")
	}
}
