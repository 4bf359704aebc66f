package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesByCode(t *testing.T) {
	sentinel := NewError("ledger", "INSUFFICIENT_BALANCE", "insufficient balance")
	wrapped := fmt.Errorf("%w: have 1, need 2", sentinel)
	if !errors.Is(wrapped, sentinel) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if !errors.Is(NewError("ledger", "INSUFFICIENT_BALANCE", "other text"), sentinel) {
		t.Fatalf("expected equal codes to match")
	}
	if errors.Is(NewError("lending", "INSUFFICIENT_BALANCE", "x"), sentinel) {
		t.Fatalf("expected different modules not to match")
	}
	if got := Code(wrapped); got != "INSUFFICIENT_BALANCE" {
		t.Fatalf("unexpected code %q", got)
	}
	if got := Code(fmt.Errorf("call: %w", ErrModulePaused)); got != CodePaused {
		t.Fatalf("unexpected paused code %q", got)
	}
	if got := Code(errors.New("plain")); got != "" {
		t.Fatalf("expected empty code, got %q", got)
	}
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	p := pauseMap{"lending": true}
	if err := Guard(p, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(p, "ledger"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPausesToggle(t *testing.T) {
	p := NewPauses("Lending")
	if !p.IsPaused("lending") {
		t.Fatalf("expected lending paused")
	}
	p.Set("lending", false)
	if p.IsPaused("lending") {
		t.Fatalf("expected lending resumed")
	}
	var nilPauses *Pauses
	if nilPauses.IsPaused("ledger") {
		t.Fatalf("nil pauses must report unpaused")
	}
}
