package faults

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestConnectionErrorChain(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Connection("dial", "127.0.0.1:6501", io.EOF))
	if !IsConnection(err) {
		t.Fatalf("expected connection error: %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected cause to be preserved: %v", err)
	}
	if Connection("dial", "x", nil) != nil {
		t.Fatalf("nil cause must yield nil error")
	}
}

func TestTimeoutIsDistinct(t *testing.T) {
	err := fmt.Errorf("approach: %w", Timeout("AutoApproach", 2*time.Second))
	if !IsTimeout(err) {
		t.Fatalf("expected timeout: %v", err)
	}
	if IsConnection(err) {
		t.Fatalf("timeout must not classify as connection error")
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.After != 2*time.Second {
		t.Fatalf("unexpected timeout detail: %+v", te)
	}
}

func TestConfigError(t *testing.T) {
	err := Config("controller.max_cycles", "must be positive")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig")
	}
	if err.Error() != "config controller.max_cycles: must be positive" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
