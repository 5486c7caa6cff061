package osadapt

import (
	"testing"
	"time"

	"moshvm/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogger("test", logging.LogLevelError)
}

func TestSelector_RisingEdgeWakesWaiter(t *testing.T) {
	sel := NewSelector(testLogger())
	target := sel.NewTarget(1)
	defer target.Close()

	done := make(chan []*Target, 1)
	go func() {
		done <- sel.Select([]*Target{target}, nil, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	target.UpdateRead(true)

	select {
	case ready := <-done:
		if len(ready) != 1 || ready[0] != target {
			t.Fatalf("expected [target], got %v", ready)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Select did not wake on rising edge")
	}
}

func TestSelector_AlreadyReadyReturnsImmediately(t *testing.T) {
	sel := NewSelector(testLogger())
	target := sel.NewTarget(1)
	defer target.Close()

	target.UpdateWrite(true)

	timeout := 50 * time.Millisecond
	start := time.Now()
	ready := sel.Select(nil, []*Target{target}, &timeout)
	if time.Since(start) > timeout {
		t.Fatalf("Select blocked despite already-ready target")
	}
	if len(ready) != 1 || ready[0] != target {
		t.Fatalf("expected [target], got %v", ready)
	}
}

func TestSelector_TimeoutReturnsEmpty(t *testing.T) {
	sel := NewSelector(testLogger())
	target := sel.NewTarget(1)
	defer target.Close()

	timeout := 30 * time.Millisecond
	start := time.Now()
	ready := sel.Select([]*Target{target}, nil, &timeout)
	elapsed := time.Since(start)

	if len(ready) != 0 {
		t.Fatalf("expected no ready targets, got %v", ready)
	}
	if elapsed < timeout {
		t.Fatalf("Select returned before its timeout elapsed: %v < %v", elapsed, timeout)
	}
}

func TestSelector_FallingEdgeDoesNotWake(t *testing.T) {
	sel := NewSelector(testLogger())
	target := sel.NewTarget(1)
	defer target.Close()

	target.UpdateRead(true)
	target.UpdateRead(false)

	timeout := 30 * time.Millisecond
	ready := sel.Select([]*Target{target}, nil, &timeout)
	if len(ready) != 0 {
		t.Fatalf("expected no ready targets after falling edge, got %v", ready)
	}
}

func TestSelector_CloseWithLiveTargetPanics(t *testing.T) {
	sel := NewSelector(testLogger())
	sel.NewTarget(1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected Close to panic with a live target registered")
		}
	}()
	sel.Close()
}
