package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not complete in time")
		return nil
	}
}

func TestNewHandler(t *testing.T) {
	h := NewHandler(5 * time.Second)
	defer h.Trigger()

	if h.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", h.timeout)
	}
	select {
	case <-h.Done():
		t.Error("Done channel should not be closed initially")
	case <-h.Context().Done():
		t.Error("Context should not be cancelled initially")
	default:
	}
}

func TestHandler_Trigger_RunsHooksInReverse(t *testing.T) {
	h := NewHandler(5 * time.Second)

	var mu sync.Mutex
	var callOrder []int
	for i := 1; i <= 3; i++ {
		h.OnShutdown(func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("hook context has no deadline")
			}
			mu.Lock()
			callOrder = append(callOrder, i)
			mu.Unlock()
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait() }()
	h.Trigger()

	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(callOrder) != 3 || callOrder[0] != 3 || callOrder[1] != 2 || callOrder[2] != 1 {
		t.Errorf("hooks called in wrong order: %v, want [3 2 1]", callOrder)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done channel should be closed after Wait completes")
	}
}

func TestHandler_Wait_WithSignal(t *testing.T) {
	h := NewHandler(5 * time.Second)

	called := make(chan struct{}, 1)
	h.OnShutdown(func(context.Context) error {
		called <- struct{}{}
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait() }()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Wait() returned error: %v", err)
	}
	select {
	case <-called:
	default:
		t.Error("hook was not called")
	}
	if h.Context().Err() == nil {
		t.Error("Context should be cancelled after a signal")
	}
}

func TestHandler_Wait_HookError(t *testing.T) {
	h := NewHandler(5 * time.Second)
	expectedErr := errors.New("hook error")

	var ranFirst bool
	h.OnShutdown(func(context.Context) error {
		ranFirst = true
		return nil
	})
	h.OnShutdown(func(context.Context) error { return expectedErr })

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait() }()
	h.Trigger()

	if err := waitResult(t, errCh); !errors.Is(err, expectedErr) {
		t.Errorf("Wait() returned %v, want %v", err, expectedErr)
	}
	if !ranFirst {
		t.Error("hooks after a failing hook must still run")
	}
}

func TestHandler_ConcurrentOnShutdown(t *testing.T) {
	h := NewHandler(5 * time.Second)
	defer h.Trigger()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.OnShutdown(func(context.Context) error { return nil })
		}()
	}
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.hooks) != 10 {
		t.Errorf("expected 10 hooks, got %d", len(h.hooks))
	}
}
