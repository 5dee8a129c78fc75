package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Handler handles graceful shutdown.
type Handler struct {
	timeout time.Duration
	hooks   []func(context.Context) error
	mu      sync.Mutex
	done    chan struct{}
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sigCh  chan os.Signal
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used to report signals and hook failures.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a new shutdown handler and starts listening for
// termination signals.
func NewHandler(timeout time.Duration, opts ...Option) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		timeout: timeout,
		hooks:   make([]func(context.Context) error, 0),
		done:    make(chan struct{}),
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(h)
	}

	signal.Notify(h.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-h.sigCh:
			h.logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return h
}

// OnShutdown registers a shutdown hook.
// Hooks are called in reverse order of registration.
func (h *Handler) OnShutdown(hook func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// Context returns a context that is cancelled once shutdown starts.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Trigger starts shutdown without a signal, for example after a fatal
// server error.
func (h *Handler) Trigger() {
	h.cancel()
}

// Wait blocks until shutdown starts, then executes the hooks. Every hook
// runs even if an earlier one fails; the failures are joined.
func (h *Handler) Wait() error {
	<-h.ctx.Done()
	signal.Stop(h.sigCh)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := make([]func(context.Context) error, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			h.logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}

	close(h.done)
	return errors.Join(errs...)
}

// Done returns a channel that closes when shutdown is complete.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
