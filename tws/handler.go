package tws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/ridge/harbor/handler"
	"github.com/ridge/harbor/tcontext"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/zap"
)

// Handler is a leaf of a handler tree running a WebSocket session for every
// request asking for a WebSocket upgrade. Other requests are left unhandled.
//
// Stopping the handler closes the running sessions.
type Handler struct {
	handler.Base

	config    Config
	sessionFn SessionFn

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sessions atomic.Int64
}

// NewHandler creates a Handler
func NewHandler(config Config, sessionFn SessionFn) *Handler {
	return &Handler{config: config, sessionFn: sessionFn}
}

// Start starts accepting sessions
func (h *Handler) Start(ctx context.Context) error {
	return h.Base.Machine.Start(ctx, func(ctx context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.ctx, h.cancel = tcontext.Detach(ctx)
		return nil
	})
}

// Stop closes the running sessions and waits for them to finish
func (h *Handler) Stop(ctx context.Context) error {
	return h.Base.Machine.Stop(ctx, func(ctx context.Context) error {
		h.mu.Lock()
		cancel := h.cancel
		h.ctx, h.cancel = nil, nil
		h.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		h.wg.Wait()
		return nil
	})
}

// Sessions returns the number of running sessions
func (h *Handler) Sessions() int {
	return int(h.sessions.Load())
}

// Handle implements handler.Handler
func (h *Handler) Handle(target string, base *handler.Request, w http.ResponseWriter, r *http.Request) error {
	if !websocket.IsWebSocketUpgrade(r) {
		return nil
	}

	h.mu.Lock()
	running := h.ctx
	if running != nil {
		h.wg.Add(1)
	}
	h.mu.Unlock()
	if running == nil {
		return nil
	}
	defer h.wg.Done()

	base.SetHandled(true)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(running, cancel)
	defer stop()

	h.sessions.Add(1)
	defer h.sessions.Add(-1)

	ctx = tlog.With(ctx, zap.String("endpoint", base.Endpoint()), zap.String("target", target))
	err := Serve(w, r.WithContext(ctx), h.config, h.sessionFn)
	tlog.Get(ctx).Info("WebSocket disconnected", zap.Error(err))
	return nil
}

// Echo is a session function sending every incoming message back
func Echo(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			select {
			case outgoing <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
