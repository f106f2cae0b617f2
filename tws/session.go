package tws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/parallel"
)

// Message is a text or binary WebSocket message
type Message struct {
	Binary bool
	Data   []byte
}

func (m Message) messageType() int {
	if m.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

const closeTimeout = time.Second

// session pumps messages between a WebSocket connection and a session
// function
type session struct {
	ws     *websocket.Conn
	config Config

	// pings sent minus pongs received
	unanswered atomic.Int64
}

func newSession(ws *websocket.Conn, config Config) *session {
	if config.ReadLimit > 0 {
		ws.SetReadLimit(config.ReadLimit)
	}
	s := &session{ws: ws, config: config}
	if config.RequirePong {
		ws.SetPongHandler(func(string) error {
			s.unanswered.Add(-1)
			return nil
		})
	}
	return s
}

// run executes fn until either side closes the connection. A nil error from
// fn ends the session with a normal closure frame.
func (s *session) run(ctx context.Context, fn SessionFn) error {
	tlog.Get(ctx).Info("WebSocket established")

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		incoming := make(chan Message)
		outgoing := make(chan Message)

		spawn("session", parallel.Continue, func(ctx context.Context) error {
			defer close(outgoing)
			return fn(ctx, incoming, outgoing)
		})
		spawn("receiver", parallel.Continue, func(ctx context.Context) error {
			defer close(incoming)
			return s.receive(ctx, incoming)
		})
		spawn("sender", parallel.Exit, func(ctx context.Context) error {
			return s.send(outgoing)
		})
		spawn("closer", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			if err := s.ws.Close(); err != nil && !isCloseNotifyError(err) {
				return err
			}
			return ctx.Err()
		})
		return nil
	})
}

func (s *session) receive(ctx context.Context, incoming chan<- Message) error {
	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.As(err, &closeErr):
				return nil
			default:
				return err
			}
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			return fmt.Errorf("unexpected WebSocket message type %d", mt)
		}
		select {
		case incoming <- Message{Binary: mt == websocket.BinaryMessage, Data: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// send is the only writer of the connection: gorilla/websocket does not
// allow concurrent writes, pings included
func (s *session) send(outgoing <-chan Message) error {
	var ticks <-chan time.Time
	if s.config.PingInterval != 0 {
		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	for {
		select {
		case msg, ok := <-outgoing:
			if !ok {
				closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = s.ws.WriteControl(websocket.CloseMessage, closing, time.Now().Add(closeTimeout))
				return nil
			}
			if err := s.ws.WriteMessage(msg.messageType(), msg.Data); err != nil {
				return err
			}
		case <-ticks:
			// proxies drop connections without traffic despite TCP keep-alive
			if s.config.RequirePong && s.unanswered.Add(1) > 1 {
				return errors.New("WebSocket ping timeout")
			}
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// isCloseNotifyError matches the error crypto/tls returns when the peer
// closed the connection first. It has no sentinel.
func isCloseNotifyError(err error) bool {
	return strings.Contains(err.Error(), "failed to send closeNotify alert (but connection was closed anyway)")
}
