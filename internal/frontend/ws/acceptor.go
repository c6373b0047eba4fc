// Package ws exposes the websocket frontend: an HTTP listener that
// upgrades connections and hands them to the connection handler.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thencandesigns/tictac/internal/broker"
	"github.com/thencandesigns/tictac/internal/config"
)

// ConnectionHandler processes a connected client until its transport
// fails or the context is cancelled.
type ConnectionHandler interface {
	Handle(ctx context.Context, t broker.Transport) error
}

// Acceptor listens for websocket upgrade requests and dispatches each
// connection to a ConnectionHandler.
type Acceptor struct {
	serverCfg config.ServerConfig
	wsCfg     config.WebsocketConfig
	handler   ConnectionHandler
	logger    *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates a websocket acceptor with the given configuration.
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(serverCfg config.ServerConfig, wsCfg config.WebsocketConfig, handler ConnectionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		serverCfg: serverCfg,
		wsCfg:     wsCfg,
		handler:   handler,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// ListenAndServe starts the HTTP listener and serves upgrade requests
// until Stop is called. This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.serverCfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.serverCfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.serverCfg.Path, a.serveUpgrade)
	srv := &http.Server{Handler: mux}

	a.mu.Lock()
	a.listener = listener
	a.httpSrv = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.serverCfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket frontend: %w", err)
	}
	return nil
}

// serveUpgrade upgrades a single HTTP request and runs the handler for
// the lifetime of the connection.
func (a *Acceptor) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	addr := r.RemoteAddr

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed",
			zap.String("remote_addr", addr),
			zap.Error(err),
		)
		return
	}

	a.logger.Info("client connected",
		zap.String("remote_addr", addr),
	)

	a.wg.Add(1)
	defer a.wg.Done()

	t := newTransport(conn, a.wsCfg)
	defer t.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Cancel context when quit signal received; closing the transport
	// unblocks any pending read in the handler.
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
		t.Close()
	}()

	if err := a.handler.Handle(ctx, t); err != nil {
		a.logger.Debug("connection ended",
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("connection ended cleanly",
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop gracefully stops the acceptor, closing the listener and waiting
// for all active connections to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false

	close(a.quit)
	if a.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.serverCfg.ShutdownTimeout)
		defer cancel()
		a.httpSrv.Shutdown(ctx)
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
