package ws

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thencandesigns/tictac/internal/broker"
	"github.com/thencandesigns/tictac/internal/config"
)

// echoHandler writes back every frame it reads until the transport
// fails or the context is cancelled.
type echoHandler struct{}

func (echoHandler) Handle(ctx context.Context, t broker.Transport) error {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := t.WriteMessage(data); err != nil {
			return err
		}
	}
}

func testConfigs() (config.ServerConfig, config.WebsocketConfig) {
	serverCfg := config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		Path:            "/ws",
		ShutdownTimeout: 2 * time.Second,
	}
	wsCfg := config.WebsocketConfig{
		ReadLimit:     4096,
		WriteTimeout:  2 * time.Second,
		PongTimeout:   10 * time.Second,
		PingPeriod:    5 * time.Second,
		ConduitBuffer: 8,
	}
	return serverCfg, wsCfg
}

func startAcceptor(t *testing.T, handler ConnectionHandler) *Acceptor {
	t.Helper()
	serverCfg, wsCfg := testConfigs()
	a := NewAcceptor(serverCfg, wsCfg, handler, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- a.ListenAndServe() }()

	require.Eventually(t, func() bool { return a.Addr() != "" },
		2*time.Second, 10*time.Millisecond, "acceptor did not start listening")

	t.Cleanup(func() {
		a.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("ListenAndServe did not return after Stop")
		}
	})
	return a
}

func dial(t *testing.T, a *Acceptor) *websocket.Conn {
	t.Helper()
	url := "ws://" + a.Addr() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAcceptor_UpgradeAndEcho(t *testing.T) {
	a := startAcceptor(t, echoHandler{})
	conn := dial(t, a)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))
}

func TestAcceptor_MultipleClients(t *testing.T) {
	a := startAcceptor(t, echoHandler{})

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, a)
	}

	for i, conn := range conns {
		msg := []byte{'a' + byte(i)}
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, msg, data)
	}
}

func TestAcceptor_StopClosesConnections(t *testing.T) {
	serverCfg, wsCfg := testConfigs()
	a := NewAcceptor(serverCfg, wsCfg, echoHandler{}, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- a.ListenAndServe() }()
	require.Eventually(t, func() bool { return a.Addr() != "" },
		2*time.Second, 10*time.Millisecond)

	conn := dial(t, a)

	a.Stop()
	assert.False(t, a.IsRunning())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Stop")
	}

	// The client should observe the close within the read deadline.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestAcceptor_StopIdempotent(t *testing.T) {
	serverCfg, wsCfg := testConfigs()
	a := NewAcceptor(serverCfg, wsCfg, echoHandler{}, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- a.ListenAndServe() }()
	require.Eventually(t, func() bool { return a.Addr() != "" },
		2*time.Second, 10*time.Millisecond)

	a.Stop()
	a.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Stop")
	}
}

func TestAcceptor_RejectsOversizedFrames(t *testing.T) {
	serverCfg, wsCfg := testConfigs()
	wsCfg.ReadLimit = 16

	done := make(chan error, 1)
	handler := funcHandler(func(ctx context.Context, tr broker.Transport) error {
		_, err := tr.ReadMessage()
		done <- err
		return err
	})

	a := NewAcceptor(serverCfg, wsCfg, handler, zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() { errCh <- a.ListenAndServe() }()
	require.Eventually(t, func() bool { return a.Addr() != "" },
		2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		a.Stop()
		<-errCh
	})

	conn := dial(t, a)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, make([]byte, 64)))

	select {
	case err := <-done:
		assert.Error(t, err, "frames over the read limit fail the read")
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed the oversized frame")
	}
}

type funcHandler func(ctx context.Context, t broker.Transport) error

func (f funcHandler) Handle(ctx context.Context, t broker.Transport) error { return f(ctx, t) }
