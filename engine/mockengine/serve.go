package mockengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
)

// NewServer creates a JSON-RPC server exposing the engine
func NewServer(e *Engine) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(engine.Namespace, &api{e: e}); err != nil {
		return nil, fmt.Errorf("failed to register engine api: %w", err)
	}
	return srv, nil
}

// InProc serves the engine in-process and returns a client connected to it.
// Stopping the returned server drops the connection.
func InProc(e *Engine) (*rpc.Client, *rpc.Server, error) {
	srv, err := NewServer(e)
	if err != nil {
		return nil, nil, err
	}
	return rpc.DialInProc(srv), srv, nil
}

// Serve serves the engine on endpoint until ctx is done.
// ws:// endpoints are served over websocket, anything else is treated as a unix socket path.
func Serve(ctx context.Context, e *Engine, endpoint string) error {
	srv, err := NewServer(e)
	if err != nil {
		return err
	}
	defer srv.Stop()

	if strings.HasPrefix(endpoint, "ws://") {
		return serveWebsocket(ctx, e, srv, endpoint)
	}
	return serveIPC(ctx, e, srv, endpoint)
}

func serveWebsocket(ctx context.Context, e *Engine, srv *rpc.Server, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid websocket endpoint %s: %w", endpoint, err)
	}
	httpSrv := &http.Server{
		Addr:              u.Host,
		Handler:           srv.WebsocketHandler([]string{"*"}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Info("Mock engine listening", "endpoint", endpoint)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func serveIPC(ctx context.Context, e *Engine, srv *rpc.Server, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	defer os.Remove(path)

	e.log.Info("Mock engine listening", "endpoint", path)
	go func() {
		_ = srv.ServeListener(l)
	}()

	<-ctx.Done()
	return l.Close()
}
