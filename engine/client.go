package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// Config holds configuration for establishing an engine session
type Config struct {
	Endpoint          string        // IPC path, ws:// URL or http:// URL of the engine
	ConnectionTimeout time.Duration // How long to wait for the handshake, 0 = DefaultConnectionTimeout
	Log               log.Logger
	Launcher          *Launcher // Optional process to start before connecting
	LogSink           LogSink   // Optional destination for engine log notifications
}

// Client is a session with the test-execution engine.
// It is safe for concurrent use; concurrent requests are multiplexed over the one connection.
type Client struct {
	rpc      *rpc.Client
	log      log.Logger
	info     EngineInfo
	launcher *Launcher
	logSink  LogSink

	closed   atomic.Bool
	inflight sync.WaitGroup
}

// Dial connects to the engine at cfg.Endpoint, launching it first if a Launcher is configured.
// Connection attempts are retried until cfg.ConnectionTimeout elapses, after which
// ErrEngineUnreachable is returned.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("engine endpoint is required")
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	lg := cfg.Log.New("component", "engine-client", "endpoint", cfg.Endpoint)

	if cfg.Launcher != nil {
		if err := cfg.Launcher.Start(cfg.Endpoint); err != nil {
			return nil, fmt.Errorf("%w: failed to launch engine: %w", ErrEngineUnreachable, err)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	ticker := time.NewTicker(dialRetryInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		client, err := dialOnce(dialCtx, cfg, lg)
		if err == nil {
			lg.Info("Engine session established", "engine", client.info.Name, "version", client.info.Version, "attempts", attempts)
			return client, nil
		}
		if IsProtocolError(err) {
			stopLauncher(cfg.Launcher, lg)
			return nil, err
		}
		lg.Debug("Engine not ready yet", "attempt", attempts, "err", err)

		select {
		case <-dialCtx.Done():
			stopLauncher(cfg.Launcher, lg)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: no session with %s after %v (%d attempts): %w",
				ErrEngineUnreachable, cfg.Endpoint, cfg.ConnectionTimeout, attempts, err)
		case <-ticker.C:
		}
	}
}

func dialOnce(ctx context.Context, cfg Config, lg log.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	client, err := newClient(ctx, rc, lg, cfg.LogSink)
	if err != nil {
		rc.Close()
		return nil, err
	}
	client.launcher = cfg.Launcher
	return client, nil
}

// NewClient wraps an existing connection, e.g. one created with rpc.DialInProc, and performs
// the handshake. The connection is owned by the returned Client.
func NewClient(ctx context.Context, rc *rpc.Client, lg log.Logger, logSink LogSink) (*Client, error) {
	if rc == nil {
		return nil, errors.New("rpc client cannot be nil")
	}
	if lg == nil {
		lg = log.Root()
	}
	return newClient(ctx, rc, lg.New("component", "engine-client"), logSink)
}

func newClient(ctx context.Context, rc *rpc.Client, lg log.Logger, logSink LogSink) (*Client, error) {
	var info EngineInfo
	if err := rc.CallContext(ctx, &info, MethodHandshake); err != nil {
		return nil, classify("handshake", err)
	}
	if info.ProtocolVersion != ProtocolVersion {
		return nil, &ProtocolError{
			Op:     "handshake",
			Reason: fmt.Sprintf("engine speaks protocol version %d, client speaks %d", info.ProtocolVersion, ProtocolVersion),
		}
	}
	return &Client{
		rpc:     rc,
		log:     lg,
		info:    info,
		logSink: logSink,
	}, nil
}

// Info returns the engine identification received during the handshake
func (c *Client) Info() EngineInfo {
	return c.info
}

// Close tears the session down. Outstanding runs complete with ErrEngineUnreachable.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.rpc.Close()
	c.inflight.Wait()
	if c.launcher != nil {
		return c.launcher.Stop()
	}
	return nil
}

// Discover asks the engine to discover the tests contained in the given artifacts.
// It blocks until the engine sends the terminal notification, forwarding every chunk to sink.
func (c *Client) Discover(ctx context.Context, sources []string, settings string, sink DiscoverySink) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := validateSources(sources); err != nil {
		return err
	}
	if strings.TrimSpace(settings) == "" {
		return ErrEmptySettings
	}
	if sink == nil {
		return errors.New("discovery sink cannot be nil")
	}

	events := make(chan DiscoveryEvent, eventBufferSize)
	sub, err := c.rpc.Subscribe(ctx, Namespace, events, SubscriptionDiscover, DiscoverRequest{
		Sources:  sources,
		Settings: settings,
	})
	if err != nil {
		return classify("discover", err)
	}
	defer sub.Unsubscribe()

	c.log.Debug("Discovery started", "sources", len(sources))
	for {
		select {
		case ev := <-events:
			if done, err := c.discoveryEvent(ev, sink); done {
				return err
			}
		case err := <-sub.Err():
			// Notifications received before the stream failed are still delivered
			for {
				select {
				case ev := <-events:
					if done, err := c.discoveryEvent(ev, sink); done {
						return err
					}
				default:
					return c.streamEnded("discover", err)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// discoveryEvent forwards one discovery notification. done is set when discovery ended,
// successfully or with err.
func (c *Client) discoveryEvent(ev DiscoveryEvent, sink DiscoverySink) (done bool, err error) {
	switch ev.Kind {
	case EventDiscovered:
		if err := sink.HandleDiscoveredTests(ev.Tests); err != nil {
			return true, err
		}
		return false, nil
	case EventLog:
		c.handleLog(ev.Level, ev.Message)
		return false, nil
	case EventComplete:
		c.log.Debug("Discovery complete", "total", ev.TotalTests, "aborted", ev.Aborted)
		return true, sink.HandleDiscoveryComplete(ev.TotalTests, ev.Tests, ev.Aborted)
	default:
		return true, &ProtocolError{Op: "discover", Reason: fmt.Sprintf("unexpected notification kind %q", ev.Kind)}
	}
}

// RunSync runs a batch and blocks until the engine reports completion
func (c *Client) RunSync(ctx context.Context, batch types.Batch, settings string, sink ResultSink) error {
	h, err := c.RunAsync(ctx, batch, settings, sink)
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// RunAsync issues a run request and returns as soon as the engine has accepted it.
// Results are forwarded to sink from a background goroutine; the returned handle completes
// when the engine sends the terminal notification or the session fails.
func (c *Client) RunAsync(ctx context.Context, batch types.Batch, settings string, sink ResultSink) (*RunHandle, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if strings.TrimSpace(settings) == "" {
		return nil, ErrEmptySettings
	}
	if sink == nil {
		return nil, errors.New("result sink cannot be nil")
	}

	requestID := uuid.New().String()
	tests := batch.Tests
	if tests == nil {
		tests = []types.TestCase{}
	}

	events := make(chan RunEvent, eventBufferSize)
	issuedAt := time.Now()
	sub, err := c.rpc.Subscribe(ctx, Namespace, events, SubscriptionRunTests, RunTestsRequest{
		RequestID: requestID,
		Tests:     tests,
		Settings:  settings,
	})
	if err != nil {
		return nil, classify("runTests", err)
	}

	h := newRunHandle(requestID, batch.Index, issuedAt, sink)
	c.log.Debug("Run issued", "request", requestID, "batch", batch.Index, "tests", len(tests))

	c.inflight.Add(1)
	go c.pump(h, sub, events)
	return h, nil
}

// pump forwards run notifications to the handle until the run terminates
func (c *Client) pump(h *RunHandle, sub *rpc.ClientSubscription, events <-chan RunEvent) {
	defer c.inflight.Done()
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-events:
			if c.runEvent(h, ev) {
				return
			}
		case err := <-sub.Err():
			// Notifications received before the stream failed are still delivered
			for {
				select {
				case ev := <-events:
					if c.runEvent(h, ev) {
						return
					}
				default:
					err = c.streamEnded("runTests", err)
					c.log.Warn("Run stream ended", "request", h.RequestID, "batch", h.BatchIndex, "err", err)
					h.finish(err)
					return
				}
			}
		case <-h.abandoned:
			c.log.Debug("Run abandoned by caller, discarding late results", "request", h.RequestID)
			return
		}
	}
}

// runEvent forwards one run notification and reports whether the run terminated
func (c *Client) runEvent(h *RunHandle, ev RunEvent) bool {
	if ev.Kind == EventLog {
		c.handleLog(ev.Level, ev.Message)
		return false
	}
	done, err := h.dispatch(ev)
	if err != nil {
		c.log.Warn("Run failed", "request", h.RequestID, "batch", h.BatchIndex, "err", err)
		h.finish(err)
		return true
	}
	if done {
		c.log.Debug("Run complete", "request", h.RequestID, "batch", h.BatchIndex)
		h.finish(nil)
		return true
	}
	return false
}

// streamEnded maps the end of a notification stream that arrived before the terminal event
func (c *Client) streamEnded(op string, err error) error {
	if err != nil {
		return classify(op, err)
	}
	if c.closed.Load() {
		return fmt.Errorf("%w: %s: session closed", ErrEngineUnreachable, op)
	}
	return &SequenceError{Op: op, Reason: "stream closed before the terminal notification"}
}

func (c *Client) handleLog(level, message string) {
	switch level {
	case LevelError:
		c.log.Error("Engine message", "message", message)
	case LevelWarning:
		c.log.Warn("Engine message", "message", message)
	default:
		c.log.Debug("Engine message", "level", level, "message", message)
	}
	if c.logSink != nil {
		c.logSink.HandleLogMessage(level, message)
	}
}

func validateSources(sources []string) error {
	if len(sources) == 0 {
		return errors.New("at least one artifact path is required")
	}
	for i, s := range sources {
		if s == "" {
			return fmt.Errorf("artifact path at index %d is empty", i)
		}
		if strings.TrimSpace(s) != s {
			return fmt.Errorf("artifact path %q must not have surrounding whitespace", s)
		}
	}
	return nil
}
