package mockengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/infra/op-testsplit/engine"
	"github.com/ethereum-optimism/infra/op-testsplit/types"
)

// api is the JSON-RPC service registered under engine.Namespace
type api struct {
	e *Engine
}

// Handshake identifies the engine
func (a *api) Handshake(ctx context.Context) (engine.EngineInfo, error) {
	return engine.EngineInfo{
		Name:            DefaultName,
		Version:         DefaultVersion,
		ProtocolVersion: a.e.cfg.ProtocolVersion,
	}, nil
}

// Discover streams the tests of the requested sources
func (a *api) Discover(ctx context.Context, req engine.DiscoverRequest) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	if strings.TrimSpace(req.Settings) == "" {
		return nil, errors.New("settings must not be empty")
	}
	sub := notifier.CreateSubscription()

	tests, missing := a.e.discover(req.Sources)
	chunkSize := a.e.cfg.ChunkSize

	go func() {
		send := func(ev engine.DiscoveryEvent) {
			if err := notifier.Notify(sub.ID, ev); err != nil {
				a.e.log.Debug("Failed to deliver discovery notification", "err", err)
			}
		}
		for _, source := range missing {
			send(engine.DiscoveryEvent{
				Kind:    engine.EventLog,
				Level:   engine.LevelWarning,
				Message: fmt.Sprintf("no tests found in %s", source),
			})
		}

		// Everything but the last chunk is streamed, the last chunk rides on the terminal event
		remaining := tests
		for len(remaining) > chunkSize {
			send(engine.DiscoveryEvent{Kind: engine.EventDiscovered, Tests: remaining[:chunkSize]})
			remaining = remaining[chunkSize:]
		}
		if remaining == nil {
			remaining = []types.TestCase{}
		}
		send(engine.DiscoveryEvent{
			Kind:       engine.EventComplete,
			Tests:      remaining,
			TotalTests: int64(len(tests)),
		})
	}()

	return sub, nil
}

// RunTests accepts a run request. Results are streamed once the physical run executes.
func (a *api) RunTests(ctx context.Context, req engine.RunTestsRequest) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	if strings.TrimSpace(req.Settings) == "" {
		return nil, errors.New("settings must not be empty")
	}
	if req.RequestID == "" {
		return nil, errors.New("request id must not be empty")
	}

	sub := notifier.CreateSubscription()
	a.e.enqueue(&runRequest{req: req, notifier: notifier, sub: sub})
	return sub, nil
}
