package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testsplit/metrics"
)

// Config holds the listen addresses of the service endpoints. An empty address disables
// the endpoint.
type Config struct {
	HealthzAddr string
	MetricsAddr string
}

type Service struct {
	cfg     Config
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config) *Service {
	s := &Service{
		cfg:     cfg,
		Healthz: &HealthzServer{},
		Metrics: &MetricsServer{},
	}
	return s
}

// Start binds the enabled endpoints and serves them in the background
func (s *Service) Start(ctx context.Context) error {
	log.Info("service starting")

	if s.cfg.HealthzAddr != "" {
		if err := s.Healthz.Listen(ctx, s.cfg.HealthzAddr); err != nil {
			metrics.RecordErrorDetails("error starting healthz server", err)
			return err
		}
		log.Info("starting healthz server", "addr", s.Healthz.Addr())
		go func() {
			if err := s.Healthz.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("healthz server failed", "err", err)
				metrics.RecordErrorDetails("healthz server failed", err)
			}
		}()
	}

	if s.cfg.MetricsAddr != "" {
		if err := s.Metrics.Listen(ctx, s.cfg.MetricsAddr); err != nil {
			metrics.RecordErrorDetails("error starting metrics server", err)
			_ = s.Healthz.Shutdown()
			return err
		}
		log.Info("starting metrics server", "addr", s.Metrics.Addr())
		go func() {
			if err := s.Metrics.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err)
				metrics.RecordErrorDetails("metrics server failed", err)
			}
		}()
	}

	log.Info("service started")
	return nil
}

func (s *Service) Shutdown() {
	log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	log.Info("metrics stopped")

	log.Info("service stopped")
}
