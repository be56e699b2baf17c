package app

import (
	"context"
	"testing"

	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/payment"
	"github.com/cvlens-pay/internal/provider"
	"github.com/cvlens-pay/internal/repository"
)

func newTestContainer(cfg *config.Config) *provider.Container {
	return provider.NewContainerWith(cfg, repository.NewMemoryPaymentRecordRepository(), payment.NewRegistry(), nil, nil)
}

func TestBuildRunnerAllModeSkipsWorkerWhenQueueDisabled(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: "0", Mode: "debug"}}
	runner, err := buildRunnerWithContainer(cfg, ModeAll, newTestContainer(cfg))
	if err != nil {
		t.Fatalf("build runner failed: %v", err)
	}
	if len(runner.services) != 1 || runner.services[0].Name() != "http" {
		t.Fatalf("expected only http service, got %d", len(runner.services))
	}
}

func TestBuildRunnerWorkerModeRequiresQueue(t *testing.T) {
	cfg := &config.Config{}
	if _, err := buildRunnerWithContainer(cfg, ModeWorker, newTestContainer(cfg)); err == nil {
		t.Fatalf("expected error when queue disabled in worker mode")
	}
}

func TestBuildRunnerRejectsUnknownMode(t *testing.T) {
	cfg := &config.Config{}
	if _, err := buildRunnerWithContainer(cfg, "cron", newTestContainer(cfg)); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

type stubService struct {
	name    string
	stopped bool
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *stubService) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

func TestRunnerStopsServicesOnCancel(t *testing.T) {
	svc := &stubService{name: "stub"}
	runner := NewRunner(svc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = runner.Run(ctx, 0, nil)
	if !svc.stopped {
		t.Fatalf("expected service to be stopped")
	}
}
