package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvlens-pay/internal/app"
	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/provider"
	"github.com/cvlens-pay/internal/service"
)

// 补发已支付但报告未交付的订单
func main() {
	var limit int
	var includeExhausted bool
	flag.IntVar(&limit, "limit", 100, "单次最多处理的订单数")
	flag.BoolVar(&includeExhausted, "include-exhausted", false, "同时补发重试次数已用完的订单")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if err := app.InitStorage(cfg); err != nil {
		stdLog.Fatalf("%v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	container := provider.NewContainer(cfg)
	summary, err := container.DeliveryService.RedeliverPending(ctx, service.RedeliverOptions{
		Limit:            limit,
		IncludeExhausted: includeExhausted,
		Source:           constants.ReconcileSourceCLI,
	})
	if err != nil {
		stdLog.Fatalf("补发失败: %v", err)
	}
	logger.Infow("redeliver_done",
		"scanned", summary.Scanned,
		"delivered", summary.Delivered,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"exhausted", summary.Exhausted,
	)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
