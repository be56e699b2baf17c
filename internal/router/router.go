package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cvlens-pay/internal/cache"
	"github.com/cvlens-pay/internal/config"
	publichandlers "github.com/cvlens-pay/internal/http/handlers/public"
	"github.com/cvlens-pay/internal/http/response"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "cvpay"
	}
	redisClient := cache.Client()
	initiateRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:payment_initiate", redisPrefix),
		WindowSeconds: cfg.Security.InitiateRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.InitiateRateLimit.MaxRequests,
		Message:       "too many payment requests",
	}
	statusRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:payment_status", redisPrefix),
		WindowSeconds: cfg.Security.StatusRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.StatusRateLimit.MaxRequests,
		Message:       "too many status requests",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		payments := apiV1.Group("/payments")
		{
			payments.POST("/initiate", RateLimitMiddleware(redisClient, initiateRule, KeyByIP), publicHandler.InitiatePayment)
			// 网关回调不限流，重复推送由对账逻辑保证幂等
			payments.GET("/webhook", publicHandler.PaymentWebhook)
			payments.POST("/webhook", publicHandler.PaymentWebhook)
			payments.GET("/status/:order_id", RateLimitMiddleware(redisClient, statusRule, KeyByIPAndParam("order_id")), publicHandler.GetPaymentStatus)
		}
	}

	// 健康检查
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(ctx *gin.Context) {
		response.NotFound(ctx, "route not found")
	})

	return r
}
