package provider

import (
	"strings"
	"time"

	"github.com/cvlens-pay/internal/cache"
	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/constants"
	"github.com/cvlens-pay/internal/logger"
	"github.com/cvlens-pay/internal/models"
	"github.com/cvlens-pay/internal/payment"
	"github.com/cvlens-pay/internal/payment/mbway"
	"github.com/cvlens-pay/internal/payment/multibanco"
	"github.com/cvlens-pay/internal/payment/payshop"
	"github.com/cvlens-pay/internal/queue"
	"github.com/cvlens-pay/internal/report"
	"github.com/cvlens-pay/internal/repository"
	"github.com/cvlens-pay/internal/secrets"
	"github.com/cvlens-pay/internal/service"

	"github.com/shopspring/decimal"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Secrets     secrets.Provider

	// Repositories
	PaymentRecordRepo repository.PaymentRecordRepository

	// Collaborators
	Gateways        *payment.Registry
	ReportGenerator report.Generator

	// Services
	EmailService    *service.EmailService
	DeliveryService *service.DeliveryService
	PaymentService  *service.PaymentService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Secrets: secrets.ChainProvider{
			secrets.EnvProvider{Prefix: "CVPAY_SECRET_"},
			secrets.NewStaticProvider(cfg.Secrets),
		},
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化外部协作方
	c.initGateways()
	c.initReportGenerator()

	// 3. 初始化 Services
	c.initServices()

	return c
}

// NewContainerWith 使用外部构造的依赖创建容器（测试与命令行工具）
func NewContainerWith(cfg *config.Config, repo repository.PaymentRecordRepository, gateways *payment.Registry, generator report.Generator, mailer service.Mailer) *Container {
	c := &Container{
		Config:            cfg,
		Secrets:           secrets.NewStaticProvider(cfg.Secrets),
		PaymentRecordRepo: repo,
		Gateways:          gateways,
		ReportGenerator:   generator,
	}
	c.buildServices(mailer, nil)
	return c
}

func (c *Container) initRepositories() {
	if models.NormalizeDriver(c.Config.Database.Driver) == models.DriverMemory {
		logger.Warnw("provider_memory_repository_enabled", "hint", "payment records are lost on restart")
		c.PaymentRecordRepo = repository.NewMemoryPaymentRecordRepository()
		return
	}
	c.PaymentRecordRepo = repository.NewPaymentRecordRepository(models.DB)
}

func (c *Container) initGateways() {
	cfg := c.Config.Payment
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	c.Gateways = payment.NewRegistry()

	if cfg.MBWay.Enabled {
		gw, err := mbway.New(mbway.Config{
			Key:     secrets.Resolve(c.Secrets, constants.SecretMBWayKey, cfg.MBWay.Key),
			BaseURL: cfg.MBWay.BaseURL,
			Timeout: timeout,
		})
		c.registerGateway(constants.PaymentMethodMBWay, gw, err)
	}
	if cfg.Multibanco.Enabled {
		gw, err := multibanco.New(multibanco.Config{
			Key:        secrets.Resolve(c.Secrets, constants.SecretMultibancoKey, cfg.Multibanco.Key),
			BaseURL:    cfg.Multibanco.BaseURL,
			ExpiryDays: cfg.Multibanco.ExpiryDays,
			Timeout:    timeout,
		})
		c.registerGateway(constants.PaymentMethodMultibanco, gw, err)
	}
	if cfg.Payshop.Enabled {
		gw, err := payshop.New(payshop.Config{
			Key:        secrets.Resolve(c.Secrets, constants.SecretPayshopKey, cfg.Payshop.Key),
			BaseURL:    cfg.Payshop.BaseURL,
			ExpiryDays: cfg.Payshop.ExpiryDays,
			Timeout:    timeout,
		})
		c.registerGateway(constants.PaymentMethodPayshop, gw, err)
	}
	logger.Infow("provider_gateways_ready", "methods", c.Gateways.Methods())
}

// registerGateway 配置无效的网关不注册，对应支付方式返回不可用
func (c *Container) registerGateway(method string, gw payment.Gateway, err error) {
	if err != nil {
		logger.Warnw("provider_gateway_disabled", "method", method, "error", err)
		return
	}
	c.Gateways.Register(gw)
}

func (c *Container) initReportGenerator() {
	generator, err := report.NewHTTPGenerator(report.HTTPGeneratorConfig{
		URL:       c.Config.Report.GeneratorURL,
		AuthToken: secrets.Resolve(c.Secrets, constants.SecretReportToken, c.Config.Report.AuthToken),
		Timeout:   time.Duration(c.Config.Report.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Warnw("provider_report_generator_disabled", "error", err)
		return
	}
	c.ReportGenerator = generator
}

func (c *Container) initServices() {
	emailCfg := c.Config.Email
	emailCfg.Password = secrets.Resolve(c.Secrets, constants.SecretSMTPPassword, emailCfg.Password)
	c.EmailService = service.NewEmailService(&emailCfg)

	var scheduler service.DeliveryRetryScheduler
	if c.QueueClient != nil {
		scheduler = c.QueueClient
	}
	c.buildServices(c.EmailService, scheduler)
}

func (c *Container) buildServices(mailer service.Mailer, scheduler service.DeliveryRetryScheduler) {
	cfg := c.Config
	c.DeliveryService = service.NewDeliveryService(c.PaymentRecordRepo, c.ReportGenerator, mailer, scheduler, service.DeliveryOptions{
		LeaseDuration:  time.Duration(cfg.Delivery.LeaseSeconds) * time.Second,
		RetryDelay:     time.Duration(cfg.Delivery.RetryDelaySeconds) * time.Second,
		MaxRetries:     cfg.Delivery.MaxRetries,
		Subject:        cfg.Delivery.Subject,
		AttachmentName: cfg.Report.Filename,
	})

	fallbackAmount := service.DefaultFallbackAmount
	if parsed, err := decimal.NewFromString(cfg.Payment.FallbackAmount); err == nil && parsed.IsPositive() {
		fallbackAmount = parsed
	}
	var statusCache service.StatusCache
	if cache.Enabled() {
		statusCache = service.NewRedisStatusCache()
	}
	antiPhishingKey := secrets.Resolve(c.Secrets, constants.SecretAntiPhishingKey, cfg.Payment.AntiPhishingKey)
	if strings.TrimSpace(antiPhishingKey) == "" {
		logger.Warnw("provider_anti_phishing_key_missing", "hint", "all webhooks will be rejected")
	}
	c.PaymentService = service.NewPaymentService(
		c.PaymentRecordRepo,
		c.Gateways,
		service.NewPaymentInputNormalizer(fallbackAmount, cfg.Payment.Description.Default),
		mailer,
		c.DeliveryService,
		statusCache,
		service.PaymentServiceOptions{
			AntiPhishingKey:     antiPhishingKey,
			AllowFallbackAmount: cfg.Payment.AllowFallbackAmount,
			StatusCacheTTL:      time.Duration(cfg.Payment.StatusCacheSeconds) * time.Second,
		},
	)
}
