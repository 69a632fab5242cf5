package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	cartapp "github.com/shopkit/promoquoter/internal/cart/application"
	carthttp "github.com/shopkit/promoquoter/internal/cart/interfaces/http"
	catalogapp "github.com/shopkit/promoquoter/internal/catalog/application"
	catalogdomain "github.com/shopkit/promoquoter/internal/catalog/domain"
	catalogmysql "github.com/shopkit/promoquoter/internal/catalog/infrastructure/persistence/mysql"
	cataloghttp "github.com/shopkit/promoquoter/internal/catalog/interfaces/http"
	"github.com/shopkit/promoquoter/internal/order/domain"
	"github.com/shopkit/promoquoter/internal/order/infrastructure/messaging"
	ordermysql "github.com/shopkit/promoquoter/internal/order/infrastructure/persistence/mysql"
	promoapp "github.com/shopkit/promoquoter/internal/promotion/application"
	promodomain "github.com/shopkit/promoquoter/internal/promotion/domain"
	promomysql "github.com/shopkit/promoquoter/internal/promotion/infrastructure/persistence/mysql"
	promohttp "github.com/shopkit/promoquoter/internal/promotion/interfaces/http"
	"github.com/shopkit/promoquoter/pkg/cache"
	"github.com/shopkit/promoquoter/pkg/config"
	"github.com/shopkit/promoquoter/pkg/db"
	"github.com/shopkit/promoquoter/pkg/logger"
	"github.com/shopkit/promoquoter/pkg/metrics"
	"github.com/shopkit/promoquoter/pkg/middleware"
	"github.com/shopkit/promoquoter/pkg/mq"
	"github.com/shopkit/promoquoter/pkg/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.toml", "path to config file")
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}

	// 3. Database
	database, err := db.Init(db.Config{
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		panic(fmt.Sprintf("connect db failed: %v", err))
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&catalogdomain.Product{},
		&promodomain.Promotion{},
		&domain.Order{},
		&domain.OrderItem{},
		&domain.OrderPromotion{},
		&messaging.OutboxMessage{},
	); err != nil {
		panic(fmt.Sprintf("migrate db failed: %v", err))
	}

	// 4. Redis (optional)
	var redisCache *cache.RedisCache
	if cfg.Redis.Host != "" {
		redisCache, err = cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logger.Warn(context.Background(), "redis unavailable, product list cache disabled", "error", err)
			redisCache = nil
		}
	}

	// 5. Repositories & services
	m := metrics.New("api")

	productRepo := catalogmysql.NewProductRepository(database.DB)
	promoRepo := promomysql.NewPromotionRepository(database.DB)
	orderRepo := ordermysql.NewOrderRepository(database.DB)

	outbox := messaging.NewOutbox(database.DB)
	catalogService := catalogapp.NewCatalogService(productRepo, redisCache, outbox)
	promotionService := promoapp.NewPromotionService(promoRepo, productRepo)

	orderIDs := utils.NewOrderIDGenerator(cfg.Cart.SnowflakeNode)
	cartService := cartapp.NewCartService(
		database,
		productRepo,
		promoRepo,
		orderRepo,
		outbox,
		orderIDs,
		m,
		time.Duration(cfg.Cart.ConfirmTimeout)*time.Second,
	)

	// 6. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.GinLogging(), middleware.GinMetrics(m))

	api := r.Group("/api/v1")
	carthttp.NewHandler(cartService).RegisterRoutes(api)
	cataloghttp.NewHandler(catalogService).RegisterRoutes(api)
	promohttp.NewHandler(promotionService).RegisterRoutes(api)

	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
		sys.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "READY"}) })
	}
	r.GET("/metrics", gin.WrapH(m.Handler()))
	pp := r.Group("/debug/pprof")
	{
		pp.GET("/", gin.WrapF(pprof.Index))
		pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pp.GET("/profile", gin.WrapF(pprof.Profile))
		pp.GET("/symbol", gin.WrapF(pprof.Symbol))
		pp.GET("/trace", gin.WrapF(pprof.Trace))
	}

	// 7. Start
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	g.Go(func() error {
		logger.Info(ctx, "HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Outbox relay：仅在配置了 Kafka broker 时启动
	if len(cfg.Kafka.Brokers) > 0 {
		producer := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		defer producer.Close()

		relay := messaging.NewRelay(
			database.DB,
			producer,
			cfg.Kafka.OrderTopic,
			time.Duration(cfg.Cart.OutboxPollInterval)*time.Millisecond,
		)
		g.Go(func() error {
			err := relay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "server exited with error", "error", err)
	}
}
