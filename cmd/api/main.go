package main

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/stock"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logging.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	lifecycle := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicLifecycle, 1024, log)
	lifecycle.Start(ctx)
	notifications := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024, log)
	notifications.Start(ctx)

	catalogRepo := &catalog.Repo{DB: db}
	products := &catalog.Cached{Next: catalogRepo, Redis: rdb, TTL: cfg.CatalogCacheTTL, Log: log}
	ledger := &stock.PGLedger{DB: db, Metrics: m}
	carts := &redisx.Carts{RDB: rdb}

	engine := orders.NewEngine(
		&orders.Repo{DB: db},
		&postgres.TxManager{DB: db},
		ledger,
		orders.Policy{
			Currency:                  cfg.Currency,
			DeliveryChargeCents:       cfg.DeliveryChargeCents,
			ReturnWindow:              cfg.ReturnWindow,
			RestockDispatchedOnCancel: cfg.RestockDispatchedOnCancel,
		},
		orders.WithNotifier(&kafkax.Notifier{Sink: notifications, Service: cfg.ServiceName}),
		orders.WithEvents(&kafkax.EventPublisher{Sink: lifecycle, Service: cfg.ServiceName}),
		orders.WithCartClearer(carts),
		orders.WithLogger(log),
		orders.WithMetrics(m),
	)

	var gateways []payment.Gateway
	if cfg.HostedA.Enabled() {
		gateways = append(gateways, payment.NewHostedA(cfg.HostedA, cfg.GatewayTimeout))
	}
	if cfg.HostedB.Enabled() {
		gateways = append(gateways, payment.NewHostedB(cfg.HostedB, cfg.GatewayTimeout))
	}
	rec := payment.NewReconciler(engine, cfg.FrontendURL, gateways...)
	rec.Dedup = &redisx.Dedup{RDB: rdb, Scope: "webhook"}
	rec.Log = log
	rec.Metrics = m

	router := httpx.NewRouter(log, m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	(&httpx.OrdersHandler{
		Orders:   engine,
		Payments: rec,
		Catalog:  products,
		Carts:    carts,
		Idem:     &redisx.Idempotency{RDB: rdb},
	}).Register(router)
	(&httpx.PaymentsHandler{Payments: rec}).Register(router)
	(&httpx.ProductsHandler{Products: catalogRepo, Ledger: ledger, Cache: products}).Register(router)
	(&httpx.NotificationsHandler{Inbox: &redisx.Inbox{RDB: rdb}}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Int("gateways", len(gateways)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// stop intake first, then let both loops flush what is buffered
	lifecycle.Close()
	notifications.Close()
	lifecycle.WaitClosed()
	notifications.WaitClosed()
	cancel()
}
