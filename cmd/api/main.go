package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/stockkeeper/internal/config"
	"github.com/ariefcatur/stockkeeper/internal/httpx"
	kafkax "github.com/ariefcatur/stockkeeper/internal/kafka"
	"github.com/ariefcatur/stockkeeper/internal/logging"
	"github.com/ariefcatur/stockkeeper/internal/memstore"
	"github.com/ariefcatur/stockkeeper/internal/metrics"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/ariefcatur/stockkeeper/internal/postgres"
	"github.com/ariefcatur/stockkeeper/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	app := &cli.App{
		Name:  "stockkeeper-api",
		Usage: "orders and inventory HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file read before the environment"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "store", Value: "postgres", Usage: "postgres or memory"},
					&cli.BoolFlag{Name: "migrate", Usage: "apply migrations before serving (postgres only)"},
					&cli.BoolFlag{Name: "events", Value: true, Usage: "publish order events to kafka"},
				},
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back the database schema",
				Subcommands: []*cli.Command{
					{Name: "up", Action: func(c *cli.Context) error { return migrate(c, false) }},
					{Name: "down", Action: func(c *cli.Context) error { return migrate(c, true) }},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("stockkeeper-api")
	}
}

func migrate(c *cli.Context, down bool) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName); err != nil {
		return err
	}
	return postgres.Migrate(cfg.PostgresDSN, down)
}

func serve(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var store orders.Store
	switch c.String("store") {
	case "postgres":
		if c.Bool("migrate") {
			if err := postgres.Migrate(cfg.PostgresDSN, false); err != nil {
				return err
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		store = postgres.NewStore(db, cfg.LockTimeout)
	case "memory":
		logger.Warn("using the in-memory store, data is lost on exit")
		store = memstore.New()
	default:
		return cli.Exit("--store must be postgres or memory", 2)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.WithError(err).Warn("redis unavailable, idempotency and status cache degrade to the database")
	}

	// Kafka producer
	var pub orders.Publisher = orders.NopPublisher{}
	if c.Bool("events") {
		prodCtx, cancelProd := context.WithCancel(context.Background())
		defer cancelProd()
		prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic, 1024)
		prod.Start(prodCtx)
		defer func() {
			prod.Close() // flush what is queued
			prod.WaitClosed()
		}()
		pub = &orders.EventPublisher{Producer: prod, Service: cfg.ServiceName}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := httpx.NewRouter(httpx.Deps{
		Orders:       orders.NewService(store, pub, logger),
		Idem:         &redisx.Idempotency{Redis: rdb},
		Status:       &redisx.StatusCache{Redis: rdb},
		Server:       metrics.NewServerMetrics(reg, cfg.ServiceName),
		OrderMetrics: metrics.NewOrderMetrics(reg),
		Gatherer:     reg,
		Log:          logger,
		Timeout:      cfg.RequestTimeout,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
