package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/stockkeeper/internal/config"
	kafkax "github.com/ariefcatur/stockkeeper/internal/kafka"
	"github.com/ariefcatur/stockkeeper/internal/logging"
	"github.com/ariefcatur/stockkeeper/internal/metrics"
	"github.com/ariefcatur/stockkeeper/internal/projector"
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
		Name:  "stockkeeper-projector",
		Usage: "keep the Redis order status projection in sync with order events",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file read before the environment"},
			&cli.StringFlag{Name: "metrics-addr", Value: ":9102", Usage: "listen address for /metrics, empty disables it"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("stockkeeper-projector")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	name := cfg.ServiceName + "-projector"
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, name)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	svc := &projector.Service{
		Status:  &redisx.StatusCache{Redis: rdb},
		Dedup:   &redisx.Dedup{Redis: rdb, Service: name},
		Metrics: metrics.NewProjectorMetrics(reg),
		Log:     logger,
	}

	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics listener")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, cfg.EventsTopic, cfg.ProjectorWorkers)
	logger.WithFields(log.Fields{"group": cfg.ProjectorGroup, "topic": cfg.EventsTopic, "workers": cfg.ProjectorWorkers}).Info("projector started")
	if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
		return err
	}
	logger.Info("projector stopped")
	return nil
}
