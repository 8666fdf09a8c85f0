package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pushrelay/pushrelay/internal/audit"
	"github.com/pushrelay/pushrelay/internal/config"
	"github.com/pushrelay/pushrelay/internal/db"
	"github.com/pushrelay/pushrelay/internal/dispatch"
	"github.com/pushrelay/pushrelay/internal/health"
	"github.com/pushrelay/pushrelay/internal/listener"
	"github.com/pushrelay/pushrelay/internal/logging"
	"github.com/pushrelay/pushrelay/internal/metrics"
	"github.com/pushrelay/pushrelay/internal/store"
	"github.com/pushrelay/pushrelay/internal/supervisor"
	"github.com/pushrelay/pushrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("pushrelay-bridge")

	shutdownTracing, err := tracing.InitTracing(ctx, "pushrelay-bridge")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Init(ctx); err != nil {
		logger.Plain().WithError(err).Fatal("store init failed")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("bridge HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("bridge HTTP server failed")
		}
	}()

	var auditPub *audit.Publisher
	if cfg.Audit.Enabled {
		auditPub, err = audit.NewPublisher(cfg.Audit.NsqdTCPAddr, cfg.Audit.Topic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("audit publisher creation failed")
		}
		defer auditPub.Stop()
		logger.Plain().WithField("topic", cfg.Audit.Topic).Info("audit feed enabled")
	}

	dispatcher := dispatch.New(cfg.Dispatch.Timeout, auditPub)
	lst := listener.New(cfg.Listener, dispatcher)
	sup := supervisor.New(st, lst.Run, cfg.Supervisor.PollInterval)

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	logger.Plain().Info("bridge service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down bridge service")
	cancel()
	<-supDone
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("bridge service stopped")
}
