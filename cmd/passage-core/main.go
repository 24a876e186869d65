package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/highwaypatrol/passage-core/internal/config"
	"github.com/highwaypatrol/passage-core/internal/ingest"
	"github.com/highwaypatrol/passage-core/internal/ingest/smsgateway"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	"github.com/highwaypatrol/passage-core/internal/policy"
	"github.com/highwaypatrol/passage-core/internal/runtimeEnv"
	"github.com/highwaypatrol/passage-core/internal/scanner"
	"github.com/highwaypatrol/passage-core/internal/store"
	"github.com/highwaypatrol/passage-core/pkg/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	var flagConfigFile, flagLogLevel string
	var flagLogDateTime bool
	flag.StringVar(&flagConfigFile, "config", "", "Path to a JSON config file (see internal/config/schemas)")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of: debug, info, notice, warn, err, crit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Include date/time in log output (off by default; systemd adds it)")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)
	log.SetLogDateTime(flagLogDateTime)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("main: loading .env: %s", err.Error())
	}

	config.Init(flagConfigFile)

	st, err := store.Connect(config.Keys.DBDriver, config.Keys.DB)
	if err != nil {
		log.Fatalf("main: connecting to store: %s", err.Error())
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	sc, err := scanner.New(st)
	if err != nil {
		log.Fatalf("main: building scanner: %s", err.Error())
	}
	if err := sc.Start(config.Keys.OverstayScanIntervalDuration()); err != nil {
		log.Fatalf("main: starting scanner: %s", err.Error())
	}

	scoped := policy.NewScopedStore(st)
	tokens := policy.NewTokenParser(os.Getenv("JWT_SECRET"))

	api := &ingest.API{
		Store:              scoped,
		Tokens:             tokens,
		ClockSkewTolerance: config.Keys.ClockSkewToleranceDuration(),
	}
	smsGw := &smsgateway.Gateway{
		Store:              st,
		AuthSecret:         config.Keys.SMSAuthSecret,
		PublicURL:          config.Keys.SMSWebhookURL,
		ClockSkewTolerance: config.Keys.ClockSkewToleranceDuration(),
	}

	router := mux.NewRouter()
	api.MountRoutes(router)
	smsGw.MountRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	router.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedOrigins([]string{"*"})))

	loggedRouter := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	server := &http.Server{
		Addr:         config.Keys.Addr,
		Handler:      loggedRouter,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		log.Fatalf("main: starting listener on %s: %s", config.Keys.Addr, err.Error())
	}

	if err := runtimeEnv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
		log.Fatalf("main: dropping privileges: %s", err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("main: listening on %s", config.Keys.Addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("main: server failed: %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		log.Info("main: shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("main: server shutdown: %s", err.Error())
		}
		if err := sc.Shutdown(); err != nil {
			log.Errorf("main: scanner shutdown: %s", err.Error())
		}
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Info("main: graceful shutdown complete")
}
