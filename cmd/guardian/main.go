package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"guardian/internal/auth"
	"guardian/internal/config"
	"guardian/internal/database"
	"guardian/internal/incident"
	"guardian/internal/metrics"
	"guardian/internal/pipeline"
	"guardian/internal/pipeline/scorers"
	"guardian/internal/pipeline/strategies"
	"guardian/internal/services"
	"guardian/internal/ws"
)

var version = "dev"

func main() {
	var (
		hostF      = flag.String("host", "localhost", "Server host (valid values: localhost, 0.0.0.0)")
		httpPortF  = flag.String("http-port", "8080", "HTTP port")
		grpcPortF  = flag.String("grpc-port", "9090", "gRPC health port (empty disables it)")
		configF    = flag.String("config", "", "Path to the JSON config file (SIGHUP reloads it)")
		dbF        = flag.String("db", "guardian.db", "Path to the SQLite database")
		retentionF = flag.Duration("alert-retention", 30*24*time.Hour, "How long alerts are kept in the log (0 keeps them forever)")
		dbgF       = flag.Bool("debug", false, "Log request and response bodies")
		versionF   = flag.Bool("version", false, "Print the version and exit")
	)
	flag.Parse()

	if *versionF {
		fmt.Println(version)
		return
	}

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[guardian] ", log.Ltime)
	}

	store, err := newStore(*configF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	db, err := database.New(*dbF)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	authenticator, err := auth.NewAuthenticator(auth.OptionsFromEnv())
	if err != nil {
		logger.Fatalf("failed to configure authentication: %v", err)
	}

	configSvc := services.NewConfigService(store, db)
	if err := configSvc.LoadPersisted(); err != nil {
		logger.Printf("ignoring persisted configuration: %v", err)
	}

	m := metrics.NewMetrics(nil)
	manager, err := pipeline.NewManager(store, pipeline.NewEventBus(), pipeline.ManagerOptions{
		Scorers:    scorers.NewDefaultRegistry().Factory(),
		Audio:      scorers.Analyzer,
		Strategies: strategies.Factory,
		Observer:   m,
	})
	if err != nil {
		logger.Fatalf("failed to create pipeline manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sinkCfg := store.Current().Sinks
	dispatcher := incident.NewDispatcher(sinkCfg.QueueSize, m, buildSinks(sinkCfg, db, logger)...)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatalf("failed to start alert dispatcher: %v", err)
	}
	manager.SubscribeResults(pipeline.NewAlertBridge(dispatcher))

	hub := ws.NewHistoryHub()
	manager.SubscribeResults(hub)

	cameraSvc := services.NewCameraService(manager, db)
	cameraSvc.OnStop(m.ForgetCamera)
	systemSvc := services.NewSystemService(version, store, manager)
	systemSvc.SetDispatcher(dispatcher)
	systemSvc.SetClientCounter(hub)

	server := &services.Server{
		Health:        services.NewHealthService(manager, db),
		Auth:          services.NewAuthService(authenticator),
		Config:        configSvc,
		Camera:        cameraSvc,
		Alerts:        services.NewAlertsService(db),
		System:        systemSvc,
		Authenticator: authenticator,
		Metrics:       m,
		Websocket:     ws.NewHandler(hub, "/ws/history/", manager.History),
		Logger:        logger,
	}

	if n := cameraSvc.Resume(ctx); n > 0 {
		logger.Printf("resumed %d camera pipelines", n)
	}

	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	if *configF != "" {
		go watchReload(ctx, store, logger)
	}

	var wg sync.WaitGroup

	if *retentionF > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneAlerts(ctx, db, *retentionF, logger)
		}()
	}

	switch *hostF {
	case "localhost", "0.0.0.0":
		addr := fmt.Sprintf("http://%s", net.JoinHostPort(*hostF, *httpPortF))
		u, err := url.Parse(addr)
		if err != nil {
			logger.Fatalf("invalid URL %#v: %s\n", addr, err)
		}
		handleHTTPServer(ctx, u, server, &wg, errc, logger, *dbgF)

		if *grpcPortF != "" {
			handleGRPCServer(ctx, net.JoinHostPort(*hostF, *grpcPortF), manager, &wg, errc, logger)
		}

	default:
		logger.Fatalf("invalid host argument: %q (valid hosts: localhost|0.0.0.0)\n", *hostF)
	}

	logger.Printf("exiting (%v)", <-errc)

	cancel()
	wg.Wait()

	if err := manager.Close(); err != nil {
		logger.Printf("failed to close pipeline manager: %v", err)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := dispatcher.Stop(stopCtx); err != nil {
		logger.Printf("failed to stop alert dispatcher: %v", err)
	}
	logger.Println("exited")
}

func newStore(path string) (*config.Store, error) {
	if path == "" {
		return config.NewStore(nil)
	}
	return config.NewFileStore(path)
}

// buildSinks creates the configured alert sinks. The alert log is always
// written; a sink that cannot be created is logged and skipped.
func buildSinks(cfg config.SinksConfig, db *database.Database, logger *log.Logger) []incident.Sink {
	sinks := []incident.Sink{incident.NewDatabaseSink(db)}

	if cfg.IncidentURL != "" {
		if s, err := incident.NewHTTPSink(cfg.IncidentURL); err != nil {
			logger.Printf("incident sink disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		if s, err := incident.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic); err != nil {
			logger.Printf("kafka sink disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.MQTTBroker != "" {
		hostname, _ := os.Hostname()
		if s, err := incident.NewMQTTSink(cfg.MQTTBroker, cfg.MQTTTopicPrefix, "guardian-"+hostname); err != nil {
			logger.Printf("mqtt sink disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

// watchReload reloads the config file on SIGHUP
func watchReload(ctx context.Context, store *config.Store, logger *log.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	defer signal.Stop(c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c:
			if err := store.ReloadFile(); err != nil {
				logger.Printf("config reload rejected: %v", err)
			}
		}
	}
}

// pruneAlerts deletes logged alerts older than retention once an hour
func pruneAlerts(ctx context.Context, db *database.Database, retention time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if n, err := db.DeleteOldAlerts(time.Now().Add(-retention)); err != nil {
			logger.Printf("failed to prune alerts: %v", err)
		} else if n > 0 {
			logger.Printf("pruned %d alerts older than %s", n, retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
