package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"phonesim/cache"
	"phonesim/config"
	"phonesim/engine"
	"phonesim/logging"
	"phonesim/messaging"
	"phonesim/partners"
	"phonesim/simclock"
	"phonesim/store"
	"phonesim/www"

	"github.com/sirupsen/logrus"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "phonesim.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("phonesim", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(&cfg.Logging)

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.SeedCatalog(ctx, &cfg.Catalog); err != nil {
		cancel()
		log.Fatalf("seed catalog: %v", err)
	}
	cancel()
	log.Infof("phonesim: database open (%s)", cfg.Database.Driver)

	// Redis
	ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
	redisClient, err := cache.Connect(ctx, &cfg.Redis)
	cancel()
	switch {
	case err != nil:
		log.Warnf("phonesim: redis not available (%v), running without cache", err)
	case redisClient != nil:
		log.Infof("phonesim: redis connected (%s)", cfg.Redis.Address)
		defer redisClient.Close()
	}

	// Partners
	p := cfg.Partners
	suppliers := map[string]partners.Supplier{}
	for name, url := range map[string]string{
		"screens":     p.ScreensURL,
		"cases":       p.CasesURL,
		"electronics": p.ElectronicsURL,
	} {
		s, err := partners.NewSupplierClient(name, url, p.Timeout)
		if err != nil {
			log.Fatalf("supplier %s: %v", name, err)
		}
		suppliers[name] = s
	}

	// Messaging
	publisher, err := messaging.NewPublisher(&cfg.Messaging, log)
	if err != nil {
		log.Warnf("phonesim: messaging unavailable (%v), events stay in the outbox", err)
	}
	if publisher != nil {
		defer publisher.Close()
		drainer := messaging.NewOutboxDrainer(db, publisher, cfg.Messaging.OutboxDrainInterval, log)
		drainer.Start()
		defer drainer.Stop()
	}

	// Engine
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Clock:     simclock.New(cfg.Simulation.DayLength),
		Partners: engine.Partners{
			Bank:            partners.NewBankClient(p.BankURL, p.Timeout),
			Suppliers:       suppliers,
			BulkCarrier:     partners.NewBulkCarrierClient(p.BulkLogisticsURL, p.Timeout),
			ConsumerCarrier: partners.NewConsumerCarrierClient(p.ConsumerLogisticsURL, p.Timeout),
			MachineVendor:   partners.NewMachineVendorClient(p.MachineVendorURL, p.Timeout),
		},
		Redis: redisClient,
		Log:   log,
	})
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Open(ctx); err != nil {
		cancel()
		log.Fatalf("open engine: %v", err)
	}
	cancel()
	defer eng.Close()

	// Web server
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           www.NewRouter(eng, &cfg.Web, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("phonesim: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Infof("phonesim %s: ready", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("phonesim: shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("phonesim: web shutdown: %v", err)
	}
	log.Info("phonesim: stopped")
}
