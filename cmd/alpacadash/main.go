package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"alpacadash/pkg/bridge"
	"alpacadash/pkg/config"
	"alpacadash/pkg/server"
	"alpacadash/pkg/state"
	"alpacadash/pkg/syncer"
)

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
			log.Warnf("config %s not found, using defaults", path)
		default:
			return err
		}
	}

	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	} else if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if listen := c.String("listen"); listen != "" {
		cfg.Listen = listen
	}

	log.Info("Alpaca Dashboard")

	db, err := bolt.Open(cfg.Database.Path, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	repo, err := state.NewRepository(db)
	if err != nil {
		return fmt.Errorf("failed to create repository: %v", err)
	}

	sched := syncer.NewScheduler(cfg.Poll.Tick, log.WithField("component", "scheduler"))

	store := state.NewStore(state.Options{
		PollInterval:     cfg.Poll.Interval,
		Timeout:          cfg.Poll.Timeout,
		FailureThreshold: cfg.Poll.FailureThreshold,
	}, repo, sched, log.WithField("component", "store"))
	if err := store.Load(); err != nil {
		return err
	}

	srv := server.New(store, log.WithField("component", "server"))
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.AddRoutes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			log.Errorf("scheduler stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			log.Errorf("event forwarder stopped: %v", err)
		}
	}()

	if cfg.MQTT.Enabled {
		br, err := bridge.New(bridge.Config{
			Host:      cfg.MQTT.Host,
			Port:      cfg.MQTT.Port,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TopicRoot: cfg.MQTT.TopicRoot,
			QoS:       byte(cfg.MQTT.QoS),
		}, store, log.WithField("component", "mqtt"))
		if err != nil {
			return err
		}
		defer br.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := br.Run(ctx); err != nil {
				log.Errorf("mqtt bridge stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", cfg.Listen, err)
		}
	}()

	<-ctx.Done()

	log.Info("shutting down...")

	// Disconnect devices so poll tasks stop cleanly.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, d := range store.Devices() {
		if d.State == state.Connected {
			if err := store.Disconnect(shutdownCtx, d.ID); err != nil {
				log.Warnf("disconnecting %s: %v", d.Name, err)
			}
		}
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("stopped")
	return nil
}

func main() {
	app := cli.App{
		Name:  "alpacadash",
		Usage: "Observatory device dashboard backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "alpacadash.yaml",
				EnvVars: []string{"ALPACADASH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Listen address, overrides the config file",
				EnvVars: []string{"ALPACADASH_LISTEN"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
