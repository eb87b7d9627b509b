package cmd

import (
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/edgeorder/labelreader/hub"
	"github.com/edgeorder/labelreader/metrics"
)

// HubCommand returns the hub command, the relay between device and UIs.
func HubCommand() *cli.Command {
	return &cli.Command{
		Name:  "hub",
		Usage: "Run the websocket relay hub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides hub.listen)",
			},
			&cli.BoolFlag{
				Name:  "compression",
				Usage: "Enable per-message deflate (overrides hub.compression)",
			},
		},
		Action: hubAction,
	}
}

func hubAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("listen") {
		cfg.Hub.Listen = c.String("listen")
	}
	if c.IsSet("compression") {
		cfg.Hub.Compression = c.Bool("compression")
	}

	logger := newLogger(cfg, "hub")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archive, err := openArchive(ctx, cfg.Storage)
	if err != nil {
		return cli.Exit("open storage: "+err.Error(), exitConfigError)
	}
	defer archive.Close()

	collector := metrics.NewCollector("hub", cfg.Device.DeviceID, cfg.Device.StoreID)
	relay := hub.New(hub.Config{
		Compression: cfg.Hub.Compression,
		Archive:     archive,
		Collector:   collector,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/", relay.Handler())
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Hub.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(gctx, srv, logger) })
	if cfg.Metrics.Listen != "" && cfg.Metrics.Listen != cfg.Hub.Listen {
		msrv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serveHTTP(gctx, msrv, logger) })
	}

	if err := g.Wait(); err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	return nil
}
