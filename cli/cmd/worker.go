package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/edgeorder/labelreader/cli/config"
	"github.com/edgeorder/labelreader/hub"
	"github.com/edgeorder/labelreader/inference"
	"github.com/edgeorder/labelreader/log"
	"github.com/edgeorder/labelreader/mailbox"
	"github.com/edgeorder/labelreader/metrics"
	"github.com/edgeorder/labelreader/pipeline"
	"github.com/edgeorder/labelreader/producer"
	"github.com/edgeorder/labelreader/supervisor"
)

// ProducerCommand returns the producer worker command. It is started by
// the supervisor, which owns its stdin and stdout.
func ProducerCommand() *cli.Command {
	return &cli.Command{
		Name:    string(supervisor.RoleProducer),
		Aliases: []string{"produce"},
		Usage:   "Frame provider worker (started by supervise)",
		Hidden:  true,
		Action:  producerAction,
	}
}

// ConsumerCommand returns the consumer worker command.
func ConsumerCommand() *cli.Command {
	return &cli.Command{
		Name:    string(supervisor.RoleConsumer),
		Aliases: []string{"consume"},
		Usage:   "Label pipeline worker (started by supervise)",
		Hidden:  true,
		Action:  consumerAction,
	}
}

// abort escalates an unrecoverable worker error to the supervisor.
func abort(logger *log.Logger, err error) error {
	logger.Error("worker failed", map[string]any{"error": err.Error()})
	if killErr := supervisor.AbortParent(); killErr != nil {
		logger.Error("could not signal supervisor", map[string]any{"error": killErr.Error()})
	}
	return cli.Exit(err.Error(), exitWorkerCrash)
}

func workerContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
}

func producerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "producer")
	defer logger.Sync()

	ctx, stop := workerContext(c)
	defer stop()

	source, err := producer.NewDirSource(cfg.Camera.Source, *cfg.Camera.Loop)
	if err != nil {
		return abort(logger, err)
	}
	defer source.Close()

	video := dialHub(cfg, hub.TopicVideo, logger)
	defer video.Close()
	video.Open()
	video.StartDispatch()

	p, err := producer.New(producer.Config{
		FrameRate: cfg.Camera.FrameRate,
		QueueFPS:  cfg.Producer.QueueFPS,
		UIFPS:     cfg.Producer.UIFPS,
	}, source, mailbox.NewClient(os.Stdin, os.Stdout), video, logger)
	if err != nil {
		return abort(logger, err)
	}
	if err := p.Run(ctx); err != nil {
		return abort(logger, err)
	}
	return nil
}

func consumerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "consumer")
	defer logger.Sync()

	ctx, stop := workerContext(c)
	defer stop()

	orch, collector, cleanup, err := buildPipeline(ctx, cfg, mailbox.NewClient(os.Stdin, os.Stdout), logger)
	if err != nil {
		return abort(logger, err)
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           collector.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serveHTTP(gctx, srv, logger) })
	}

	if err := g.Wait(); err != nil {
		return abort(logger, err)
	}
	return nil
}

// buildPipeline wires the orchestrator and every collaborator from cfg.
// cleanup releases network clients and storage.
func buildPipeline(ctx context.Context, cfg *config.Config, box mailbox.Box, logger *log.Logger) (*pipeline.Orchestrator, *metrics.Collector, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*pipeline.Orchestrator, *metrics.Collector, func(), error) {
		cleanup()
		return nil, nil, nil, err
	}

	collector := metrics.NewCollector("consumer", cfg.Device.DeviceID, cfg.Device.StoreID)

	detector, err := inference.NewHTTPDetector(cfg.Detection.Endpoint, cfg.Detection.Timeout.Duration)
	if err != nil {
		return fail(err)
	}

	ext, err := buildExtractor(ctx, cfg.Extraction)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = ext.Close() })

	narr, err := buildNarrator(cfg.Narration)
	if err != nil {
		return fail(err)
	}

	identity, err := pipeline.NewIdentityStrategy(cfg.Extraction.IdentityStrategy)
	if err != nil {
		return fail(err)
	}

	archive, err := openArchive(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	closers = append(closers, func() { _ = archive.Close() })

	bus, err := buildBus(cfg.Bus)
	if err != nil {
		return fail(fmt.Errorf("event bus: %w", err))
	}
	if bus != nil {
		closers = append(closers, func() { _ = bus.Close() })
	}

	status := dialHub(cfg, hub.TopicStatus, logger)
	orders := dialHub(cfg, hub.TopicOrderInfo, logger)
	closers = append(closers, func() { _ = status.Close() }, func() { _ = orders.Close() })
	status.Open()
	status.StartDispatch()
	orders.Open()
	orders.StartDispatch()

	notifier := pipeline.NotifierConfig{
		DeviceID:  cfg.Device.DeviceID,
		StoreID:   cfg.Device.StoreID,
		Mirror:    bus,
		Collector: collector,
		Logger:    logger,
	}

	orch, err := pipeline.New(pipeline.Config{
		DeviceID: cfg.Device.DeviceID,
		StoreID:  cfg.Device.StoreID,
		Gate: pipeline.GateConfig{
			ThresholdLow:   cfg.Detection.ThresholdLow,
			ThresholdLabel: cfg.Detection.ThresholdLabel,
			SkipFrame:      cfg.Detection.FeatureSkipFrame,
			SkipCount:      cfg.Detection.SkipFrameCount,
		},
		Validator: pipeline.Validator{
			Threshold: cfg.Extraction.ConfidenceThreshold,
			Required:  pipeline.RequiredFor(identity),
		},
	}, pipeline.Deps{
		Mailbox:   box,
		Detector:  detector,
		Extractor: ext,
		Narrator:  narr,
		Identity:  identity,
		Cache:     pipeline.NewDuplicateCache(cfg.Dedup.TTL.Duration, cfg.Dedup.Capacity),
		Sampler:   pipeline.NewSampler(cfg.Diagnostics.UploadsPerHour),
		Archive:   archive,
		Status:    pipeline.NewStatusNotifier(status, notifier),
		Orders:    pipeline.NewOrderNotifier(orders, notifier),
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}
	return orch, collector, cleanup, nil
}
