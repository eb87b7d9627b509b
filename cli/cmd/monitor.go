package cmd

import (
	"io"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/edgeorder/labelreader/cli/tui"
)

// MonitorCommand returns the monitor command.
func MonitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Watch live status and order events in a terminal UI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "hub-url",
				Usage: "Hub base URL (overrides hub.url)",
			},
			&cli.IntFlag{
				Name:  "history",
				Usage: "Number of events kept on screen",
				Value: tui.DefaultHistory,
			},
		},
		Action: monitorAction,
	}
}

func monitorAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	hubURL := cfg.Hub.URL
	if c.IsSet("hub-url") {
		hubURL = c.String("hub-url")
	}

	// Logs would corrupt the alternate screen.
	logger := newLogger(cfg, "monitor").WithOutput(io.Discard)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tui.RunMonitor(ctx, tui.MonitorConfig{
		HubURL:            hubURL,
		DeviceID:          cfg.Device.DeviceID,
		History:           c.Int("history"),
		ReconnectInterval: cfg.Channel.ReconnectInterval.Duration,
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	return nil
}
