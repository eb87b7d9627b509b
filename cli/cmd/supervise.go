package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/edgeorder/labelreader/hub"
	"github.com/edgeorder/labelreader/supervisor"
)

// SuperviseCommand returns the supervise command, the device entrypoint.
func SuperviseCommand() *cli.Command {
	return &cli.Command{
		Name:   "supervise",
		Usage:  "Run the producer and consumer workers and answer admin commands",
		Action: superviseAction,
	}
}

func superviseAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "supervisor")
	defer logger.Sync()

	executable, err := os.Executable()
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot resolve executable: %v", err), exitFatal)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers outlive the signal context so Stop can terminate them in order.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(c.Context))
	defer cancelWorkers()

	sup := supervisor.New(supervisor.Config{
		Executable:  executable,
		Args:        workerArgs(c),
		LockTimeout: cfg.Mailbox.LockTimeout.Duration,
	}, logger)

	admin := dialHub(cfg, hub.TopicAdmin, logger)
	defer admin.Close()
	admin.OnMessage(sup.HandleAdminMessage)
	if !admin.Open() {
		logger.Warn("admin channel unavailable, retrying in background", map[string]any{"url": admin.URL()})
	}
	admin.StartDispatch()

	sup.Initialize(workerCtx, admin)
	if !sup.Start() {
		return cli.Exit("failed to start workers", exitFatal)
	}

	<-ctx.Done()
	logger.Info("shutdown requested", nil)

	crashed := workerCrashed(sup)
	if err := sup.Stop(); err != nil {
		var fatal *supervisor.FatalError
		if errors.As(err, &fatal) {
			return cli.Exit(err.Error(), exitFatal)
		}
		return cli.Exit(fmt.Sprintf("shutdown failed: %v", err), exitFatal)
	}
	if crashed {
		return cli.Exit("worker crashed", exitWorkerCrash)
	}
	return nil
}

// workerCrashed reports whether a started worker exited on its own.
// Workers removed by an admin stop are not counted.
func workerCrashed(sup *supervisor.Supervisor) bool {
	for _, role := range []supervisor.Role{supervisor.RoleProducer, supervisor.RoleConsumer} {
		done := sup.Exited(role)
		if done == nil {
			continue
		}
		select {
		case <-done:
			return true
		default:
		}
	}
	return false
}
