// Package app is the composition root: it binds configuration, identity,
// telemetry, the control-plane client and the schedulers into one
// running agent.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/piisentry/scanner/internal/archive"
	"github.com/piisentry/scanner/internal/config"
	"github.com/piisentry/scanner/internal/controlplane"
	"github.com/piisentry/scanner/internal/scan"
	"github.com/piisentry/scanner/internal/sched"
	"github.com/piisentry/scanner/internal/secrets"
	"github.com/piisentry/scanner/internal/telemetry"
	"github.com/piisentry/scanner/internal/version"
	"github.com/piisentry/scanner/internal/worker"
)

// Run starts the agent and blocks until a termination signal arrives.
// Shutdown is graceful: schedulers stop firing, workers finish the
// chunks they hold, and the control plane keeps everything else.
func Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load()
	if err != nil {
		return err
	}
	if err := settings.ResolveScannerID(ctx); err != nil {
		return fmt.Errorf("resolve scanner id: %w", err)
	}
	if err := settings.SampleDiskSpace(); err != nil {
		return fmt.Errorf("sample disk space: %w", err)
	}

	log := telemetry.NewLogger(settings.ScannerID)
	log.Info("agent starting", "version", version.Current, "workers", settings.MaxScanWorkers)

	shutdownTracing, err := telemetry.Init(ctx, version.AppName, version.Current, settings.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	client := controlplane.New(settings, log)
	defer client.Close()

	if err := client.RegisterScanner(ctx, controlplane.ScannerRecord{
		InstanceID: settings.ScannerID,
		AccountID:  settings.CustomerAccountID,
		Version:    version.Current,
	}); err != nil {
		return fmt.Errorf("register scanner: %w", err)
	}

	cache := archive.NewCache(settings.UploadedFilesFolder, settings.InitialDiskSpace)
	crypt := secrets.New(settings.SecretToken, settings.EncryptIterations)
	pool := worker.NewPool(settings.MaxScanWorkers, settings.IsTest(), log)
	pool.Start(ctx)
	scanner := scan.New(client, settings.ScannerID, log)
	runner := sched.NewRunner(client, settings, cache, pool, scanner, crypt, log)

	scheduler, err := sched.New(runner, client, settings, log)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("agent stopping")

	if err := scheduler.Shutdown(); err != nil {
		log.Warn("scheduler shutdown", "error", err)
	}
	pool.Stop()
	return nil
}
