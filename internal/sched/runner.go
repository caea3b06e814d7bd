// Package sched schedules classification runs and drives them end to
// end: catalog resolution, source reconciliation, chunk scanning.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piisentry/scanner/internal/archive"
	"github.com/piisentry/scanner/internal/classify"
	"github.com/piisentry/scanner/internal/config"
	"github.com/piisentry/scanner/internal/connector"
	"github.com/piisentry/scanner/internal/controlplane"
	"github.com/piisentry/scanner/internal/diff"
	"github.com/piisentry/scanner/internal/scan"
	"github.com/piisentry/scanner/internal/schema"
	"github.com/piisentry/scanner/internal/secrets"
	"github.com/piisentry/scanner/internal/worker"
)

// Runner executes classification cycles. One runner serves the whole
// process; its worker pool bounds scan concurrency across cycles.
type Runner struct {
	client   *controlplane.Client
	settings *config.Settings
	cache    *archive.Cache
	pool     *worker.Pool
	scanner  *scan.Scanner
	crypt    *secrets.Encryptor
	log      *slog.Logger
}

// NewRunner wires a runner.
func NewRunner(client *controlplane.Client, settings *config.Settings, cache *archive.Cache,
	pool *worker.Pool, scanner *scan.Scanner, crypt *secrets.Encryptor, log *slog.Logger) *Runner {
	return &Runner{
		client:   client,
		settings: settings,
		cache:    cache,
		pool:     pool,
		scanner:  scanner,
		crypt:    crypt,
		log:      log,
	}
}

// RunClassification drives one full scan cycle for a classification:
// resolve the classifier catalog, reconcile every source, scan the
// resulting work set, and stamp the completion time. Per-source failures
// are logged and skipped so one broken source cannot starve the rest.
func (r *Runner) RunClassification(ctx context.Context, cls schema.Classification) error {
	defer r.cache.Clean()

	log := r.log.With("classification", cls.ID, "name", cls.Name)
	log.Info("classification cycle starting")

	classifiers, err := r.client.Classifiers(ctx)
	if err != nil {
		return fmt.Errorf("fetch classifiers: %w", err)
	}
	filter, err := classify.NewFilenameFilter(classifiers)
	if err != nil {
		return err
	}
	var opts []classify.Option
	if cls.NERDisabled {
		opts = append(opts, classify.WithoutNER())
	}
	pipeline, err := classify.NewPipeline(classifiers, opts...)
	if err != nil {
		return err
	}
	catalogAt := schema.CatalogStamp(classifiers)

	sources := cls.DataSources
	if len(sources) == 0 {
		sources, err = r.client.ClassificationSources(ctx, cls.ID)
		if err != nil {
			return fmt.Errorf("fetch sources: %w", err)
		}
	}
	accounts, err := r.client.CloudAccounts(ctx, cls.Service)
	if err != nil {
		return fmt.Errorf("fetch cloud accounts: %w", err)
	}

	for _, source := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.runSource(ctx, cls, source, accounts, pipeline, filter, catalogAt, false)
		if err != nil {
			log.Warn("source cycle failed", "source", source.Key(), "error", err)
		}
	}

	log.Info("classification cycle done")
	return r.client.UpdateLastScanned(ctx, cls.ID, time.Now().UTC())
}

// RunRescan re-scans chunks whose catalog stamp predates the current
// classifier catalog. The entity model stays off; rescan only chases
// pattern changes.
func (r *Runner) RunRescan(ctx context.Context, classifications []schema.Classification) error {
	defer r.cache.Clean()

	classifiers, err := r.client.Classifiers(ctx)
	if err != nil {
		return fmt.Errorf("fetch classifiers: %w", err)
	}
	catalogAt := schema.CatalogStamp(classifiers)
	if catalogAt.IsZero() {
		return nil
	}
	pipeline, err := classify.NewPipeline(classifiers, classify.WithoutNER())
	if err != nil {
		return err
	}

	for _, cls := range classifications {
		sources := cls.DataSources
		if len(sources) == 0 {
			sources, err = r.client.ClassificationSources(ctx, cls.ID)
			if err != nil {
				r.log.Warn("fetch sources failed", "classification", cls.ID, "error", err)
				continue
			}
		}
		accounts, err := r.client.CloudAccounts(ctx, cls.Service)
		if err != nil {
			return fmt.Errorf("fetch cloud accounts: %w", err)
		}
		for _, source := range sources {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := r.runRescanSource(ctx, cls, source, accounts, pipeline, catalogAt)
			if err != nil {
				r.log.Warn("rescan source failed", "source", source.Key(), "error", err)
			}
		}
	}
	return nil
}

// runSource reconciles one source and scans its wait-for-scan chunks.
func (r *Runner) runSource(ctx context.Context, cls schema.Classification, source schema.SourceInput,
	accounts []schema.CloudAccount, pipeline *classify.Pipeline, filter *classify.FilenameFilter,
	catalogAt time.Time, rescan bool) error {

	conn, err := r.connect(ctx, source, accounts)
	if errors.Is(err, connector.ErrNotEnabled) {
		r.log.Info("service not enabled, skipping", "source", source.Key())
		return nil
	}
	if err != nil {
		return err
	}

	d := diff.New(r.client, conn, filter, r.accountID(cls), r.log)
	chunks, err := d.Reconcile(ctx, cls, source)
	if err != nil {
		return err
	}
	r.scanChunks(ctx, chunks, conn, pipeline, catalogAt, rescan)
	return nil
}

// runRescanSource skips reconciliation and scans the control plane's
// stale-catalog candidates directly.
func (r *Runner) runRescanSource(ctx context.Context, cls schema.Classification, source schema.SourceInput,
	accounts []schema.CloudAccount, pipeline *classify.Pipeline, catalogAt time.Time) error {

	conn, err := r.connect(ctx, source, accounts)
	if errors.Is(err, connector.ErrNotEnabled) {
		return nil
	}
	if err != nil {
		return err
	}
	chunks, err := r.client.RescanCandidates(ctx, r.accountID(cls), source.Key(), catalogAt)
	if err != nil {
		return err
	}
	r.scanChunks(ctx, chunks, conn, pipeline, catalogAt, true)
	return nil
}

func (r *Runner) scanChunks(ctx context.Context, chunks []schema.Chunk, conn connector.Connector,
	pipeline *classify.Pipeline, catalogAt time.Time, rescan bool) {
	for _, ch := range chunks {
		job := scan.Job{
			Chunk:     ch,
			Conn:      conn,
			Pipeline:  pipeline,
			Rescan:    rescan,
			CatalogAt: catalogAt,
		}
		r.pool.Submit(ctx, func(ctx context.Context) error {
			return r.scanner.Process(ctx, job)
		})
	}
	r.pool.Drain()
}

// connect builds and verifies a connector for the source, matching it
// with the cloud account that owns it.
func (r *Runner) connect(ctx context.Context, source schema.SourceInput, accounts []schema.CloudAccount) (connector.Connector, error) {
	account := r.pickAccount(source, accounts)
	conn, err := connector.New(ctx, source, account, connector.Deps{
		Settings: r.settings,
		Cache:    r.cache,
		Log:      r.log,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.SourceConfiguration(ctx); err != nil {
		return nil, fmt.Errorf("source configuration %s: %w", source.Key(), err)
	}
	return conn, nil
}

// pickAccount matches a source to its credential payload: the account
// that owns it, else the first for the service, else the zero account,
// which lets AWS connectors fall back to the default credential chain.
func (r *Runner) pickAccount(source schema.SourceInput, accounts []schema.CloudAccount) schema.CloudAccount {
	var fallback schema.CloudAccount
	found := false
	for _, a := range accounts {
		if a.Service != source.Service {
			continue
		}
		if a.AccountID == source.SourceOwner {
			return r.decryptAccount(a)
		}
		if !found {
			fallback, found = a, true
		}
	}
	if found {
		return r.decryptAccount(fallback)
	}
	return schema.CloudAccount{}
}

// decryptAccount unwraps the credential fields. Fields that fail to
// decrypt pass through untouched; the test control plane serves them in
// the clear.
func (r *Runner) decryptAccount(a schema.CloudAccount) schema.CloudAccount {
	a.AccessKey = r.decryptField(a.AccessKey)
	a.SecretKey = r.decryptField(a.SecretKey)
	a.Session = r.decryptField(a.Session)
	a.Password = r.decryptField(a.Password)
	return a
}

func (r *Runner) decryptField(v string) string {
	if v == "" {
		return v
	}
	plain, err := r.crypt.Decrypt(v)
	if err != nil {
		return v
	}
	return string(plain)
}

// accountID picks the metadata owner for control-plane filters.
func (r *Runner) accountID(cls schema.Classification) string {
	if cls.AccountID != "" {
		return cls.AccountID
	}
	return r.settings.CustomerAccountID
}
