// Package app builds every client once and hands them to the services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/emailnfewarehouse/internal/config"
	"github.com/Lllllllleong/emailnfewarehouse/internal/gcp"
	"github.com/Lllllllleong/emailnfewarehouse/internal/notify"
	"github.com/Lllllllleong/emailnfewarehouse/internal/services"
)

// App holds the wired collaborators of one process.
type App struct {
	Config    *config.Config
	Ingestor  *services.IngestorFunction
	Mailbox   *gcp.Mailbox
	Warehouse *gcp.Warehouse
	Ledger    *gcp.RunLedger

	closers []func() error
}

// New loads secrets and creates the Gmail, BigQuery, Firestore, Storage and
// Slack clients. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	secrets, err := gcp.NewSecretStore(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, secrets.Close)

	gmailKey, err := secrets.Access(ctx, cfg.SecretGmailAccount)
	if err != nil {
		return nil, err
	}
	warehouseKey, err := secrets.Access(ctx, cfg.SecretWarehouseAccount)
	if err != nil {
		return nil, err
	}
	slackToken, err := secrets.Access(ctx, cfg.SecretSlackToken)
	if err != nil {
		return nil, err
	}

	gmailSvc, err := gcp.NewGmailService(ctx, gmailKey, cfg.GmailUser)
	if err != nil {
		return nil, err
	}
	a.Mailbox = gcp.NewMailbox(gmailSvc, cfg.RequestsPerSecond)

	bq, err := gcp.NewBigQueryClient(ctx, cfg.WarehouseProject, warehouseKey)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, bq.Close)
	a.Warehouse = gcp.NewWarehouse(bq, gcp.WarehouseConfig{
		ProjectID:   cfg.WarehouseProject,
		Dataset:     cfg.WarehouseDataset,
		Location:    cfg.WarehouseLocation,
		HeaderTable: cfg.InvoiceTable,
		LineTable:   cfg.InvoiceLineTable,
	})

	fs, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, fs.Close)
	a.Ledger = gcp.NewRunLedger(fs, cfg.RunsCollection)

	deps := services.IngestorDeps{
		Source:   a.Mailbox,
		Sink:     a.Warehouse,
		Dedup:    a.Warehouse,
		Notifier: notify.NewSlack(strings.TrimSpace(string(slackToken)), cfg.SlackChannel),
		Lock:     gcp.NewLeaseLock(fs, cfg.LocksCollection),
		Ledger:   a.Ledger,
	}

	if cfg.XMLBucket != "" {
		sc, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		a.closers = append(a.closers, sc.Close)
		store := gcp.NewBucketStore(sc, cfg.XMLBucket)
		deps.Archiver = services.NewXMLArchive(store)
		deps.Handlers = []services.AttachmentHandler{services.NewDanfeHandler(store)}
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a.Ingestor, err = services.NewIngestor(services.IngestorConfig{
		LabelInQueue:     cfg.LabelInQueue,
		LabelDone:        cfg.LabelDone,
		Query:            cfg.Query,
		MaxMessages:      cfg.MaxMessages,
		FetchConcurrency: cfg.FetchConcurrency,
		ProcessingBudget: cfg.ProcessingBudget,
		RunLockTTL:       cfg.RunLockTTL,
		Location:         loc,
	}, deps)
	if err != nil {
		return nil, err
	}

	slog.Info("Email NFe warehouse initialized.",
		"warehouseProject", cfg.WarehouseProject,
		"dataset", cfg.WarehouseDataset,
		"archiveBucket", cfg.XMLBucket,
	)
	return a, nil
}

// Close releases every client, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
