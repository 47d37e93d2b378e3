package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"github.com/Lllllllleong/emailnfewarehouse/internal/services"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// WarehouseConfig names the warehouse tables.
type WarehouseConfig struct {
	ProjectID   string
	Dataset     string
	Location    string
	HeaderTable string
	LineTable   string
}

// Warehouse streams invoice rows into BigQuery and answers dedup queries.
type Warehouse struct {
	client *bigquery.Client
	config WarehouseConfig
}

// NewBigQueryClient creates a client authenticated with the given service
// account key.
func NewBigQueryClient(ctx context.Context, projectID string, credentialsJSON []byte) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	return client, nil
}

func NewWarehouse(client *bigquery.Client, config WarehouseConfig) *Warehouse {
	if config.Location != "" {
		client.Location = config.Location
	}
	return &Warehouse{client: client, config: config}
}

func (w *Warehouse) tableRef(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", w.config.ProjectID, w.config.Dataset, table)
}

func (w *Warehouse) InsertLines(ctx context.Context, lines []models.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	rows := make([]*bigquery.StructSaver, 0, len(lines))
	for i := range lines {
		rows = append(rows, &bigquery.StructSaver{
			Struct:   &lines[i],
			InsertID: fmt.Sprintf("%s-%d", lines[i].DocumentID, lines[i].LineNumber),
		})
	}
	return w.put(ctx, w.config.LineTable, rows)
}

func (w *Warehouse) InsertHeaders(ctx context.Context, headers []models.InvoiceHeader) error {
	if len(headers) == 0 {
		return nil
	}
	rows := make([]*bigquery.StructSaver, 0, len(headers))
	for i := range headers {
		rows = append(rows, &bigquery.StructSaver{
			Struct:   &headers[i],
			InsertID: headers[i].DocumentID,
		})
	}
	return w.put(ctx, w.config.HeaderTable, rows)
}

func (w *Warehouse) put(ctx context.Context, table string, rows []*bigquery.StructSaver) error {
	inserter := w.client.Dataset(w.config.Dataset).Table(table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return partialWriteError(table, err)
	}
	slog.Debug("Streamed rows into BigQuery.", "table", table, "count", len(rows))
	return nil
}

// partialWriteError converts per-row insertion errors; any other error is
// returned unchanged.
func partialWriteError(table string, err error) error {
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) {
		return err
	}
	out := &services.PartialWriteError{Table: table}
	for _, rowErr := range multi {
		row := services.RowError{RowIndex: rowErr.RowIndex}
		for _, e := range rowErr.Errors {
			row.Reasons = append(row.Reasons, e.Error())
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Exists reports whether a header with documentID has been written.
func (w *Warehouse) Exists(ctx context.Context, documentID string) (bool, error) {
	q := w.client.Query(fmt.Sprintf("SELECT COUNT(1) AS n FROM %s WHERE nfeId = @id", w.tableRef(w.config.HeaderTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: documentID}}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to query for document %s: %w", documentID, err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read dedup result for %s: %w", documentID, err)
	}
	return row.N > 0, nil
}

// Purge deletes a document so it can be imported again. The header goes
// first so a failure halfway leaves lines without a header, never the
// reverse.
func (w *Warehouse) Purge(ctx context.Context, documentID string) error {
	for _, table := range []string{w.config.HeaderTable, w.config.LineTable} {
		if err := w.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE nfeId = @id", w.tableRef(table)), documentID); err != nil {
			return fmt.Errorf("failed to purge %s from %s: %w", documentID, table, err)
		}
	}
	return nil
}

func (w *Warehouse) exec(ctx context.Context, sql, documentID string) error {
	q := w.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: documentID}}
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}
