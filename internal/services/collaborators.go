package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
)

// MessageSource is the inbox. Listing does not consume messages; only a
// label transition removes them from future runs.
type MessageSource interface {
	ListCandidates(ctx context.Context, label, query string, limit int) ([]models.MessageRef, error)
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	GetAttachment(ctx context.Context, messageID string, ref models.AttachmentRef) (*models.RawAttachment, error)
	TransitionLabel(ctx context.Context, messageID, fromLabel, toLabel string) error
}

// WarehouseSink writes rows. A rejection of some rows is reported as a
// *PartialWriteError.
type WarehouseSink interface {
	InsertLines(ctx context.Context, lines []models.InvoiceLine) error
	InsertHeaders(ctx context.Context, headers []models.InvoiceHeader) error
}

// DedupGuard reports whether a document is already in the warehouse.
type DedupGuard interface {
	Exists(ctx context.Context, documentID string) (bool, error)
}

// Notifier posts human-readable messages. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// ObjectStore writes immutable objects. Writing an object that already
// exists is not an error.
type ObjectStore interface {
	SaveObject(ctx context.Context, objectName, contentType string, data []byte) error
}

// Archiver keeps a copy of admitted source documents.
type Archiver interface {
	ArchiveDocument(ctx context.Context, documentID string, data []byte) error
}

// AttachmentHandler deals with non-XML attachments such as DANFE PDFs.
type AttachmentHandler interface {
	Accepts(filename string) bool
	Handle(ctx context.Context, messageID, filename string, data []byte) error
}

// RunLock guards a key against overlapping runs.
type RunLock interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) error
	Release(ctx context.Context, key, holder string) error
}

// RunLedger records the progress of each run.
type RunLedger interface {
	Record(ctx context.Context, run models.Run) error
}

// ErrRunLocked means another run currently holds the inbox lease.
var ErrRunLocked = errors.New("another run holds the inbox lease")

// ErrBudgetExceeded marks a run that stopped early. It is never returned as a failure.
var ErrBudgetExceeded = errors.New("processing budget exceeded")

// TransportError wraps a failed call to an external collaborator.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RowError is one row rejected by the warehouse.
type RowError struct {
	RowIndex int
	Reasons  []string
}

// PartialWriteError reports that the warehouse rejected some rows of a batch.
type PartialWriteError struct {
	Table string
	Rows  []RowError
}

func (e *PartialWriteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d row(s) rejected by %s", len(e.Rows), e.Table)
	for i, r := range e.Rows {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Rows)-i)
			break
		}
		fmt.Fprintf(&b, "; row %d: %s", r.RowIndex, strings.Join(r.Reasons, ", "))
	}
	return b.String()
}
