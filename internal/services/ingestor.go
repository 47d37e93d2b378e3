package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"github.com/Lllllllleong/emailnfewarehouse/internal/nfe"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// IngestorConfig holds configuration for the ingestion run.
type IngestorConfig struct {
	LabelInQueue     string
	LabelDone        string
	Query            string
	MaxMessages      int
	FetchConcurrency int
	ProcessingBudget time.Duration
	RunLockTTL       time.Duration
	Location         *time.Location
}

// IngestorDeps are the collaborators of the ingestion run. Archiver,
// Handlers, Lock and Ledger are optional.
type IngestorDeps struct {
	Source   MessageSource
	Sink     WarehouseSink
	Dedup    DedupGuard
	Notifier Notifier
	Archiver Archiver
	Handlers []AttachmentHandler
	Lock     RunLock
	Ledger   RunLedger

	// Now and NewRunID default to time.Now and uuid.NewString.
	Now      func() time.Time
	NewRunID func() string
}

// IngestorFunction moves fiscal documents from the inbox to the warehouse.
// It assumes it is the only run active for its in-queue label; the optional
// RunLock enforces that.
type IngestorFunction struct {
	source   MessageSource
	sink     WarehouseSink
	dedup    DedupGuard
	notifier Notifier
	archiver Archiver
	handlers []AttachmentHandler
	lock     RunLock
	ledger   RunLedger
	parser   *nfe.Parser
	now      func() time.Time
	newRunID func() string
	config   IngestorConfig
}

// NewIngestor creates a new IngestorFunction instance.
func NewIngestor(config IngestorConfig, deps IngestorDeps) (*IngestorFunction, error) {
	if deps.Source == nil || deps.Sink == nil || deps.Dedup == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("NewIngestor: source, sink, dedup and notifier are required")
	}
	if config.LabelInQueue == "" || config.LabelDone == "" {
		return nil, fmt.Errorf("NewIngestor: in-queue and done labels are required")
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = 20
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = 1
	}
	if config.ProcessingBudget <= 0 {
		config.ProcessingBudget = 30 * time.Second
	}
	if config.RunLockTTL <= 0 {
		config.RunLockTTL = 5 * time.Minute
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	f := &IngestorFunction{
		source:   deps.Source,
		sink:     deps.Sink,
		dedup:    deps.Dedup,
		notifier: deps.Notifier,
		archiver: deps.Archiver,
		handlers: deps.Handlers,
		lock:     deps.Lock,
		ledger:   deps.Ledger,
		parser:   nfe.NewParser(),
		now:      deps.Now,
		newRunID: deps.NewRunID,
		config:   config,
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.newRunID == nil {
		f.newRunID = uuid.NewString
	}
	return f, nil
}

// batch accumulates everything one run admits.
type batch struct {
	headers     []models.InvoiceHeader
	lines       []models.InvoiceLine
	suppliers   []string
	supplierSet map[string]struct{}
	seen        map[string]struct{}

	// Suppliers admitted per message, for failure reports.
	messageSuppliers map[string][]string

	iterated   []string
	held       []string
	duplicates int
	skipped    int
	failed     int

	budgetExceeded bool
}

func newBatch() *batch {
	return &batch{
		supplierSet:      make(map[string]struct{}),
		seen:             make(map[string]struct{}),
		messageSuppliers: make(map[string][]string),
	}
}

func (b *batch) add(messageID string, rec *nfe.Record) {
	b.headers = append(b.headers, rec.Header)
	b.lines = append(b.lines, rec.Lines...)
	b.seen[rec.Header.DocumentID] = struct{}{}

	name := rec.Header.SupplierDisplayName
	if name == "" {
		name = rec.Header.SupplierID
	}
	if name == "" {
		return
	}
	b.messageSuppliers[messageID] = append(b.messageSuppliers[messageID], name)
	if _, ok := b.supplierSet[name]; !ok {
		b.supplierSet[name] = struct{}{}
		b.suppliers = append(b.suppliers, name)
	}
}

func (b *batch) suppliersOf(messageIDs []string) []string {
	set := make(map[string]struct{})
	var out []string
	for _, id := range messageIDs {
		for _, s := range b.messageSuppliers[id] {
			if _, ok := set[s]; !ok {
				set[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	return out
}

// Process runs one fetch, iterate, write, acknowledge cycle.
func (f *IngestorFunction) Process(ctx context.Context) (*models.RunSummary, error) {
	start := f.now()
	runID := f.newRunID()
	batchSeq := nfe.BatchSequence(start, f.config.Location)
	deadline := start.Add(f.config.ProcessingBudget)

	logCtx := slog.With("runId", runID, "batchSequence", nfe.FormatBatchSequence(batchSeq))
	summary := &models.RunSummary{RunID: runID, BatchSequence: batchSeq, Suppliers: []string{}}

	if f.lock != nil {
		if err := f.lock.Acquire(ctx, f.config.LabelInQueue, runID, f.config.RunLockTTL); err != nil {
			if errors.Is(err, ErrRunLocked) {
				logCtx.Info("Another run holds the inbox lease. Skipping.", "error", err)
				return summary, err
			}
			logCtx.Error("Failed to acquire run lock", "error", err)
			return summary, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer f.releaseLock(ctx, logCtx, runID)
	}

	run := models.Run{RunID: runID, BatchSequence: batchSeq, CreatedAt: start}
	f.record(ctx, logCtx, &run, models.RunStatusRunning, "")

	// --- 1. Fetch candidate messages ---
	messages, held, err := f.fetch(ctx, logCtx)
	if err != nil {
		f.record(ctx, logCtx, &run, models.RunStatusFailed, err.Error())
		return summary, err
	}
	summary.MessagesCandidate = len(messages) + len(held)
	if len(messages) == 0 {
		logCtx.Info("No messages in queue.", "unreadable", len(held))
		summary.ElapsedSeconds = f.now().Sub(start).Seconds()
		f.record(ctx, logCtx, &run, models.RunStatusDone, "")
		return summary, nil
	}

	// --- 2. Iterate within the processing budget ---
	b := f.iterate(ctx, logCtx, messages, deadline, batchSeq)
	b.held = append(b.held, held...)

	summary.MessagesProcessed = len(b.iterated)
	summary.DocumentsImported = len(b.headers)
	summary.DocumentsDuplicate = b.duplicates
	summary.DocumentsSkipped = b.skipped
	summary.DocumentsFailed = b.failed
	summary.Suppliers = append(summary.Suppliers, b.suppliers...)
	summary.BudgetExceeded = b.budgetExceeded
	run.MessagesProcessed = summary.MessagesProcessed
	run.DocumentsImported = summary.DocumentsImported
	run.DocumentsDuplicate = summary.DocumentsDuplicate
	run.Suppliers = summary.Suppliers
	run.BudgetExceeded = summary.BudgetExceeded

	// --- 3. Write lines, then headers ---
	f.record(ctx, logCtx, &run, models.RunStatusWriting, "")
	if err := f.write(ctx, logCtx, b); err != nil {
		summary.WriteFailed = true
		summary.ElapsedSeconds = f.now().Sub(start).Seconds()
		f.record(ctx, logCtx, &run, models.RunStatusFailed, err.Error())
		f.notifier.Notify(ctx, writeFailureText(summary))
		return summary, err
	}

	// --- 4. Acknowledge what was iterated ---
	f.record(ctx, logCtx, &run, models.RunStatusAcknowledging, "")
	failed := f.acknowledge(ctx, logCtx, b.iterated)
	summary.AcknowledgeFailures = len(failed)
	summary.ElapsedSeconds = f.now().Sub(start).Seconds()

	// --- 5. Report ---
	f.notifier.Notify(ctx, summaryText(summary))
	if len(failed) > 0 {
		err := fmt.Errorf("%d message(s) could not be acknowledged", len(failed))
		f.record(ctx, logCtx, &run, models.RunStatusFailed, err.Error())
		f.notifier.Notify(ctx, acknowledgeFailureText(summary, b.suppliersOf(failed)))
		return summary, err
	}
	f.record(ctx, logCtx, &run, models.RunStatusDone, "")
	logCtx.Info("Run complete.",
		"messagesProcessed", summary.MessagesProcessed,
		"documentsImported", summary.DocumentsImported,
		"documentsDuplicate", summary.DocumentsDuplicate,
		"heldMessages", len(b.held),
		"elapsedSeconds", summary.ElapsedSeconds,
	)
	return summary, nil
}

// fetch lists candidates and loads each message concurrently. Messages that
// cannot be loaded are returned as held ids and stay in the queue.
func (f *IngestorFunction) fetch(ctx context.Context, logCtx *slog.Logger) ([]*models.Message, []string, error) {
	refs, err := f.source.ListCandidates(ctx, f.config.LabelInQueue, f.config.Query, f.config.MaxMessages)
	if err != nil {
		logCtx.Error("Failed to list candidate messages", "error", err)
		return nil, nil, &TransportError{Op: "list messages", Err: err}
	}
	logCtx.Info("Listed candidate messages.", "count", len(refs))

	results := make([]*models.Message, len(refs))
	var g errgroup.Group
	g.SetLimit(f.config.FetchConcurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			msg, err := f.source.GetMessage(ctx, ref.ID)
			if err != nil {
				logCtx.Error("Failed to load message, leaving it in queue.", "messageId", ref.ID, "error", err)
				return nil
			}
			if msg.ThreadID == "" {
				msg.ThreadID = ref.ThreadID
			}
			results[i] = msg
			return nil
		})
	}
	_ = g.Wait()

	var (
		messages []*models.Message
		held     []string
	)
	for i, msg := range results {
		if msg == nil {
			held = append(held, refs[i].ID)
			continue
		}
		messages = append(messages, msg)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].ThreadID != messages[j].ThreadID {
			return messages[i].ThreadID < messages[j].ThreadID
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, held, nil
}

// iterate processes messages in order until the deadline passes. The check
// is cooperative: it runs between messages and never interrupts one.
func (f *IngestorFunction) iterate(ctx context.Context, logCtx *slog.Logger, messages []*models.Message, deadline time.Time, batchSeq float64) *batch {
	b := newBatch()
	for i, msg := range messages {
		if !f.now().Before(deadline) {
			b.budgetExceeded = true
			logCtx.Warn("Processing budget exceeded, leaving remaining messages for the next run.",
				"error", ErrBudgetExceeded, "processed", i, "remaining", len(messages)-i)
			break
		}
		if err := ctx.Err(); err != nil {
			logCtx.Warn("Context cancelled, stopping iteration.", "error", err, "processed", i)
			break
		}
		f.processMessage(ctx, logCtx, msg, b, batchSeq)
	}
	return b
}

func (f *IngestorFunction) processMessage(ctx context.Context, logCtx *slog.Logger, msg *models.Message, b *batch, batchSeq float64) {
	msgLog := logCtx.With("messageId", msg.ID, "threadId", msg.ThreadID)
	held := false
	for _, att := range msg.Attachments {
		attLog := msgLog.With("attachment", att.Filename)
		if err := f.processAttachment(ctx, attLog, msg, att, b, batchSeq); err != nil {
			held = true
			attLog.Error("Transport failure, message stays in queue.", "error", err)
		}
	}
	if held {
		b.held = append(b.held, msg.ID)
		return
	}
	b.iterated = append(b.iterated, msg.ID)
}

// processAttachment returns an error only for transport failures; every
// other problem is logged and counted here.
func (f *IngestorFunction) processAttachment(ctx context.Context, log *slog.Logger, msg *models.Message, att models.AttachmentRef, b *batch, batchSeq float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic while processing attachment", "panic", r)
			b.failed++
			err = nil
		}
	}()

	isXML := strings.HasSuffix(strings.ToLower(att.Filename), ".xml")
	handler := f.handlerFor(att.Filename)
	if !isXML && handler == nil {
		log.Debug("Ignoring attachment.")
		return nil
	}

	raw, err := f.source.GetAttachment(ctx, msg.ID, att)
	if err != nil {
		return &TransportError{Op: "get attachment", Err: err}
	}
	data, err := nfe.DecodeAttachment(raw.EncodedBody)
	if err != nil {
		log.Error("Failed to decode attachment", "error", err)
		if isXML {
			b.failed++
		}
		return nil
	}

	if !isXML {
		if err := handler.Handle(ctx, msg.ID, att.Filename, data); err != nil {
			log.Warn("Attachment handler failed", "error", err)
		}
		return nil
	}
	return f.admit(ctx, log, msg.ID, att.Filename, data, b, batchSeq)
}

func (f *IngestorFunction) admit(ctx context.Context, log *slog.Logger, messageID, filename string, data []byte, b *batch, batchSeq float64) error {
	doc, err := f.parser.Parse(data, messageID+"/"+filename)
	if err != nil {
		log.Error("Skipping unparseable attachment", "error", err)
		b.failed++
		return nil
	}

	rec, kind, err := nfe.ExtractDocument(doc, log)
	switch {
	case errors.Is(err, nfe.ErrNotAdmissible):
		log.Info("Document not admissible, skipping.", "kind", kind.String(), "reason", err.Error())
		b.skipped++
		return nil
	case err != nil:
		log.Error("Failed to extract document", "kind", kind.String(), "error", err)
		b.failed++
		return nil
	}

	id := rec.Header.DocumentID
	log = log.With("documentId", id, "kind", kind.String())
	if _, ok := b.seen[id]; ok {
		log.Info("Document already admitted in this run, skipping.")
		b.duplicates++
		return nil
	}
	exists, err := f.dedup.Exists(ctx, id)
	if err != nil {
		return &TransportError{Op: "dedup check", Err: err}
	}
	if exists {
		log.Info("Document already in warehouse, skipping.")
		b.duplicates++
		return nil
	}

	rec.Stamp(batchSeq)
	b.add(messageID, rec)
	log.Info("Document admitted.", "lines", len(rec.Lines), "supplier", rec.Header.SupplierDisplayName)

	if f.archiver != nil {
		if err := f.archiver.ArchiveDocument(ctx, id, data); err != nil {
			log.Warn("Failed to archive document", "error", err)
		}
	}
	return nil
}

func (f *IngestorFunction) handlerFor(filename string) AttachmentHandler {
	for _, h := range f.handlers {
		if h.Accepts(filename) {
			return h
		}
	}
	return nil
}

func (f *IngestorFunction) write(ctx context.Context, logCtx *slog.Logger, b *batch) error {
	if len(b.headers) == 0 && len(b.lines) == 0 {
		logCtx.Info("Nothing to write.")
		return nil
	}
	if err := validateBatch(b.headers, b.lines); err != nil {
		logCtx.Error("Refusing to write inconsistent batch", "error", err, "headers", b.headers)
		return err
	}

	if err := f.sink.InsertLines(ctx, b.lines); err != nil {
		return f.writeError(logCtx, "invoice lines", err)
	}
	logCtx.Info("Inserted invoice lines.", "count", len(b.lines))

	if err := f.sink.InsertHeaders(ctx, b.headers); err != nil {
		return f.writeError(logCtx, "invoice headers", err)
	}
	logCtx.Info("Inserted invoice headers.", "count", len(b.headers))
	return nil
}

func (f *IngestorFunction) writeError(logCtx *slog.Logger, what string, err error) error {
	var partial *PartialWriteError
	if errors.As(err, &partial) {
		for _, row := range partial.Rows {
			logCtx.Error("Warehouse rejected row", "table", partial.Table, "row", row.RowIndex, "reasons", row.Reasons)
		}
		logCtx.Error("Partial failure writing "+what, "error", err)
		return fmt.Errorf("failed to insert %s: %w", what, err)
	}
	logCtx.Error("Failed to write "+what, "error", err)
	return &TransportError{Op: "insert " + what, Err: err}
}

// validateBatch enforces that every header has an id and at least one line,
// and that every line points at a header of the same batch.
func validateBatch(headers []models.InvoiceHeader, lines []models.InvoiceLine) error {
	lineCount := make(map[string]int, len(headers))
	for i, h := range headers {
		if h.DocumentID == "" {
			return fmt.Errorf("header %d has an empty document id", i)
		}
		lineCount[h.DocumentID] = 0
	}
	for i, l := range lines {
		if _, ok := lineCount[l.DocumentID]; !ok {
			return fmt.Errorf("line %d references unknown document %q", i, l.DocumentID)
		}
		lineCount[l.DocumentID]++
	}
	for _, h := range headers {
		if lineCount[h.DocumentID] == 0 {
			return fmt.Errorf("document %q has no lines", h.DocumentID)
		}
	}
	return nil
}

// acknowledge moves iterated messages to the done label and returns the ids
// that failed. Failures are not retried here.
func (f *IngestorFunction) acknowledge(ctx context.Context, logCtx *slog.Logger, messageIDs []string) []string {
	var (
		mu     sync.Mutex
		failed []string
		g      errgroup.Group
	)
	g.SetLimit(f.config.FetchConcurrency)
	for _, id := range messageIDs {
		id := id
		g.Go(func() error {
			if err := f.source.TransitionLabel(ctx, id, f.config.LabelInQueue, f.config.LabelDone); err != nil {
				logCtx.Error("Failed to acknowledge message", "messageId", id, "error", err)
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(failed)
	logCtx.Info("Acknowledged messages.", "count", len(messageIDs)-len(failed), "failed", len(failed))
	return failed
}

func (f *IngestorFunction) releaseLock(ctx context.Context, logCtx *slog.Logger, runID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := f.lock.Release(releaseCtx, f.config.LabelInQueue, runID); err != nil {
		logCtx.Error("Failed to release run lock", "error", err)
	}
}

func (f *IngestorFunction) record(ctx context.Context, logCtx *slog.Logger, run *models.Run, status, errDetails string) {
	run.Status = status
	run.ErrorDetails = errDetails
	run.UpdatedAt = f.now()
	if f.ledger == nil {
		return
	}
	if err := f.ledger.Record(ctx, *run); err != nil {
		logCtx.Error("CRITICAL: Failed to record run status.", "status", status, "updateError", err)
	}
}

func summaryText(s *models.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NFe import %s: %d document(s) imported from %d message(s) in %.1fs.",
		nfe.FormatBatchSequence(s.BatchSequence), s.DocumentsImported, s.MessagesProcessed, s.ElapsedSeconds)
	if len(s.Suppliers) > 0 {
		fmt.Fprintf(&b, " Suppliers: %s.", strings.Join(s.Suppliers, ", "))
	}
	if s.DocumentsDuplicate > 0 {
		fmt.Fprintf(&b, " %d duplicate(s) skipped.", s.DocumentsDuplicate)
	}
	if s.DocumentsFailed > 0 {
		fmt.Fprintf(&b, " %d document(s) could not be read, see logs.", s.DocumentsFailed)
	}
	if s.BudgetExceeded {
		b.WriteString(" Time budget reached, remaining messages left for the next run.")
	}
	return b.String()
}

func writeFailureText(s *models.RunSummary) string {
	return fmt.Sprintf("NFe import %s failed to write to the warehouse. Messages stay in the queue for the next run. Suppliers affected: %s.",
		nfe.FormatBatchSequence(s.BatchSequence), supplierList(s.Suppliers))
}

func acknowledgeFailureText(s *models.RunSummary, suppliers []string) string {
	return fmt.Sprintf("NFe import %s: %d message(s) were written but could not be marked done. Suppliers affected: %s.",
		nfe.FormatBatchSequence(s.BatchSequence), s.AcknowledgeFailures, supplierList(suppliers))
}

func supplierList(suppliers []string) string {
	if len(suppliers) == 0 {
		return "none"
	}
	return strings.Join(suppliers, ", ")
}
