package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)
	unsafeObjectRegex    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// XMLArchive stores admitted XML documents under incoming/<documentId>.xml.
type XMLArchive struct {
	store  ObjectStore
	prefix string
}

func NewXMLArchive(store ObjectStore) *XMLArchive {
	return &XMLArchive{store: store, prefix: "incoming"}
}

func (a *XMLArchive) ArchiveDocument(ctx context.Context, documentID string, data []byte) error {
	name := strings.Trim(unsafeObjectRegex.ReplaceAllString(documentID, "_"), "._")
	if name == "" {
		return fmt.Errorf("cannot archive document with id %q", documentID)
	}
	objectName := path.Join(a.prefix, name+".xml")
	if err := a.store.SaveObject(ctx, objectName, "application/xml", data); err != nil {
		return fmt.Errorf("failed to archive %s: %w", objectName, err)
	}
	return nil
}

// DanfeHandler validates DANFE PDFs that travel with the XML and keeps a
// copy next to the archived documents. It never affects the warehouse write.
type DanfeHandler struct {
	store  ObjectStore
	prefix string
}

func NewDanfeHandler(store ObjectStore) *DanfeHandler {
	return &DanfeHandler{store: store, prefix: "danfe"}
}

func (h *DanfeHandler) Accepts(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".pdf")
}

func (h *DanfeHandler) Handle(ctx context.Context, messageID, filename string, data []byte) error {
	logCtx := slog.With("messageId", messageID, "attachment", filename)

	pageCount, err := pageCount(data)
	if err != nil {
		return fmt.Errorf("invalid PDF %s: %w", filename, err)
	}

	base := sanitizeFileName(strings.TrimSuffix(filename, path.Ext(filename)))
	if base == "" {
		base = fileHash(data)[:16]
	}
	objectName := path.Join(h.prefix, sanitizeFileName(messageID), base+".pdf")
	if err := h.store.SaveObject(ctx, objectName, "application/pdf", data); err != nil {
		return fmt.Errorf("failed to archive DANFE: %w", err)
	}
	logCtx.Info("DANFE archived.", "objectName", objectName, "pageCount", pageCount)
	return nil
}

func pageCount(data []byte) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), cfg)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("no pages")
	}
	return n, nil
}

func fileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sanitizeFileName converts a name into a safe object name component.
func sanitizeFileName(name string) string {
	lower := strings.ToLower(name)
	sanitized := nonAlphanumericRegex.ReplaceAllString(lower, "_")
	sanitized = strings.Trim(sanitized, "_")

	const maxLength = 100
	if len(sanitized) > maxLength {
		sanitized = strings.Trim(sanitized[:maxLength], "_")
	}
	return sanitized
}
