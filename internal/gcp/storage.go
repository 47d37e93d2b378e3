package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// BucketStore writes immutable objects to a GCS bucket.
type BucketStore struct {
	bucket     *storage.BucketHandle
	name       string
	maxRetries int
	backoff    time.Duration
}

func NewBucketStore(client *storage.Client, bucketName string) *BucketStore {
	return &BucketStore{
		bucket:     client.Bucket(bucketName),
		name:       bucketName,
		maxRetries: 4,
		backoff:    time.Second,
	}
}

// SaveObject writes data only if the object does not exist yet, retrying
// transient failures with exponential backoff.
func (s *BucketStore) SaveObject(ctx context.Context, objectName, contentType string, data []byte) error {
	backoff := s.backoff
	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		err := SaveToGCSAtomically(ctx, s.bucket, objectName, contentType, data)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Upload failed, will retry.",
			"gcsBucket", s.name,
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", s.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for gs://%s/%s failed after all retries: %w", s.name, objectName, lastErr)
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, content []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
