package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"github.com/Lllllllleong/emailnfewarehouse/internal/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// LeaseLock is a RunLock backed by one Firestore document per key. A lease
// that outlived its TTL is taken over by the next caller.
type LeaseLock struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewLeaseLock(client *firestore.Client, collection string) *LeaseLock {
	return &LeaseLock{client: client, collection: collection, now: time.Now}
}

func (l *LeaseLock) Acquire(ctx context.Context, key, holder string, ttl time.Duration) error {
	ref := l.client.Collection(l.collection).Doc(leaseDocID(key))
	return l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		lease, err := readLease(tx, ref)
		if err != nil {
			return err
		}
		now := l.now()
		if lease != nil && lease.Holder != holder && now.Before(lease.ExpiresAt) {
			return fmt.Errorf("%w: held by %s until %s", services.ErrRunLocked, lease.Holder, lease.ExpiresAt.Format(time.RFC3339))
		}
		return tx.Set(ref, models.Lease{Holder: holder, ExpiresAt: now.Add(ttl)})
	})
}

// Release deletes the lease if holder still owns it.
func (l *LeaseLock) Release(ctx context.Context, key, holder string) error {
	ref := l.client.Collection(l.collection).Doc(leaseDocID(key))
	return l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		lease, err := readLease(tx, ref)
		if err != nil {
			return err
		}
		if lease == nil || lease.Holder != holder {
			return nil
		}
		return tx.Delete(ref)
	})
}

func readLease(tx *firestore.Transaction, ref *firestore.DocumentRef) (*models.Lease, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lease %s: %w", ref.ID, err)
	}
	var lease models.Lease
	if err := snap.DataTo(&lease); err != nil {
		return nil, fmt.Errorf("failed to decode lease %s: %w", ref.ID, err)
	}
	return &lease, nil
}

// leaseDocID maps a key to a valid document id.
func leaseDocID(key string) string {
	id := strings.ReplaceAll(key, "/", "_")
	if id == "" || id == "." || id == ".." {
		return "default"
	}
	return id
}

// RunLedger stores one document per run, keyed by run id.
type RunLedger struct {
	client     *firestore.Client
	collection string
}

func NewRunLedger(client *firestore.Client, collection string) *RunLedger {
	return &RunLedger{client: client, collection: collection}
}

func (l *RunLedger) Record(ctx context.Context, run models.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if _, err := l.client.Collection(l.collection).Doc(run.RunID).Set(ctx, run); err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

// LatestRuns returns the most recently updated runs.
func (l *RunLedger) LatestRuns(ctx context.Context, limit int) ([]models.Run, error) {
	docs, err := l.client.Collection(l.collection).OrderBy("updatedAt", firestore.Desc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	runs := make([]models.Run, 0, len(docs))
	for _, d := range docs {
		var run models.Run
		if err := d.DataTo(&run); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", d.Ref.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
