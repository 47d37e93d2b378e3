package models

import "time"

// Run statuses recorded in the run ledger.
const (
	RunStatusRunning       = "RUNNING"
	RunStatusWriting       = "WRITING"
	RunStatusAcknowledging = "ACKNOWLEDGING"
	RunStatusDone          = "DONE"
	RunStatusFailed        = "FAILED"
)

// Run is the Firestore record for one orchestrator invocation.
// It tracks the overall status so an operator can find what a run touched.
type Run struct {
	RunID              string    `firestore:"runId,omitempty"`
	Status             string    `firestore:"status,omitempty"`
	ErrorDetails       string    `firestore:"errorDetails,omitempty"`
	BatchSequence      float64   `firestore:"batchSequence,omitempty"`
	MessagesProcessed  int       `firestore:"messagesProcessed"`
	DocumentsImported  int       `firestore:"documentsImported"`
	DocumentsDuplicate int       `firestore:"documentsDuplicate"`
	Suppliers          []string  `firestore:"suppliers,omitempty"`
	BudgetExceeded     bool      `firestore:"budgetExceeded"`
	CreatedAt          time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt          time.Time `firestore:"updatedAt,omitempty"`
}

// Lease is the Firestore record guarding one inbox label against overlapping runs.
type Lease struct {
	Holder    string    `firestore:"holder"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}
