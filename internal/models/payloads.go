package models

// These structs define the event payloads received by the Cloud Function
// and the summary it produces.

// PubSubMessage is the inner message of a Pub/Sub CloudEvent.
type PubSubMessage struct {
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime"`
}

// MessagePublishedData is the data of a google.cloud.pubsub.topic.v1.messagePublished event.
type MessagePublishedData struct {
	Message      PubSubMessage `json:"message"`
	Subscription string        `json:"subscription"`
}

// MailboxNotification is what Gmail publishes to the watch topic.
type MailboxNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// RunSummary is the outcome of one orchestrator invocation.
type RunSummary struct {
	RunID               string   `json:"runId"`
	BatchSequence       float64  `json:"batchSequence"`
	MessagesCandidate   int      `json:"messagesCandidate"`
	MessagesProcessed   int      `json:"messagesProcessed"`
	DocumentsImported   int      `json:"documentsImported"`
	DocumentsDuplicate  int      `json:"documentsDuplicate"`
	DocumentsSkipped    int      `json:"documentsSkipped"`
	DocumentsFailed     int      `json:"documentsFailed"`
	Suppliers           []string `json:"suppliers"`
	ElapsedSeconds      float64  `json:"elapsedSeconds"`
	BudgetExceeded      bool     `json:"budgetExceeded"`
	WriteFailed         bool     `json:"writeFailed"`
	AcknowledgeFailures int      `json:"acknowledgeFailures"`
}
