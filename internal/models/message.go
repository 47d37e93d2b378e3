package models

// MessageRef identifies a candidate message in the inbox.
type MessageRef struct {
	ID       string
	ThreadID string
}

// AttachmentRef is an attachment part of a message, not yet downloaded.
type AttachmentRef struct {
	AttachmentID string
	Filename     string
	MimeType     string
	Size         int64

	// InlineData is set when the inbox returned the body with the message.
	InlineData string
}

// Message is a candidate message with its attachment parts.
type Message struct {
	ID          string
	ThreadID    string
	Subject     string
	Attachments []AttachmentRef
}

// RawAttachment is a downloaded attachment body, still base64url encoded
// the way the inbox API delivers it.
type RawAttachment struct {
	MessageID   string
	Filename    string
	EncodedBody string
}
