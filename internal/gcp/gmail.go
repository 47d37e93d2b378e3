package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	gmailUser     = "me"
	listPageSize  = 500
	maxListPages  = 10
	headerSubject = "Subject"
)

// NewGmailService impersonates subject with the service account key in
// credentialsJSON. The account needs domain-wide delegation.
func NewGmailService(ctx context.Context, credentialsJSON []byte, subject string) (*gmail.Service, error) {
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gmail service account key: %w", err)
	}
	cfg.Subject = subject
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail client: %w", err)
	}
	return svc, nil
}

// Mailbox is the Gmail inbox. Every API call waits on a shared rate limiter.
type Mailbox struct {
	svc     *gmail.Service
	limiter *rate.Limiter
}

func NewMailbox(svc *gmail.Service, requestsPerSecond float64) *Mailbox {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Mailbox{svc: svc, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// ListCandidates returns messages carrying label, grouped by thread and
// trimmed to limit without splitting a thread.
func (m *Mailbox) ListCandidates(ctx context.Context, label, query string, limit int) ([]models.MessageRef, error) {
	var refs []models.MessageRef
	pageToken := ""
	for page := 0; page < maxListPages; page++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		call := m.svc.Users.Messages.List(gmailUser).LabelIds(label).MaxResults(listPageSize).Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages with label %s: %w", label, err)
		}
		for _, msg := range resp.Messages {
			if msg == nil || msg.Id == "" {
				continue
			}
			refs = append(refs, models.MessageRef{ID: msg.Id, ThreadID: msg.ThreadId})
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	trimmed := trimToThreads(refs, limit)
	if len(trimmed) < len(refs) {
		slog.Info("Not processing too many messages.", "listed", len(refs), "kept", len(trimmed))
	}
	return trimmed, nil
}

// trimToThreads sorts refs by thread and keeps at least limit messages,
// extended to the end of the last thread started.
func trimToThreads(refs []models.MessageRef, limit int) []models.MessageRef {
	sorted := make([]models.MessageRef, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ThreadID != sorted[j].ThreadID {
			return sorted[i].ThreadID < sorted[j].ThreadID
		}
		return sorted[i].ID < sorted[j].ID
	})

	var out []models.MessageRef
	lastThread := ""
	for _, ref := range sorted {
		if len(out) >= limit && ref.ThreadID != lastThread {
			break
		}
		out = append(out, ref)
		lastThread = ref.ThreadID
	}
	return out
}

func (m *Mailbox) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	msg, err := m.svc.Users.Messages.Get(gmailUser, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	out := &models.Message{ID: msg.Id, ThreadID: msg.ThreadId}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if h.Name == headerSubject {
				out.Subject = h.Value
			}
		}
		out.Attachments = collectAttachments(msg.Payload, nil)
	}
	return out, nil
}

// collectAttachments walks the MIME tree depth first.
func collectAttachments(part *gmail.MessagePart, acc []models.AttachmentRef) []models.AttachmentRef {
	if part == nil {
		return acc
	}
	if part.Filename != "" && part.Body != nil {
		ref := models.AttachmentRef{
			AttachmentID: part.Body.AttachmentId,
			Filename:     part.Filename,
			MimeType:     part.MimeType,
			Size:         part.Body.Size,
		}
		if ref.AttachmentID == "" {
			ref.InlineData = part.Body.Data
		}
		if ref.AttachmentID != "" || ref.InlineData != "" {
			acc = append(acc, ref)
		}
	}
	for _, child := range part.Parts {
		acc = collectAttachments(child, acc)
	}
	return acc
}

func (m *Mailbox) GetAttachment(ctx context.Context, messageID string, ref models.AttachmentRef) (*models.RawAttachment, error) {
	out := &models.RawAttachment{MessageID: messageID, Filename: ref.Filename}
	if ref.AttachmentID == "" {
		out.EncodedBody = ref.InlineData
		return out, nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := m.svc.Users.Messages.Attachments.Get(gmailUser, messageID, ref.AttachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s of message %s: %w", ref.Filename, messageID, err)
	}
	out.EncodedBody = body.Data
	return out, nil
}

// TransitionLabel swaps fromLabel for toLabel in one call.
func (m *Mailbox) TransitionLabel(ctx context.Context, messageID, fromLabel, toLabel string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    []string{toLabel},
		RemoveLabelIds: []string{fromLabel},
	}
	if _, err := m.svc.Users.Messages.Modify(gmailUser, messageID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to move message %s from %s to %s: %w", messageID, fromLabel, toLabel, err)
	}
	return nil
}

// Label is a mailbox label as shown by the mailbox tooling.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

func (m *Mailbox) ListLabels(ctx context.Context) ([]Label, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := m.svc.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	labels := make([]Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, Label{ID: l.Id, Name: l.Name, Type: l.Type})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels, nil
}

// Watch registers topicName for push notifications on labelID.
func (m *Mailbox) Watch(ctx context.Context, topicName, labelID string) (*models.MailboxNotification, int64, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	req := &gmail.WatchRequest{
		TopicName:         topicName,
		LabelIds:          []string{labelID},
		LabelFilterAction: "include",
	}
	resp, err := m.svc.Users.Watch(gmailUser, req).Context(ctx).Do()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to watch label %s: %w", labelID, err)
	}
	return &models.MailboxNotification{HistoryID: resp.HistoryId}, resp.Expiration, nil
}

func (m *Mailbox) Stop(ctx context.Context) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := m.svc.Users.Stop(gmailUser).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to stop mailbox notifications: %w", err)
	}
	return nil
}
