package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/emailnfewarehouse/internal/app"
	"github.com/Lllllllleong/emailnfewarehouse/internal/config"
	"github.com/Lllllllleong/emailnfewarehouse/internal/models"
	"github.com/Lllllllleong/emailnfewarehouse/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	instance *app.App
	once     sync.Once
	initErr  error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessEmails", processEmails)
}

// main is required by the Go Functions Framework.
func main() {}

// processEmails runs one ingestion cycle per mailbox notification. The
// notification only wakes the function; the queue label is the source of truth.
func processEmails(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		instance, initErr = app.New(context.Background(), cfg)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var msg models.MessagePublishedData
	if err := json.Unmarshal(e.Data(), &msg); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	var notification models.MailboxNotification
	if len(msg.Message.Data) > 0 {
		if err := json.Unmarshal(msg.Message.Data, &notification); err != nil {
			slog.Warn("Ignoring unreadable mailbox notification", "error", err, "messageId", msg.Message.MessageID)
		}
	}
	slog.Info("Mailbox notification received.",
		"eventId", e.ID(),
		"pubsubMessageId", msg.Message.MessageID,
		"emailAddress", notification.EmailAddress,
		"historyId", notification.HistoryID,
	)

	if _, err := instance.Ingestor.Process(ctx); err != nil {
		if errors.Is(err, services.ErrRunLocked) {
			return nil
		}
		return err
	}
	return nil
}
