package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds the process configuration of the ingestion function and CLI.
type Config struct {
	GmailUser         string
	LabelInQueue      string
	LabelDone         string
	Query             string
	MaxMessages       int
	FetchConcurrency  int
	RequestsPerSecond float64

	WarehouseProject  string
	WarehouseDataset  string
	WarehouseLocation string
	InvoiceTable      string
	InvoiceLineTable  string

	SecretGmailAccount     string
	SecretWarehouseAccount string
	SecretSlackToken       string
	SlackChannel           string

	ProcessingBudget time.Duration
	XMLBucket        string

	ProjectID       string
	RunsCollection  string
	LocksCollection string
	RunLockTTL      time.Duration
	BatchTimezone   string
	PubSubTopic     string
}

// Keys that must be set; there is no sensible default.
var requiredKeys = []string{
	"GMAIL_USER",
	"GMAIL_LABEL_IN_QUEUE",
	"GMAIL_LABEL_DONE",
	"WAREHOUSE_PROJECT",
	"SECRET_ACCOUNT_FOR_GMAIL",
	"SECRET_ACCOUNT_FOR_WAREHOUSE",
	"SECRET_SLACK_TOKEN",
	"SLACK_CHANNEL",
}

// SetDefaults registers defaults for every optional key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("GMAIL_QUERY", "has:attachment")
	v.SetDefault("MAX_MESSAGES", 20)
	v.SetDefault("FETCH_CONCURRENCY", 4)
	v.SetDefault("GMAIL_REQUESTS_PER_SECOND", 10.0)
	v.SetDefault("WAREHOUSE_DATASET", "ac_ops_data")
	v.SetDefault("WAREHOUSE_LOCATION", "southamerica-east1")
	v.SetDefault("INVOICE_TABLE", "base-nfe-supplier-invoice")
	v.SetDefault("INVOICE_LINE_TABLE", "base-nfe-supplier-invoice-line")
	v.SetDefault("PROCESSING_BUDGET", "30s")
	v.SetDefault("BUCKET_FOR_XML", "")
	v.SetDefault("PROJECT_ID", "")
	v.SetDefault("FIRESTORE_RUNS_COLLECTION", "nfe-runs")
	v.SetDefault("FIRESTORE_LOCKS_COLLECTION", "nfe-locks")
	v.SetDefault("RUN_LOCK_TTL", "5m")
	v.SetDefault("BATCH_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("PUBSUB_TOPIC", "")
}

// NewViper returns a viper instance bound to the process environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		_ = v.BindEnv(key)
	}
	SetDefaults(v)
	return v
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return LoadWithViper(NewViper())
}

// LoadWithViper reads and validates the configuration from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required configuration not set: %s", strings.Join(missing, ", "))
	}

	budget, err := parseDuration(v, "PROCESSING_BUDGET")
	if err != nil {
		return nil, err
	}
	lockTTL, err := parseDuration(v, "RUN_LOCK_TTL")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		GmailUser:              v.GetString("GMAIL_USER"),
		LabelInQueue:           v.GetString("GMAIL_LABEL_IN_QUEUE"),
		LabelDone:              v.GetString("GMAIL_LABEL_DONE"),
		Query:                  v.GetString("GMAIL_QUERY"),
		MaxMessages:            v.GetInt("MAX_MESSAGES"),
		FetchConcurrency:       v.GetInt("FETCH_CONCURRENCY"),
		RequestsPerSecond:      v.GetFloat64("GMAIL_REQUESTS_PER_SECOND"),
		WarehouseProject:       v.GetString("WAREHOUSE_PROJECT"),
		WarehouseDataset:       v.GetString("WAREHOUSE_DATASET"),
		WarehouseLocation:      v.GetString("WAREHOUSE_LOCATION"),
		InvoiceTable:           v.GetString("INVOICE_TABLE"),
		InvoiceLineTable:       v.GetString("INVOICE_LINE_TABLE"),
		SecretGmailAccount:     v.GetString("SECRET_ACCOUNT_FOR_GMAIL"),
		SecretWarehouseAccount: v.GetString("SECRET_ACCOUNT_FOR_WAREHOUSE"),
		SecretSlackToken:       v.GetString("SECRET_SLACK_TOKEN"),
		SlackChannel:           v.GetString("SLACK_CHANNEL"),
		ProcessingBudget:       budget,
		XMLBucket:              v.GetString("BUCKET_FOR_XML"),
		ProjectID:              v.GetString("PROJECT_ID"),
		RunsCollection:         v.GetString("FIRESTORE_RUNS_COLLECTION"),
		LocksCollection:        v.GetString("FIRESTORE_LOCKS_COLLECTION"),
		RunLockTTL:             lockTTL,
		BatchTimezone:          v.GetString("BATCH_TIMEZONE"),
		PubSubTopic:            v.GetString("PUBSUB_TOPIC"),
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = cfg.WarehouseProject
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxMessages <= 0 {
		return fmt.Errorf("MAX_MESSAGES must be positive, got %d", c.MaxMessages)
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive, got %d", c.FetchConcurrency)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("GMAIL_REQUESTS_PER_SECOND must be positive, got %v", c.RequestsPerSecond)
	}
	if c.ProcessingBudget <= 0 {
		return fmt.Errorf("PROCESSING_BUDGET must be positive, got %s", c.ProcessingBudget)
	}
	if c.LabelInQueue == c.LabelDone {
		return fmt.Errorf("GMAIL_LABEL_IN_QUEUE and GMAIL_LABEL_DONE must differ")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves BATCH_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BatchTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_TIMEZONE %q: %w", c.BatchTimezone, err)
	}
	return loc, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
