package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requiredOnly() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set("GMAIL_USER", "ops@example.com")
	v.Set("GMAIL_LABEL_IN_QUEUE", "Label_1")
	v.Set("GMAIL_LABEL_DONE", "Label_2")
	v.Set("WAREHOUSE_PROJECT", "warehouse")
	v.Set("SECRET_ACCOUNT_FOR_GMAIL", "gmail-sa")
	v.Set("SECRET_ACCOUNT_FOR_WAREHOUSE", "warehouse-sa")
	v.Set("SECRET_SLACK_TOKEN", "slack-token")
	v.Set("SLACK_CHANNEL", "C123")
	return v
}

func TestLoadWithViper_Defaults(t *testing.T) {
	cfg, err := LoadWithViper(requiredOnly())
	require.NoError(t, err)

	assert.Equal(t, "has:attachment", cfg.Query)
	assert.Equal(t, 20, cfg.MaxMessages)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, 10.0, cfg.RequestsPerSecond)
	assert.Equal(t, "ac_ops_data", cfg.WarehouseDataset)
	assert.Equal(t, "base-nfe-supplier-invoice", cfg.InvoiceTable)
	assert.Equal(t, "base-nfe-supplier-invoice-line", cfg.InvoiceLineTable)
	assert.Equal(t, 30*time.Second, cfg.ProcessingBudget)
	assert.Equal(t, 5*time.Minute, cfg.RunLockTTL)
	assert.Equal(t, "warehouse", cfg.ProjectID, "project falls back to the warehouse project")
	assert.Equal(t, "", cfg.XMLBucket)
}

func TestLoadWithViper_MissingRequired(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("GMAIL_USER", "ops@example.com")

	_, err := LoadWithViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GMAIL_LABEL_IN_QUEUE")
	assert.Contains(t, err.Error(), "SLACK_CHANNEL")
	assert.NotContains(t, err.Error(), "GMAIL_USER")
}

func TestLoadWithViper_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "bad budget", key: "PROCESSING_BUDGET", value: "soon"},
		{name: "zero budget", key: "PROCESSING_BUDGET", value: "0s"},
		{name: "bad ttl", key: "RUN_LOCK_TTL", value: "forever"},
		{name: "zero messages", key: "MAX_MESSAGES", value: 0},
		{name: "same labels", key: "GMAIL_LABEL_DONE", value: "Label_1"},
		{name: "bad timezone", key: "BATCH_TIMEZONE", value: "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := requiredOnly()
			v.Set(tt.key, tt.value)
			_, err := LoadWithViper(v)
			assert.Error(t, err)
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("GMAIL_USER", "ops@example.com")
	t.Setenv("GMAIL_LABEL_IN_QUEUE", "Label_1")
	t.Setenv("GMAIL_LABEL_DONE", "Label_2")
	t.Setenv("WAREHOUSE_PROJECT", "warehouse")
	t.Setenv("SECRET_ACCOUNT_FOR_GMAIL", "gmail-sa")
	t.Setenv("SECRET_ACCOUNT_FOR_WAREHOUSE", "warehouse-sa")
	t.Setenv("SECRET_SLACK_TOKEN", "slack-token")
	t.Setenv("SLACK_CHANNEL", "C123")
	t.Setenv("PROCESSING_BUDGET", "45s")
	t.Setenv("MAX_MESSAGES", "5")
	t.Setenv("PROJECT_ID", "ops-project")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.ProcessingBudget)
	assert.Equal(t, 5, cfg.MaxMessages)
	assert.Equal(t, "ops-project", cfg.ProjectID)
	assert.Equal(t, "Label_1", cfg.LabelInQueue)
}
