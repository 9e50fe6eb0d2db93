package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DAILY_LIMIT", "")
	t.Setenv("VIP_PASSWORD", "")
	t.Setenv("QUOTA_TIMEZONE", "")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, c.DailyLimit)
	assert.Equal(t, 150, c.DefaultDPI)
	assert.Equal(t, uint8(245), c.MaskThreshold)
	assert.Equal(t, "job", c.QuotaCommitPolicy)
	assert.Equal(t, "Asia/Tokyo", c.QuotaTimezone.String())
	assert.Equal(t, 15*time.Minute, c.S3URLTTL)
	assert.Equal(t, int64(100)<<20, c.MaxUploadBytes)
	assert.Empty(t, c.VIPPasswords)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DAILY_LIMIT", "5")
	t.Setenv("MAX_PAGES_HIGH_DPI", "4")
	t.Setenv("VIP_PASSWORD", " one, two ,,three")
	t.Setenv("QUOTA_COMMIT_POLICY", "document")
	t.Setenv("QUOTA_TIMEZONE", "UTC")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, c.DailyLimit)
	assert.Equal(t, 4, c.MaxPagesAtHighDPI)
	assert.Equal(t, []string{"one", "two", "three"}, c.VIPPasswords)
	assert.Equal(t, "document", c.QuotaCommitPolicy)
	assert.Equal(t, time.UTC, c.QuotaTimezone)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"non-numeric limit", "DAILY_LIMIT", "three"},
		{"threshold out of range", "MASK_THRESHOLD", "300"},
		{"unknown policy", "QUOTA_COMMIT_POLICY", "page"},
		{"bad timezone", "QUOTA_TIMEZONE", "Mars/Base"},
		{"zero documents", "MAX_DOCUMENTS_PER_JOB", "0"},
		{"bad chat id", "ADMIN_CHAT_ID", "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSplitPasswords(t *testing.T) {
	assert.Nil(t, SplitPasswords(""))
	assert.Nil(t, SplitPasswords(" , "))
	assert.Equal(t, []string{"a"}, SplitPasswords("a"))
}
