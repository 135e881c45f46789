package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfiguration_Defaults(t *testing.T) {
	cfg, err := NewConfiguration()
	require.NoError(t, err)
	require.NoError(t, cfg.ParseFlags(nil))

	assert.Equal(t, ":8080", cfg.ServerConfig.ServerAddress)
	assert.Equal(t, 4, cfg.QueueConfig.WorkerNumber)
	assert.Equal(t, "INR", cfg.LedgerConfig.Currency)
	assert.Equal(t, int64(10), cfg.LedgerConfig.InterviewCost)
	assert.Equal(t, 3, cfg.LedgerConfig.RetryNumber)
	assert.Equal(t, 5*time.Minute, cfg.StripeConfig.SignatureTolerance)
	assert.False(t, cfg.RazorpayConfig.Enabled())
}

func TestParseFlags_Priority(t *testing.T) {
	t.Setenv("RUN_ADDRESS", ":9090")
	t.Setenv("DATABASE_URI", "postgres://env")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test")
	t.Setenv("RAZORPAY_KEY_SECRET", "secret")
	t.Setenv("INTERVIEW_COST", "15")

	cfg, err := NewConfiguration()
	require.NoError(t, err)
	require.NoError(t, cfg.ParseFlags([]string{"-d", "postgres://flag", "-n", "2"}))

	assert.Equal(t, ":9090", cfg.ServerConfig.ServerAddress)
	assert.Equal(t, "postgres://flag", cfg.StorageConfig.DatabaseDSN)
	assert.Equal(t, 2, cfg.QueueConfig.WorkerNumber)
	assert.Equal(t, int64(15), cfg.LedgerConfig.InterviewCost)
	assert.True(t, cfg.RazorpayConfig.Enabled())
}

func TestParseFlags_InvalidWorkers(t *testing.T) {
	cfg, err := NewConfiguration()
	require.NoError(t, err)
	require.Error(t, cfg.ParseFlags([]string{"-n", "0"}))
}
