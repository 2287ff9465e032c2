package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "credverify.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "ledger.db", cfg.Ledger.LocalPath)
	assert.Empty(t, cfg.Ledger.Endpoint)
	assert.Equal(t, 3, cfg.Ledger.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Ledger.Circuit.FailureThreshold)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "mistral-ocr-latest", cfg.OCR.MistralModel)
	assert.False(t, cfg.Fingerprint.RecognizeImages)
	assert.Equal(t, 4, cfg.Fingerprint.MaxConcurrent)
	assert.InDelta(t, 0.80, cfg.Match.Threshold, 1e-9)
	assert.InDelta(t, 0.52, cfg.Match.Weights.Name, 1e-9)
	assert.InDelta(t, 0.38, cfg.Match.Weights.Institute, 1e-9)
	assert.InDelta(t, 0.10, cfg.Match.Weights.Score, 1e-9)
	assert.Equal(t, 500, cfg.Match.CandidateLimit)
	assert.Equal(t, 500, cfg.Match.RecentWindow)
	assert.Equal(t, "urn:credverify:attestation:{fingerprint}", cfg.Verify.TokenURITemplate)
	assert.Empty(t, cfg.Verify.Idempotency.RedisURL)
	assert.Equal(t, "credverify.audit", cfg.Audit.Kafka.Topic)
	assert.Equal(t, 5, cfg.Audit.Kafka.TimeoutSecs)
	assert.Equal(t, 5, cfg.Audit.SinkTimeoutSecs)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Server.MaxUploadMB)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/credverify
ledger:
  endpoint: https://ledger.example.com
  api_key: k
match:
  threshold: 0.9
  weights:
    name: 0.5
    institute: 0.4
    score: 0.1
server:
  admin_token: secret
  cors_origins: ["https://app.example.com"]
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/credverify", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://ledger.example.com", cfg.Ledger.Endpoint)
	assert.InDelta(t, 0.9, cfg.Match.Threshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Match.Weights.Name, 1e-9)
	assert.Equal(t, "secret", cfg.Server.AdminToken)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
match:
  threshold: 0.9
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CREDVERIFY_LOG_LEVEL", "warn")
	t.Setenv("CREDVERIFY_MATCH_THRESHOLD", "0.75")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 0.75, cfg.Match.Threshold, 1e-9)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CREDVERIFY_SERVER_PORT", "3000")
	t.Setenv("CREDVERIFY_FINGERPRINT_RECOGNIZE_IMAGES", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Fingerprint.RecognizeImages)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CREDVERIFY_MATCH_THRESHOLD", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match.threshold")
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Ledger.LocalPath = "ledger.db"
	cfg.Match.Threshold = 0.8
	cfg.Match.Weights = MatchWeights{Name: 0.52, Institute: 0.38, Score: 0.10}
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_Threshold(t *testing.T) {
	for _, th := range []float64{0, -0.1, 1.01} {
		cfg := validDefaults()
		cfg.Match.Threshold = th
		err := cfg.Validate()
		require.Error(t, err, "threshold %v", th)
		assert.Contains(t, err.Error(), "match.threshold")
	}

	cfg := validDefaults()
	cfg.Match.Threshold = 1
	assert.NoError(t, cfg.Validate())
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	cfg := validDefaults()
	cfg.Match.Weights.Score = 0.2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1")
}

func TestValidate_NegativeWeight(t *testing.T) {
	cfg := validDefaults()
	cfg.Match.Weights = MatchWeights{Name: 1.1, Institute: -0.1, Score: 0}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-negative")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidate_LedgerNeedsPathOrEndpoint(t *testing.T) {
	cfg := validDefaults()
	cfg.Ledger.LocalPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.local_path")

	cfg.Ledger.Endpoint = "https://ledger.example.com"
	assert.NoError(t, cfg.Validate())
}
