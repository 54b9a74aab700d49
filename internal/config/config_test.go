package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstNonEmptyPicksFirstNonBlank(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", "  "))
}

func TestSplitCSVTrimsAndDropsEmpties(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV(" a, b ,,c "))
	assert.Nil(t, splitCSV(""))
	assert.Nil(t, splitCSV("   "))
}

func TestAtoiOrFallsBackOnBlankOrInvalid(t *testing.T) {
	assert.Equal(t, 5, atoiOr("5", 16))
	assert.Equal(t, 16, atoiOr("", 16))
	assert.Equal(t, 16, atoiOr("not-a-number", 16))
}

func TestFloatOrFallsBackOnBlankOrInvalid(t *testing.T) {
	assert.Equal(t, 0.25, floatOr("0.25", 0.1))
	assert.Equal(t, 0.1, floatOr("", 0.1))
	assert.Equal(t, 0.1, floatOr("nope", 0.1))
}

func TestBoolOrDefaultsAndParses(t *testing.T) {
	assert.True(t, boolOr("1", false))
	assert.False(t, boolOr("0", true))
	assert.True(t, boolOr("", true))
	assert.True(t, boolOr("garbage", true))
}

func TestDurationOrFallsBackOnBlankOrInvalid(t *testing.T) {
	assert.Equal(t, 30*time.Second, durationOr("30s", time.Minute))
	assert.Equal(t, time.Minute, durationOr("", time.Minute))
	assert.Equal(t, time.Minute, durationOr("nope", time.Minute))
}

func TestSecondsOrFallsBackOnBlankOrInvalid(t *testing.T) {
	assert.Equal(t, 30*time.Second, secondsOr("30", time.Minute))
	assert.Equal(t, time.Minute, secondsOr("", time.Minute))
	assert.Equal(t, time.Minute, secondsOr("30s", time.Minute), "seconds-suffixed vars take a bare integer, not a duration string")
}

// TestLoadReadsEverySpecEnumeratedEnvVar guards spec.md §6's
// "Configuration (environment, enumerated)" list: every named var must
// actually reach a Config field, not just exist as an idea in a
// comment. Exercised once per test binary since Load registers "addr"
// on the global flag.CommandLine, which panics if redefined.
func TestLoadReadsEverySpecEnumeratedEnvVar(t *testing.T) {
	t.Setenv("CONNECTORS", "fast,slow")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("PER_STAGE_TIMEOUT_INTENT_PLAN_SEC", "9")
	t.Setenv("PER_STAGE_TIMEOUT_SEARCH_SEC", "21")
	t.Setenv("PER_STAGE_TIMEOUT_DECISION_SEC", "7")
	t.Setenv("PER_STAGE_TIMEOUT_PURCHASE_SEC", "77")
	t.Setenv("PURCHASE_MAX_RETRIES", "5")
	t.Setenv("RISK_CRITICAL_THRESHOLD", "70")
	t.Setenv("CONFIRMATION_TIMEOUT_SEC", "120")
	t.Setenv("IDEMPOTENCY_WINDOW_SEC", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"fast", "slow"}, cfg.Connectors)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 9*time.Second, cfg.TimeoutIntentPlan)
	assert.Equal(t, 21*time.Second, cfg.TimeoutSearch)
	assert.Equal(t, 7*time.Second, cfg.TimeoutDecision)
	assert.Equal(t, 77*time.Second, cfg.TimeoutPurchase)
	assert.Equal(t, 5, cfg.PurchaseMaxRetries)
	assert.Equal(t, 70, cfg.RiskCriticalThreshold)
	assert.Equal(t, 120*time.Second, cfg.ConfirmationTimeout)
	assert.Equal(t, 60*time.Second, cfg.IdempotencyWindow)
}

func TestResolveArtifactEndpointPrefersMinioLocally(t *testing.T) {
	t.Setenv("ARTIFACT_MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("ARTIFACT_S3_ENDPOINT", "s3.amazonaws.com")
	assert.Equal(t, "localhost:9000", resolveArtifactEndpoint("local"))
	assert.Equal(t, "s3.amazonaws.com", resolveArtifactEndpoint("production"))
}

func TestResolveArtifactUseSSLDefaultsOffLocally(t *testing.T) {
	assert.False(t, resolveArtifactUseSSL("local"))
	assert.True(t, resolveArtifactUseSSL("production"))
	t.Setenv("ARTIFACT_S3_USE_SSL", "false")
	assert.False(t, resolveArtifactUseSSL("production"))
}
