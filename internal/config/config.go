// Package config loads process configuration from flags, environment
// variables, and an optional .env file, grounded on the teacher's own
// internal/gateway/config/config.go (godotenv.Load + flag + os.Getenv,
// env overriding flag defaults, string-keyed toggles resolved with
// firstNonEmpty).
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process's construction-time context (spec.md §9:
// "passed to components via a single construction-time context object
// rather than referenced ambiently").
type Config struct {
	Addr string
	Env  string

	// JournalBackend selects the session checkpoint journal: "file" or
	// "postgres" (spec.md §4.1/§6).
	JournalBackend string
	JournalPath    string
	PostgresDSN    string

	// AuditPath is the append-only audit log file (spec.md §4.9).
	AuditPath string
	Archive   ArtifactConfig

	// Connectors is the comma-separated list of connector ids to load
	// (spec.md §4.3 treats the actual merchant-automation transports as
	// out of scope; this only selects which of the in-process stub
	// connectors the registry starts with).
	Connectors []string

	SearchConcurrency int
	SearchMaxQueue    int

	HealthWindow    time.Duration
	HealthThreshold int

	Budget *float64

	// DryRun gates Purchase Executor phase 4 simulation (spec.md §6
	// DRY_RUN).
	DryRun             bool
	PriceDeltaEscalate float64
	BudgetLarge        float64
	PurchaseMaxRetries int

	// RiskCriticalThreshold overrides purchase.DefaultRiskCriticalThreshold
	// (spec.md §6 RISK_CRITICAL_THRESHOLD).
	RiskCriticalThreshold int

	// ConfirmationTimeout overrides pipeline.DefaultConfirmationDeadline
	// (spec.md §6 CONFIRMATION_TIMEOUT_SEC).
	ConfirmationTimeout time.Duration

	// IdempotencyWindow overrides purchase.IdempotencyWindow (spec.md §6
	// IDEMPOTENCY_WINDOW_SEC).
	IdempotencyWindow time.Duration

	// Per-stage timeout overrides (spec.md §6 PER_STAGE_TIMEOUT_*); zero
	// leaves the pipeline.Builder's own defaults in place.
	TimeoutIntentPlan time.Duration
	TimeoutSearch     time.Duration
	TimeoutDecision   time.Duration
	TimeoutPurchase   time.Duration

	EventBufferSize int
}

// ArtifactConfig configures the optional MinIO/S3 audit archive (spec.md
// §4.9a), gated by ARTIFACT_ARCHIVE_ENABLED. Mirrors the teacher's
// ArtifactConfig field-for-field.
type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Load reads configuration the way the teacher's config.Load does: an
// optional .env file, then flag defaults, then environment variables
// overriding those defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	addr := flag.String("addr", ":8082", "server listen address")
	flag.Parse()

	if envAddr := os.Getenv("ADDR"); envAddr != "" {
		if strings.HasPrefix(envAddr, ":") {
			*addr = envAddr
		} else {
			*addr = ":" + envAddr
		}
	}

	env := firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), "local")

	cfg := &Config{
		Addr:               *addr,
		Env:                env,
		JournalBackend:     firstNonEmpty(strings.TrimSpace(os.Getenv("JOURNAL_BACKEND")), "file"),
		JournalPath:        firstNonEmpty(strings.TrimSpace(os.Getenv("JOURNAL_PATH")), "./data/checkpoints.ndjson"),
		PostgresDSN:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AuditPath:          firstNonEmpty(strings.TrimSpace(os.Getenv("AUDIT_PATH")), "./data/audit.ndjson"),
		Archive:            loadArtifactConfig(env),
		Connectors:         splitCSV(os.Getenv("CONNECTORS")),
		SearchConcurrency:  atoiOr(os.Getenv("SEARCH_CONCURRENCY"), 16),
		SearchMaxQueue:     atoiOr(os.Getenv("SEARCH_MAX_QUEUE"), 64),
		HealthWindow:       durationOr(os.Getenv("CONNECTOR_HEALTH_WINDOW"), 5*time.Minute),
		HealthThreshold:    atoiOr(os.Getenv("CONNECTOR_HEALTH_THRESHOLD"), 3),
		DryRun:             boolOr(os.Getenv("DRY_RUN"), false),
		PriceDeltaEscalate: floatOr(os.Getenv("PRICE_DELTA_ESCALATE"), 0.10),
		BudgetLarge:        floatOr(os.Getenv("BUDGET_LARGE"), 200.0),
		PurchaseMaxRetries: atoiOr(os.Getenv("PURCHASE_MAX_RETRIES"), 3),

		RiskCriticalThreshold: atoiOr(os.Getenv("RISK_CRITICAL_THRESHOLD"), 80),
		ConfirmationTimeout:   secondsOr(os.Getenv("CONFIRMATION_TIMEOUT_SEC"), 300*time.Second),
		IdempotencyWindow:     secondsOr(os.Getenv("IDEMPOTENCY_WINDOW_SEC"), 300*time.Second),

		TimeoutIntentPlan: secondsOr(os.Getenv("PER_STAGE_TIMEOUT_INTENT_PLAN_SEC"), 5*time.Second),
		TimeoutSearch:     secondsOr(os.Getenv("PER_STAGE_TIMEOUT_SEARCH_SEC"), 10*time.Second),
		TimeoutDecision:   secondsOr(os.Getenv("PER_STAGE_TIMEOUT_DECISION_SEC"), 5*time.Second),
		TimeoutPurchase:   secondsOr(os.Getenv("PER_STAGE_TIMEOUT_PURCHASE_SEC"), 60*time.Second),

		EventBufferSize: atoiOr(os.Getenv("EVENT_BUFFER_SIZE"), 64),
	}

	if raw := strings.TrimSpace(os.Getenv("BUDGET")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Budget = &v
		}
	}

	return cfg, nil
}

func loadArtifactConfig(env string) ArtifactConfig {
	endpoint := resolveArtifactEndpoint(env)
	enabled := boolOr(os.Getenv("ARTIFACT_ARCHIVE_ENABLED"), false)
	return ArtifactConfig{
		Enabled:   enabled && endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "concierge-audit"),
		UseSSL:    resolveArtifactUseSSL(env),
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(env, "local") {
		return strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(env, "local") {
		return false
	}
	return boolOr(os.Getenv("ARTIFACT_S3_USE_SSL"), true)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiOr(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func floatOr(raw string, def float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func boolOr(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// secondsOr parses raw as a whole number of seconds (spec.md §6's
// *_SEC-suffixed env vars), falling back to def when raw is empty or
// invalid.
func secondsOr(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return time.Duration(v) * time.Second
}

func durationOr(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}
