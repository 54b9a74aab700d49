// Package app is the construction-time wiring context (spec.md §9:
// "Global mutable state... passed to components via a single
// construction-time context object"). Grounded on the teacher's
// internal/gateway/app/app.go: Load config, construct every
// dependency once, wire them into the transport layer, expose
// Start/Shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"concierge/internal/audit"
	"concierge/internal/classify"
	"concierge/internal/config"
	"concierge/internal/connector"
	"concierge/internal/eventbus"
	"concierge/internal/pipeline"
	"concierge/internal/purchase"
	"concierge/internal/ranking"
	"concierge/internal/search"
	"concierge/internal/session"
	"concierge/internal/stage"
	"concierge/internal/transport"
)

// App owns every long-lived dependency and the HTTP(+WS) server.
type App struct {
	cfg     *config.Config
	server  *transport.Server
	journal Closer
	audit   *audit.Log
}

// Closer matches the subset of session.Journal/audit.Log cleanup this
// package needs without importing io just for the one method name.
type Closer interface {
	Close() error
}

// New loads configuration and wires every package into a runnable App.
// Exit-code-relevant failures (spec.md §6 cmd/orchestrator): a config
// load failure, an unwritable journal, or an empty connector registry
// are all returned as distinct sentinel-wrapped errors so main can map
// them to process exit codes 2/3/4. An unset CONNECTORS does not give
// an empty registry: buildRegistry then registers three demo
// connectors, so ErrNoConnectors is not returned in that case.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	journal, journalCloser, err := buildJournal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournal, err)
	}

	store := session.NewStore(journal)
	bus := eventbus.New(cfg.EventBufferSize)

	var archiver audit.Archiver
	if cfg.Archive.Enabled {
		s3, err := audit.NewS3Archiver(audit.S3Config{
			Endpoint: cfg.Archive.Endpoint, Region: cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey, SecretKey: cfg.Archive.SecretKey,
			Bucket: cfg.Archive.Bucket, UseSSL: cfg.Archive.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: audit archiver: %v", ErrJournal, err)
		}
		archiver = s3
	}
	auditLog, err := audit.New(cfg.AuditPath, fmt.Sprintf("orchestrator-%d", time.Now().UnixNano()), archiver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournal, err)
	}

	registry := buildRegistry(cfg)
	if len(registry.Snapshot()) == 0 {
		return nil, ErrNoConnectors
	}

	ctx := context.Background()
	llmClient, err := classify.NewDefaultClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: llm client: %v", ErrConfig, err)
	}

	health := connector.NewHealthTracker(cfg.HealthWindow, cfg.HealthThreshold)
	limiter := search.NewLimiter(cfg.SearchConcurrency, cfg.SearchMaxQueue)
	ledger := purchase.NewLedger(cfg.IdempotencyWindow)

	executor := &purchase.Executor{
		Config: purchase.Config{
			PriceDeltaEscalate:    cfg.PriceDeltaEscalate,
			BudgetLarge:           cfg.BudgetLarge,
			MaxAttempts:           cfg.PurchaseMaxRetries,
			DryRun:                cfg.DryRun,
			RiskCriticalThreshold: cfg.RiskCriticalThreshold,
		},
		Ledger: ledger,
		Audit:  auditLog,
		IsHealthy: func(connectorID string) float64 {
			if health.Healthy(connectorID, time.Now()) {
				return 1.0
			}
			return 0.3
		},
	}

	hub := pipeline.NewConfirmationHub()
	executor.Confirm = func(ctx context.Context, runID string, detail stage.PurchaseResult) bool {
		// A high-risk purchase re-enters the same one-shot rendezvous the
		// await_confirmation stage uses (spec.md §4.8 phase 2), keyed by
		// the same run id, so the caller must confirm again with risk
		// context before the order is placed.
		c, err := hub.Await(ctx, runID, cfg.ConfirmationTimeout)
		return err == nil && c.Accepted
	}

	otpHub := pipeline.NewOTPHub()
	executor.OpenOTPChan = func(sessionID, runID string) connector.OTPChannel {
		return otpHub.Channel(bus, sessionID, runID)
	}

	builder := &pipeline.Builder{
		IntentExtractor: &classify.IntentExtractor{LLM: llmClient},
		Planner:         &classify.Planner{LLM: llmClient},
		QueryInfo:       &classify.QueryInfo{LLM: llmClient},
		Registry:        registry,
		Limiter:         limiter,
		HealthTracker:   health,
		Weights:         ranking.DefaultWeights,
		Budget:          cfg.Budget,
		Executor:        executor,
		Hub:             hub,
		Revalidate:      revalidate,

		TimeoutIntentPlan:   cfg.TimeoutIntentPlan,
		TimeoutSearch:       cfg.TimeoutSearch,
		TimeoutDecision:     cfg.TimeoutDecision,
		TimeoutPurchase:     cfg.TimeoutPurchase,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	}

	engine := &pipeline.Engine{Store: store, Bus: bus}

	t := &transport.Transport{
		Store:   store,
		Bus:     bus,
		Engine:  engine,
		Builder: builder,
		Hub:     hub,
		OTPHub:  otpHub,
	}

	srv := transport.NewServer(cfg.Addr, t)

	return &App{cfg: cfg, server: srv, journal: journalCloser, audit: auditLog}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if a.audit != nil {
		a.audit.Close()
	}
	if a.journal != nil {
		a.journal.Close()
	}
	return err
}

// revalidate re-queries the connector for current price/stock just
// before an order attempt (purchase executor phase 1), by issuing a
// single-item search for the product's title and trusting the first
// hit's price and stock. A search with no hits reports the product's
// original price and InStock false.
func revalidate(ctx context.Context, c connector.Connector, product stage.Product) (purchase.PreValidated, error) {
	if c.Search == nil {
		return purchase.PreValidated{}, connector.NewError(connector.ErrUnavailable, nil)
	}
	products, err := c.Search(ctx, product.Title, 1, nil, time.Now().Add(5*time.Second))
	if err != nil {
		return purchase.PreValidated{}, err
	}
	if len(products) == 0 {
		return purchase.PreValidated{CurrentPrice: product.UnitPrice, InStock: false}, nil
	}
	p := products[0]
	return purchase.PreValidated{CurrentPrice: p.UnitPrice, InStock: p.InStock()}, nil
}

func buildRegistry(cfg *config.Config) *connector.Registry {
	ids := cfg.Connectors
	if len(ids) == 0 {
		ids = []string{"swiftcart", "marketplaceone", "quickgrocer"}
	}
	reg := connector.NewRegistry()
	for i, id := range ids {
		base := 9.99 + float64(i)*2.5
		eta := time.Duration(20+i*15) * time.Minute
		reg.Add(connector.NewDemoConnector(id, base, eta))
	}
	return reg
}

func buildJournal(cfg *config.Config) (session.Journal, Closer, error) {
	switch cfg.JournalBackend {
	case "postgres":
		j, err := session.NewPGJournal(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return j, j, nil
	default:
		j, err := session.NewFileJournal(cfg.JournalPath)
		if err != nil {
			return nil, nil, err
		}
		return j, j, nil
	}
}
