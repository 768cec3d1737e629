package main

import (
	"context"
	"log"
	"time"

	"rxgate/config"
	"rxgate/internal/app"
	"rxgate/internal/audit"
	"rxgate/internal/handler"
	"rxgate/internal/metrics"
	"rxgate/internal/proxy"
	"rxgate/internal/redis"
	"rxgate/internal/repository"
	"rxgate/internal/repository/memory"
	"rxgate/internal/server"
	"rxgate/internal/services"
	"rxgate/pkg/database"
	"rxgate/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	metrics.Register()

	healthChecks := map[string]func(ctx context.Context) error{}

	var repos app.Repositories
	if cfg.AppMode == server.TestMode {
		l.Infof("APP_MODE=test, using in-memory repositories")
		repos = app.NewMemoryRepositories(memory.NewStore())
	} else {
		database.Connect(cfg)
		defer database.Close()
		if err := repository.InitSchema(database.DB); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		repos = app.NewPostgresRepositories(database.DB)
		healthChecks["database"] = func(context.Context) error { return database.HealthCheck() }

		redis.Initialize(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		healthChecks["redis"] = redis.Ping
	}

	sink, err := app.NewAuditSink(cfg)
	if err != nil {
		log.Fatalf("Failed to configure audit sink: %v", err)
	}
	recorder := audit.NewRecorder(sink, 0)
	defer recorder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	email, err := app.NewEmailSender(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to configure email sender: %v", err)
	}

	approvals := services.NewApprovalService(repos.Approvals, cfg.FreshnessWindow())
	consults := services.NewConsultationService(
		repos.Consultations, repos.Clinicians, repos.Patients, repos.Intake,
		repos.Approvals, repos.Outbox, repos.Tx, recorder, cfg.ApprovalValidity(),
	)
	intake := services.NewIntakeService(repos.Intake, recorder)
	purchase := services.NewPurchaseGate(repos.Catalog, approvals)
	fulfillment := services.NewFulfillmentGate(repos.Orders, repos.Catalog, approvals, recorder)
	auth := services.NewAuthService(cfg.JWTSecret, 15*time.Minute)

	cartProxy, err := proxy.NewCartProxy(cfg.CommerceUpstreamURL, 15*time.Second)
	if err != nil {
		log.Fatalf("Failed to configure cart proxy: %v", err)
	}

	pipeline := app.NewOutbox(cfg, repos, email, recorder)
	pipeline.Runner.Start(ctx)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Consult:  handler.NewConsultHandler(intake, consults),
		Approval: handler.NewApprovalHandler(approvals),
		Gate:     handler.NewGateHandler(purchase, fulfillment),
	}, server.Dependencies{
		Auth:         auth,
		PurchaseGate: purchase,
		CartProxy:    cartProxy,
		HealthChecks: healthChecks,
	})

	if err := srv.Start(cancel); err != nil {
		l.Errorf("server stopped with error: %v", err)
	}
}
