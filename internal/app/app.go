// Package app assembles repositories, sinks and the outbox pipeline from
// configuration. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"strings"

	"rxgate/config"
	"rxgate/internal/audit"
	"rxgate/internal/notify"
	"rxgate/internal/outbox"
	"rxgate/internal/redis"
	"rxgate/internal/repository"
	"rxgate/internal/repository/memory"
	"rxgate/internal/services"
	"rxgate/pkg/logger"

	"gorm.io/gorm"
)

type Repositories struct {
	Consultations repository.ConsultationRepository
	Clinicians    repository.ClinicianRepository
	Patients      repository.PatientRepository
	Intake        repository.IntakeRepository
	Approvals     repository.ApprovalRepository
	Outbox        repository.OutboxRepository
	Catalog       repository.CatalogRepository
	Orders        repository.OrderRepository
	Settings      repository.BusinessSettingsRepository
	Tx            repository.Transactor
}

func NewPostgresRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Consultations: repository.NewConsultationRepository(db),
		Clinicians:    repository.NewClinicianRepository(db),
		Patients:      repository.NewPatientRepository(db),
		Intake:        repository.NewIntakeRepository(db),
		Approvals:     repository.NewApprovalRepository(db),
		Outbox:        repository.NewOutboxRepository(db),
		Catalog:       repository.NewCatalogRepository(db),
		Orders:        repository.NewOrderRepository(db),
		Settings:      repository.NewBusinessSettingsRepository(db),
		Tx:            repository.NewTransactor(db),
	}
}

func NewMemoryRepositories(store *memory.Store) Repositories {
	return Repositories{
		Consultations: store.Consultations(),
		Clinicians:    store.Clinicians(),
		Patients:      store.Patients(),
		Intake:        store.Intake(),
		Approvals:     store.Approvals(),
		Outbox:        store.Outbox(),
		Catalog:       store.Catalog(),
		Orders:        store.Orders(),
		Settings:      store.BusinessSettings(),
		Tx:            store.Transactor(),
	}
}

// NewAuditSink picks the sink named by AUDIT_SINK.
func NewAuditSink(cfg *config.Config) (audit.Sink, error) {
	switch strings.ToLower(cfg.AuditSink) {
	case "", "log":
		return audit.LogSink{}, nil
	case "redis":
		if !redis.IsInitialized() {
			return nil, fmt.Errorf("audit sink redis: redis client not initialized")
		}
		return audit.NewRedisSink(redis.NewPublisher(redis.GetClient(), "")), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("audit sink kafka: no brokers configured")
		}
		return audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.AuditSink)
	}
}

// NewEmailSender picks the fallback email provider named by EMAIL_PROVIDER.
func NewEmailSender(ctx context.Context, cfg *config.Config) (outbox.EmailSender, error) {
	switch strings.ToLower(cfg.EmailProvider) {
	case "", "log":
		return notify.LogSender{}, nil
	case "ses":
		sender, err := notify.NewSESSender(ctx, notify.SESConfig{
			Region:    cfg.AWSRegion,
			From:      cfg.EmailFrom,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Endpoint:  cfg.AWSEndpoint,
		})
		if err != nil {
			return nil, err
		}
		return sender, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}

func DispatcherConfig(cfg *config.Config) outbox.DispatcherConfig {
	return outbox.DispatcherConfig{
		BatchSize:            cfg.DispatchBatchSize,
		MaxAttempts:          cfg.MaxAttempts,
		BackoffBase:          cfg.BackoffBase,
		BackoffCap:           cfg.BackoffCap,
		Timeout:              cfg.WebhookTimeout,
		ClaimLease:           cfg.ClaimLease,
		DefaultWebhookURL:    cfg.DefaultWebhookURL,
		DefaultWebhookSecret: cfg.DefaultWebhookKey,
		DefaultOpsEmail:      cfg.DefaultOpsEmail,
	}
}

// Outbox bundles the reconcile and dispatch stages.
type Outbox struct {
	Reconciler *outbox.Reconciler
	Dispatcher *outbox.Dispatcher
	Runner     *outbox.Runner
}

func NewOutbox(cfg *config.Config, repos Repositories, email outbox.EmailSender, auditor services.Auditor) Outbox {
	reconciler := outbox.NewReconciler(repos.Approvals, repos.Outbox, cfg.ReconcileLookback, 0)
	dispatcher := outbox.NewDispatcher(repos.Outbox, repos.Settings, email, auditor, DispatcherConfig(cfg))
	if cfg.UseRedisClaimLock && redis.IsInitialized() {
		dispatcher.WithLocker(redis.NewClaimLock(redis.GetClient()))
		logger.GetGlobalLogger().Infof("outbox: redis claim lock enabled")
	}
	return Outbox{
		Reconciler: reconciler,
		Dispatcher: dispatcher,
		Runner:     outbox.NewRunner(reconciler, dispatcher, cfg.DispatchInterval, cfg.ReconcileInterval),
	}
}
