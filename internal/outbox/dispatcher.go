package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rxgate/internal/domain/commerce"
	"rxgate/internal/domain/outbox"
	"rxgate/internal/metrics"
	"rxgate/internal/repository"
	"rxgate/internal/services"
	rxgate_errors "rxgate/pkg/errors"
	"rxgate/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EmailSender delivers the dead-letter fallback. sent=false with a nil
// error means the provider accepted nothing.
type EmailSender interface {
	Send(ctx context.Context, to, subject, text string) (sent bool, err error)
}

// ClaimLocker is an optional cross-process single-flight guard per event.
type ClaimLocker interface {
	Acquire(ctx context.Context, eventID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

type DispatcherConfig struct {
	BatchSize            int
	MaxAttempts          int
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	Timeout              time.Duration
	ClaimLease           time.Duration
	DefaultWebhookURL    string
	DefaultWebhookSecret string
	DefaultOpsEmail      string
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:   50,
		MaxAttempts: 5,
		BackoffBase: time.Minute,
		BackoffCap:  time.Hour,
		Timeout:     10 * time.Second,
		ClaimLease:  2 * time.Minute,
	}
}

type Dispatcher struct {
	repo     repository.OutboxRepository
	settings repository.BusinessSettingsRepository
	client   *http.Client
	email    EmailSender
	auditor  services.Auditor
	locker   ClaimLocker
	cfg      DispatcherConfig
	clock    func() time.Time
}

func NewDispatcher(repo repository.OutboxRepository, settings repository.BusinessSettingsRepository, email EmailSender, auditor services.Auditor, cfg DispatcherConfig) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaults.BackoffCap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = defaults.ClaimLease
	}
	return &Dispatcher{
		repo:     repo,
		settings: settings,
		client:   &http.Client{Timeout: cfg.Timeout},
		email:    email,
		auditor:  auditor,
		cfg:      cfg,
		clock:    time.Now,
	}
}

func (d *Dispatcher) WithLocker(l ClaimLocker) *Dispatcher {
	d.locker = l
	return d
}

func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	d.client = c
	return d
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

type DispatchResult struct {
	Claimed     int
	Delivered   int
	Retried     int
	DeadLetters int
	Skipped     int
}

// deliveryBody is what the partner receives.
type deliveryBody struct {
	EventID    uuid.UUID       `json:"event_id"`
	Type       string          `json:"type"`
	BusinessID uuid.UUID       `json:"business_id"`
	Payload    json.RawMessage `json:"payload"`
}

type target struct {
	url      string
	secret   string
	opsEmail string
}

// DispatchPending runs one pass: claim due events oldest first and attempt
// each once, sequentially.
func (d *Dispatcher) DispatchPending(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	batch, err := d.repo.ClaimDue(ctx, d.clock(), d.cfg.BatchSize, d.cfg.ClaimLease)
	if err != nil {
		return res, err
	}
	res.Claimed = len(batch)
	for _, e := range batch {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		outcome, ok := d.dispatchClaimed(ctx, e)
		if !ok {
			res.Skipped++
			continue
		}
		switch outcome {
		case outbox.StatusDelivered:
			res.Delivered++
		case outbox.StatusDeadLetter:
			res.DeadLetters++
		default:
			res.Retried++
		}
	}
	return res, nil
}

func (d *Dispatcher) dispatchClaimed(ctx context.Context, e outbox.OutboxEvent) (outbox.Status, bool) {
	if d.locker != nil {
		acquired, err := d.locker.Acquire(ctx, e.ID, d.cfg.ClaimLease)
		if err != nil {
			logger.GetGlobalLogger().Warnf("claim lock for event %s unavailable: %v", e.ID, err)
			return "", false
		}
		if !acquired {
			return "", false
		}
		defer func() {
			if err := d.locker.Release(context.WithoutCancel(ctx), e.ID); err != nil {
				logger.GetGlobalLogger().Warnf("release claim lock for event %s: %v", e.ID, err)
			}
		}()
	}
	return d.attempt(ctx, e), true
}

// attempt performs one delivery and records its outcome.
func (d *Dispatcher) attempt(ctx context.Context, e outbox.OutboxEvent) outbox.Status {
	log := logger.GetGlobalLogger().With(zap.String("event_id", e.ID.String()), zap.String("business_id", e.BusinessID.String()))
	started := d.clock()
	attemptNo := e.Attempts + 1

	t, err := d.resolveTarget(ctx, e.BusinessID)
	statusCode := 0
	if err == nil {
		statusCode, err = d.post(ctx, e, t)
	}
	metrics.OutboxDeliveryDuration.Observe(time.Since(started).Seconds())

	delivery := &outbox.OutboxEventDelivery{
		ID:            uuid.New(),
		EventID:       e.ID,
		AttemptNumber: attemptNo,
		StatusCode:    statusCode,
		CreatedAt:     d.clock(),
	}

	if err == nil {
		delivery.Status = "DELIVERED"
		d.recordDelivery(ctx, delivery)
		if markErr := d.repo.MarkDelivered(ctx, e.ID, d.clock()); markErr != nil {
			log.Errorf("mark delivered: %v", markErr)
		}
		metrics.OutboxDeliveriesTotal.WithLabelValues("delivered").Inc()
		services.RecordAudit(ctx, d.auditor, services.AuditRecord{
			Actor:      "system:outbox",
			Action:     "outbox.delivered",
			EntityType: "outbox_event",
			EntityID:   e.ID,
			BusinessID: e.BusinessID,
			RiskLevel:  services.RiskLow,
			Changes:    map[string]any{"type": e.Type, "attempts": attemptNo},
		})
		return outbox.StatusDelivered
	}

	delivery.Status = "FAILED"
	delivery.ErrorMessage = err.Error()
	d.recordDelivery(ctx, delivery)

	if attemptNo >= d.cfg.MaxAttempts {
		log.Warnf("event dead-lettered after %d attempts: %v", attemptNo, err)
		d.deadLetter(ctx, e, attemptNo, err.Error(), t.opsEmail)
		metrics.OutboxDeliveriesTotal.WithLabelValues("dead_letter").Inc()
		return outbox.StatusDeadLetter
	}

	next := d.clock().Add(Backoff(attemptNo, d.cfg.BackoffBase, d.cfg.BackoffCap))
	if schedErr := d.repo.ScheduleRetry(ctx, e.ID, attemptNo, next, err.Error()); schedErr != nil {
		log.Errorf("schedule retry: %v", schedErr)
	}
	log.Infof("delivery attempt %d failed, retrying at %s: %v", attemptNo, next.Format(time.RFC3339), err)
	metrics.OutboxDeliveriesTotal.WithLabelValues("retry").Inc()
	return outbox.StatusPending
}

func (d *Dispatcher) recordDelivery(ctx context.Context, delivery *outbox.OutboxEventDelivery) {
	if err := d.repo.RecordDelivery(ctx, delivery); err != nil {
		logger.GetGlobalLogger().Warnf("record delivery for event %s: %v", delivery.EventID, err)
	}
}

// resolveTarget prefers the business's settings and falls back to the
// global defaults field by field. The ops email is returned even when the
// webhook is unusable.
func (d *Dispatcher) resolveTarget(ctx context.Context, businessID uuid.UUID) (target, error) {
	t := target{url: d.cfg.DefaultWebhookURL, secret: d.cfg.DefaultWebhookSecret, opsEmail: d.cfg.DefaultOpsEmail}
	if d.settings != nil {
		s, err := d.settings.GetByBusinessID(ctx, businessID)
		switch {
		case err == nil:
			t = mergeSettings(t, s)
		case errors.Is(err, rxgate_errors.ErrNotFound):
		default:
			return t, fmt.Errorf("load business settings: %w", err)
		}
	}
	if strings.TrimSpace(t.url) == "" {
		return t, fmt.Errorf("%w: no webhook url for business %s", rxgate_errors.ErrWebhookConfigurationMissing, businessID)
	}
	if t.secret == "" {
		return t, fmt.Errorf("%w: no signing secret for business %s", rxgate_errors.ErrWebhookConfigurationMissing, businessID)
	}
	return t, nil
}

func mergeSettings(t target, s commerce.BusinessSettings) target {
	if v := strings.TrimSpace(s.WebhookURL); v != "" {
		t.url = v
	}
	if s.WebhookSecret != "" {
		t.secret = s.WebhookSecret
	}
	if v := strings.TrimSpace(s.OpsEmail); v != "" {
		t.opsEmail = v
	}
	return t
}

func (d *Dispatcher) post(ctx context.Context, e outbox.OutboxEvent, t target) (int, error) {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(deliveryBody{EventID: e.ID, Type: e.Type, BusinessID: e.BusinessID, Payload: payload})
	if err != nil {
		return 0, err
	}
	ts := d.clock().UnixMilli()
	eventID := e.ID.String()

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", rxgate_errors.ErrWebhookDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(t.secret, ts, eventID, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", rxgate_errors.ErrWebhookDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: status %d", rxgate_errors.ErrWebhookDeliveryFailed, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// deadLetter parks the event and sends the fallback email at most once per
// event, however many times it is called.
func (d *Dispatcher) deadLetter(ctx context.Context, e outbox.OutboxEvent, attempts int, lastError, opsEmail string) {
	if err := d.repo.MarkDeadLetter(ctx, e.ID, attempts, lastError); err != nil {
		logger.GetGlobalLogger().Errorf("mark dead letter for event %s: %v", e.ID, err)
	}
	services.RecordAudit(ctx, d.auditor, services.AuditRecord{
		Actor:      "system:outbox",
		Action:     "outbox.dead_lettered",
		EntityType: "outbox_event",
		EntityID:   e.ID,
		BusinessID: e.BusinessID,
		RiskLevel:  services.RiskHigh,
		Changes:    map[string]any{"attempts": attempts, "last_error": lastError},
	})
	d.sendFallback(ctx, e, attempts, lastError, opsEmail)
}

func (d *Dispatcher) sendFallback(ctx context.Context, e outbox.OutboxEvent, attempts int, lastError, opsEmail string) {
	if d.email == nil || strings.TrimSpace(opsEmail) == "" {
		logger.GetGlobalLogger().Warnf("no ops contact for dead-lettered event %s", e.ID)
		metrics.FallbackEmailsTotal.WithLabelValues("no_recipient").Inc()
		return
	}
	claimed, err := d.repo.MarkFallbackSent(ctx, e.ID, d.clock())
	if err != nil {
		logger.GetGlobalLogger().Errorf("claim fallback email for event %s: %v", e.ID, err)
		return
	}
	if !claimed {
		return
	}

	subject := fmt.Sprintf("[rxgate] %s delivery failed for event %s", e.Type, e.ID)
	sent, err := d.email.Send(ctx, opsEmail, subject, fallbackText(e, attempts, lastError))
	if err == nil && sent {
		metrics.FallbackEmailsTotal.WithLabelValues("sent").Inc()
		return
	}
	if err == nil {
		err = errors.New("email provider did not accept the message")
	}
	logger.GetGlobalLogger().Errorf("fallback email for event %s: %v", e.ID, err)
	metrics.FallbackEmailsTotal.WithLabelValues("failed").Inc()
	if clearErr := d.repo.ClearFallbackSent(ctx, e.ID); clearErr != nil {
		logger.GetGlobalLogger().Errorf("release fallback claim for event %s: %v", e.ID, clearErr)
	}
}

func fallbackText(e outbox.OutboxEvent, attempts int, lastError string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outbox event %s could not be delivered and has been dead-lettered.\n\n", e.ID)
	fmt.Fprintf(&b, "Type: %s\n", e.Type)
	fmt.Fprintf(&b, "Business: %s\n", e.BusinessID)
	fmt.Fprintf(&b, "Attempts: %d\n", attempts)
	fmt.Fprintf(&b, "Last error: %s\n\n", lastError)
	b.WriteString("Payload:\n")
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, e.Payload, "", "  "); err == nil {
		b.Write(pretty.Bytes())
	} else {
		b.Write(e.Payload)
	}
	b.WriteString("\n")
	return b.String()
}
