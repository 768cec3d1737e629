// Package memory holds in-process implementations of the repository
// interfaces. A single mutex stands in for the database's row locks and
// unique indexes, so the atomicity guarantees match the Postgres versions
// within one process. Used by tests and by APP_MODE=test.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/domain/outbox"
	"rxgate/internal/repository"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	consultations map[uuid.UUID]consultation.Consultation
	deleted       map[uuid.UUID]bool
	statusEvents  map[uuid.UUID][]consultation.StatusEvent
	clinicians    map[uuid.UUID]consultation.Clinician
	patients      map[uuid.UUID]consultation.Patient
	submissions   map[uuid.UUID]consultation.Submission
	approvals     map[uuid.UUID]approval.ConsultApproval
	events        map[uuid.UUID]outbox.OutboxEvent
	dedupe        map[string]uuid.UUID
	deliveries    []outbox.OutboxEventDelivery
	products      map[uuid.UUID]commerce.Product
	variants      map[uuid.UUID]commerce.ProductVariant
	orders        map[uuid.UUID]commerce.Order
	settings      map[uuid.UUID]commerce.BusinessSettings
}

func NewStore() *Store {
	return &Store{
		consultations: make(map[uuid.UUID]consultation.Consultation),
		deleted:       make(map[uuid.UUID]bool),
		statusEvents:  make(map[uuid.UUID][]consultation.StatusEvent),
		clinicians:    make(map[uuid.UUID]consultation.Clinician),
		patients:      make(map[uuid.UUID]consultation.Patient),
		submissions:   make(map[uuid.UUID]consultation.Submission),
		approvals:     make(map[uuid.UUID]approval.ConsultApproval),
		events:        make(map[uuid.UUID]outbox.OutboxEvent),
		dedupe:        make(map[string]uuid.UUID),
		products:      make(map[uuid.UUID]commerce.Product),
		variants:      make(map[uuid.UUID]commerce.ProductVariant),
		orders:        make(map[uuid.UUID]commerce.Order),
		settings:      make(map[uuid.UUID]commerce.BusinessSettings),
	}
}

func (s *Store) Consultations() repository.ConsultationRepository { return &consultationRepo{s} }
func (s *Store) Clinicians() repository.ClinicianRepository       { return &clinicianRepo{s} }
func (s *Store) Patients() repository.PatientRepository           { return &patientRepo{s} }
func (s *Store) Intake() repository.IntakeRepository              { return &intakeRepo{s} }
func (s *Store) Approvals() repository.ApprovalRepository         { return &approvalRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository              { return &outboxRepo{s} }
func (s *Store) Catalog() repository.CatalogRepository            { return &catalogRepo{s} }
func (s *Store) Orders() repository.OrderRepository               { return &orderRepo{s} }
func (s *Store) BusinessSettings() repository.BusinessSettingsRepository {
	return &settingsRepo{s}
}

func (s *Store) Transactor() repository.Transactor { return s }

// InTx serializes transactions and rolls back the consultation and approval
// tables when fn fails. Writers outside a transaction are not isolated.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	consultations := maps.Clone(s.consultations)
	deleted := maps.Clone(s.deleted)
	approvals := maps.Clone(s.approvals)
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.consultations = consultations
		s.deleted = deleted
		s.approvals = approvals
		s.mu.Unlock()
		return err
	}
	return nil
}

type inTxKey struct{}

// Seed helpers. They bypass every invariant and exist for fixtures.

func (s *Store) PutClinician(c consultation.Clinician) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinicians[c.ID] = c
}

func (s *Store) PutApproval(a approval.ConsultApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.approvals[a.ID] = a
}

func (s *Store) PutProduct(p commerce.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutVariant(v commerce.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

func (s *Store) PutOrder(o commerce.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *Store) PutBusinessSettings(b commerce.BusinessSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[b.BusinessID] = b
}

func (s *Store) PutConsultation(c consultation.Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consultations[c.ID] = c
}

// Counts reports how many intake records exist, for assertions.
func (s *Store) Counts() (submissions, consultations, approvals, patients int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions), len(s.consultations), len(s.approvals), len(s.patients)
}

func (s *Store) AllApprovals() []approval.ConsultApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Values(s.approvals)
}

func (s *Store) AllEvents() []outbox.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Values(s.events)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Deliveries() []outbox.OutboxEventDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.OutboxEventDelivery(nil), s.deliveries...)
}

type consultationRepo struct{ s *Store }

func (r *consultationRepo) Create(_ context.Context, c *consultation.Consultation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := r.s.consultations[c.ID]; ok {
		return rxgate_errors.ErrAlreadyExists
	}
	r.s.consultations[c.ID] = *c
	return nil
}

func (r *consultationRepo) GetByID(_ context.Context, id uuid.UUID) (consultation.Consultation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.consultations[id]
	if !ok || r.s.deleted[id] {
		return consultation.Consultation{}, rxgate_errors.ErrNotFound
	}
	return c, nil
}

func (r *consultationRepo) UpdateIfStatus(_ context.Context, c consultation.Consultation, expected consultation.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.consultations[c.ID]
	if !ok || r.s.deleted[c.ID] {
		return rxgate_errors.ErrNotFound
	}
	if current.Status != expected {
		return rxgate_errors.ErrConflict
	}
	c.UpdatedAt = time.Now()
	r.s.consultations[c.ID] = c
	return nil
}

func (r *consultationRepo) AssignClinician(_ context.Context, id, clinicianID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.consultations[id]
	if !ok || r.s.deleted[id] {
		return rxgate_errors.ErrNotFound
	}
	if c.Status.IsTerminal() {
		return rxgate_errors.ErrConflict
	}
	c.ClinicianID = uuid.NullUUID{UUID: clinicianID, Valid: true}
	c.UpdatedAt = time.Now()
	r.s.consultations[id] = c
	return nil
}

func (r *consultationRepo) AppendStatusEvent(_ context.Context, e *consultation.StatusEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	r.s.statusEvents[e.ConsultationID] = append(r.s.statusEvents[e.ConsultationID], *e)
	return nil
}

func (r *consultationRepo) ListStatusEvents(_ context.Context, id uuid.UUID) ([]consultation.StatusEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]consultation.StatusEvent(nil), r.s.statusEvents[id]...), nil
}

func (r *consultationRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.consultations[id]; !ok || r.s.deleted[id] {
		return rxgate_errors.ErrNotFound
	}
	r.s.deleted[id] = true
	return nil
}

func (r *consultationRepo) Restore(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.deleted[id] {
		return rxgate_errors.ErrNotFound
	}
	delete(r.s.deleted, id)
	return nil
}

type clinicianRepo struct{ s *Store }

func (r *clinicianRepo) GetByID(_ context.Context, id uuid.UUID) (consultation.Clinician, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clinicians[id]
	if !ok || !c.IsActive {
		return consultation.Clinician{}, rxgate_errors.ErrNotFound
	}
	return c, nil
}

type patientRepo struct{ s *Store }

func (r *patientRepo) GetByID(_ context.Context, id uuid.UUID) (consultation.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.patients[id]
	if !ok {
		return consultation.Patient{}, rxgate_errors.ErrNotFound
	}
	return p, nil
}

type intakeRepo struct{ s *Store }

func (r *intakeRepo) CreateIfAbsent(_ context.Context, in repository.IntakeRecord) (repository.IntakeRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out repository.IntakeRecord
	patient, found := lo.Find(lo.Values(r.s.patients), func(p consultation.Patient) bool {
		return p.BusinessID == in.Patient.BusinessID && p.CustomerID == in.Patient.CustomerID
	})
	if !found {
		patient = in.Patient
		r.s.patients[patient.ID] = patient
	}
	out.Patient = patient

	sub := in.Submission
	existing, found := lo.Find(lo.Values(r.s.submissions), func(x consultation.Submission) bool {
		return x.BusinessID == sub.BusinessID &&
			x.CustomerID == sub.CustomerID &&
			x.ProductID == sub.ProductID &&
			x.Status == consultation.SubmissionPending &&
			!x.DeletedAt.Valid
	})
	if found {
		out.Submission = existing
		out.Consultation = r.s.consultations[existing.ConsultationID.UUID]
		if a, ok := lo.Find(lo.Values(r.s.approvals), func(a approval.ConsultApproval) bool {
			return a.BusinessID == sub.BusinessID && a.CustomerID == sub.CustomerID &&
				a.ProductID == sub.ProductID && a.Status == approval.StatusPending
		}); ok {
			out.Approval = a
		}
		return out, false, nil
	}

	c := in.Consultation
	c.PatientID = patient.ID
	c.OriginatingSubmissionID = uuid.NullUUID{UUID: sub.ID, Valid: true}
	sub.ConsultationID = uuid.NullUUID{UUID: c.ID, Valid: true}

	r.s.submissions[sub.ID] = sub
	r.s.consultations[c.ID] = c
	r.s.approvals[in.Approval.ID] = in.Approval

	out.Submission = sub
	out.Consultation = c
	out.Approval = in.Approval
	return out, true, nil
}

func (r *intakeRepo) MarkSubmissionReviewed(_ context.Context, submissionID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.submissions[submissionID]
	if !ok {
		return rxgate_errors.ErrNotFound
	}
	sub.Status = consultation.SubmissionReviewed
	sub.UpdatedAt = time.Now()
	r.s.submissions[submissionID] = sub
	return nil
}

type approvalRepo struct{ s *Store }

func (r *approvalRepo) LatestApproved(_ context.Context, key approval.Key) (approval.ConsultApproval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matching := lo.Filter(lo.Values(r.s.approvals), func(a approval.ConsultApproval, _ int) bool {
		return a.Matches(key) && a.Status == approval.StatusApproved
	})
	latest, ok := approval.Latest(matching)
	if !ok {
		return approval.ConsultApproval{}, rxgate_errors.ErrNotFound
	}
	return latest, nil
}

func (r *approvalRepo) findForConsultation(key approval.Key, consultationID uuid.UUID) (approval.ConsultApproval, bool) {
	if a, ok := lo.Find(lo.Values(r.s.approvals), func(a approval.ConsultApproval) bool {
		return a.ConsultationID.Valid && a.ConsultationID.UUID == consultationID
	}); ok {
		return a, true
	}
	pending := lo.Filter(lo.Values(r.s.approvals), func(a approval.ConsultApproval, _ int) bool {
		return a.Matches(key) && a.Status == approval.StatusPending
	})
	return approval.Latest(pending)
}

func (r *approvalRepo) Approve(_ context.Context, key approval.Key, consultationID uuid.UUID, approvedAt time.Time, expiresAt *time.Time) (approval.ConsultApproval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, found := r.findForConsultation(key, consultationID)
	if !found {
		a = approval.ConsultApproval{
			ID:         uuid.New(),
			BusinessID: key.BusinessID,
			CustomerID: key.CustomerID,
			ProductID:  key.ProductID,
			CreatedAt:  approvedAt,
		}
	}
	a.ConsultationID = uuid.NullUUID{UUID: consultationID, Valid: true}
	a.Status = approval.StatusApproved
	a.ApprovedAt = &approvedAt
	a.ExpiresAt = expiresAt
	a.UpdatedAt = approvedAt
	r.s.approvals[a.ID] = a
	return a, nil
}

func (r *approvalRepo) Reject(_ context.Context, key approval.Key, consultationID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, found := r.findForConsultation(key, consultationID)
	if !found {
		return nil
	}
	a.ConsultationID = uuid.NullUUID{UUID: consultationID, Valid: true}
	a.Status = approval.StatusRejected
	a.UpdatedAt = time.Now()
	r.s.approvals[a.ID] = a
	return nil
}

func (r *approvalRepo) ListApprovedSince(_ context.Context, since time.Time, limit int) ([]approval.ConsultApproval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := lo.Filter(lo.Values(r.s.approvals), func(a approval.ConsultApproval, _ int) bool {
		return a.Status == approval.StatusApproved && a.ApprovedAt != nil && !a.ApprovedAt.Before(since)
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ApprovedAt.After(*items[j].ApprovedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type outboxRepo struct{ s *Store }

func (r *outboxRepo) CreateOnce(_ context.Context, e *outbox.OutboxEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.dedupe[e.DedupeKey]; ok {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = outbox.StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	r.s.events[e.ID] = *e
	r.s.dedupe[e.DedupeKey] = e.ID
	return true, nil
}

func (r *outboxRepo) GetByID(_ context.Context, id uuid.UUID) (outbox.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return outbox.OutboxEvent{}, rxgate_errors.ErrNotFound
	}
	return e, nil
}

func (r *outboxRepo) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]outbox.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	due := lo.Filter(lo.Values(r.s.events), func(e outbox.OutboxEvent, _ int) bool {
		return e.IsDue(now) && (e.ClaimedUntil == nil || e.ClaimedUntil.Before(now))
	})
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	until := now.Add(lease)
	for i := range due {
		due[i].ClaimedUntil = &until
		r.s.events[due[i].ID] = due[i]
	}
	return due, nil
}

func (r *outboxRepo) update(id uuid.UUID, allowed func(outbox.OutboxEvent) bool, fn func(*outbox.OutboxEvent)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok || !allowed(e) {
		return rxgate_errors.ErrNotFound
	}
	fn(&e)
	e.ClaimedUntil = nil
	e.UpdatedAt = time.Now()
	r.s.events[id] = e
	return nil
}

func isPending(e outbox.OutboxEvent) bool { return e.Status == outbox.StatusPending }

func (r *outboxRepo) MarkDelivered(_ context.Context, id uuid.UUID, deliveredAt time.Time) error {
	return r.update(id, isPending, func(e *outbox.OutboxEvent) {
		e.Status = outbox.StatusDelivered
		e.DeliveredAt = &deliveredAt
		e.Attempts++
		e.NextAttemptAt = nil
		e.LastError = ""
	})
}

func (r *outboxRepo) ScheduleRetry(_ context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	return r.update(id, isPending, func(e *outbox.OutboxEvent) {
		e.Attempts = attempts
		e.NextAttemptAt = &nextAttemptAt
		e.LastError = lastError
	})
}

func (r *outboxRepo) MarkDeadLetter(_ context.Context, id uuid.UUID, attempts int, lastError string) error {
	notDelivered := func(e outbox.OutboxEvent) bool { return e.Status != outbox.StatusDelivered }
	return r.update(id, notDelivered, func(e *outbox.OutboxEvent) {
		e.Status = outbox.StatusDeadLetter
		e.Attempts = attempts
		e.NextAttemptAt = nil
		e.LastError = lastError
	})
}

func (r *outboxRepo) MarkFallbackSent(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return false, rxgate_errors.ErrNotFound
	}
	if e.FallbackEmailSentAt != nil {
		return false, nil
	}
	e.FallbackEmailSentAt = &at
	r.s.events[id] = e
	return true, nil
}

func (r *outboxRepo) ClearFallbackSent(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return rxgate_errors.ErrNotFound
	}
	e.FallbackEmailSentAt = nil
	r.s.events[id] = e
	return nil
}

func (r *outboxRepo) RecordDelivery(_ context.Context, d *outbox.OutboxEventDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.s.deliveries = append(r.s.deliveries, *d)
	return nil
}

func (r *outboxRepo) ListDeadLetters(_ context.Context, limit int) ([]outbox.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := lo.Filter(lo.Values(r.s.events), func(e outbox.OutboxEvent, _ int) bool {
		return e.Status == outbox.StatusDeadLetter
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *outboxRepo) Requeue(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return rxgate_errors.ErrNotFound
	}
	if e.Status != outbox.StatusDeadLetter {
		return rxgate_errors.ErrConflict
	}
	e.Status = outbox.StatusPending
	e.Attempts = 0
	e.NextAttemptAt = nil
	e.FallbackEmailSentAt = nil
	e.UpdatedAt = time.Now()
	r.s.events[id] = e
	return nil
}

type catalogRepo struct{ s *Store }

func (r *catalogRepo) RequiresConsult(_ context.Context, productID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[productID]
	if !ok {
		return false, rxgate_errors.ErrNotFound
	}
	return p.RequiresConsult, nil
}

func (r *catalogRepo) ResolveProductID(_ context.Context, variantID uuid.UUID) (uuid.UUID, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.variants[variantID]
	if !ok {
		return uuid.Nil, false, nil
	}
	return v.ProductID, true, nil
}

type orderRepo struct{ s *Store }

func (r *orderRepo) GetByID(_ context.Context, id uuid.UUID) (commerce.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return commerce.Order{}, rxgate_errors.ErrNotFound
	}
	return o, nil
}

func (r *orderRepo) UpdateStatus(_ context.Context, id uuid.UUID, to commerce.OrderStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return rxgate_errors.ErrNotFound
	}
	if !commerce.CanTransition(o.Status, to) {
		return rxgate_errors.ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	r.s.orders[id] = o
	return nil
}

type settingsRepo struct{ s *Store }

func (r *settingsRepo) GetByBusinessID(_ context.Context, businessID uuid.UUID) (commerce.BusinessSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.settings[businessID]
	if !ok {
		return commerce.BusinessSettings{}, rxgate_errors.ErrNotFound
	}
	return b, nil
}
