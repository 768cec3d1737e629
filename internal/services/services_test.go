package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/commerce"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/repository/memory"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

type fakeAuditor struct {
	mu      sync.Mutex
	records []AuditRecord
	err     error
}

func (f *fakeAuditor) RecordEvent(_ context.Context, rec AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeAuditor) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Action)
	}
	return out
}

type panicAuditor struct{}

func (panicAuditor) RecordEvent(context.Context, AuditRecord) error { panic("sink down") }

var errBoom = errors.New("boom")

type fixture struct {
	store         *memory.Store
	auditor       *fakeAuditor
	approvals     *ApprovalService
	consultations *ConsultationService
	intake        *IntakeService
	purchase      *PurchaseGate
	fulfillment   *FulfillmentGate
	businessID    uuid.UUID
	customerID    uuid.UUID
}

func newFixture() *fixture {
	store := memory.NewStore()
	auditor := &fakeAuditor{}
	approvals := NewApprovalService(store.Approvals(), 90*24*time.Hour).WithClock(fixedClock(testNow))
	f := &fixture{
		store:      store,
		auditor:    auditor,
		approvals:  approvals,
		businessID: uuid.New(),
		customerID: uuid.New(),
	}
	f.consultations = NewConsultationService(
		store.Consultations(), store.Clinicians(), store.Patients(), store.Intake(),
		store.Approvals(), store.Outbox(), store.Transactor(), auditor, 365*24*time.Hour,
	).WithClock(fixedClock(testNow))
	f.intake = NewIntakeService(store.Intake(), auditor)
	f.purchase = NewPurchaseGate(store.Catalog(), approvals)
	f.fulfillment = NewFulfillmentGate(store.Orders(), store.Catalog(), approvals, auditor)
	return f
}

func (f *fixture) customerCtx() context.Context {
	return WithIdentity(context.Background(), Identity{CustomerID: f.customerID, BusinessID: f.businessID})
}

func (f *fixture) product(requiresConsult bool) uuid.UUID {
	id := uuid.New()
	f.store.PutProduct(commerce.Product{ID: id, BusinessID: f.businessID, RequiresConsult: requiresConsult})
	return id
}

func (f *fixture) approve(customerID, productID uuid.UUID, approvedAt time.Time, expiresAt *time.Time) approval.ConsultApproval {
	a := approval.ConsultApproval{
		ID:         uuid.New(),
		BusinessID: f.businessID,
		CustomerID: customerID,
		ProductID:  productID,
		Status:     approval.StatusApproved,
		ApprovedAt: &approvedAt,
		ExpiresAt:  expiresAt,
		CreatedAt:  approvedAt,
	}
	f.store.PutApproval(a)
	return a
}

func keyFor(f *fixture, productID uuid.UUID) approval.Key {
	return approval.Key{BusinessID: f.businessID, CustomerID: f.customerID, ProductID: productID}
}

func timePtr(t time.Time) *time.Time { return &t }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// inProgress seeds a consultation that has a patient and is ready to complete.
func (f *fixture) inProgress(productID uuid.UUID, startedAt time.Time) consultation.Consultation {
	rec, _, err := f.intake.Submit(context.Background(), IntakeInput{
		BusinessID:         f.businessID,
		CustomerID:         f.customerID,
		ProductID:          productID,
		Email:              "pat@example.com",
		EligibilityAnswers: []byte(`{"q1":"yes"}`),
	})
	if err != nil {
		panic(err)
	}
	c := rec.Consultation
	c.Status = consultation.StatusInProgress
	c.StartedAt = &startedAt
	f.store.PutConsultation(c)
	return c
}
