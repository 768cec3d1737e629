package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"rxgate/internal/domain/approval"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/shopspring/decimal"
)

func TestSubmitConcurrentDuplicatesConverge(t *testing.T) {
	f := newFixture()
	productID := f.product(true)
	in := IntakeInput{
		BusinessID:         f.businessID,
		CustomerID:         f.customerID,
		ProductID:          productID,
		Email:              "pat@example.com",
		FirstName:          "Pat",
		EligibilityAnswers: []byte(`{"age_over_18":true,"allergies":[]}`),
		ConsultFee:         decimal.RequireFromString("49.00"),
	}

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	consultationIDs := make(map[string]bool)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, ok, err := f.intake.Submit(context.Background(), in)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			consultationIDs[rec.Consultation.ID.String()] = true
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("submit: %v", err)
	}

	if created != 1 {
		t.Fatalf("expected exactly one creating call, got %d", created)
	}
	if len(consultationIDs) != 1 {
		t.Fatalf("callers saw %d different consultations", len(consultationIDs))
	}
	subs, cons, apps, patients := f.store.Counts()
	if subs != 1 || cons != 1 || apps != 1 || patients != 1 {
		t.Fatalf("expected 1/1/1/1 records, got submissions=%d consultations=%d approvals=%d patients=%d", subs, cons, apps, patients)
	}
	if a := f.store.AllApprovals()[0]; a.Status != approval.StatusPending {
		t.Fatalf("expected pending approval, got %s", a.Status)
	}
}

func TestSubmitRejectsMalformedAnswersBeforeStorage(t *testing.T) {
	f := newFixture()
	productID := f.product(true)
	bad := [][]byte{nil, []byte(`[]`), []byte(`"yes"`), []byte(`{}`), []byte(`null`), []byte(`{"":1}`), []byte(`{broken`)}
	for _, answers := range bad {
		_, _, err := f.intake.Submit(context.Background(), IntakeInput{
			BusinessID:         f.businessID,
			CustomerID:         f.customerID,
			ProductID:          productID,
			EligibilityAnswers: answers,
		})
		if !errors.Is(err, rxgate_errors.ErrInvalidIntake) {
			t.Fatalf("answers %q: expected ErrInvalidIntake, got %v", answers, err)
		}
	}
	subs, cons, apps, patients := f.store.Counts()
	if subs+cons+apps+patients != 0 {
		t.Fatalf("invalid intake wrote records")
	}
}

func TestSubmitRejectsNegativeFee(t *testing.T) {
	f := newFixture()
	_, _, err := f.intake.Submit(context.Background(), IntakeInput{
		BusinessID:         f.businessID,
		CustomerID:         f.customerID,
		ProductID:          f.product(true),
		EligibilityAnswers: []byte(`{"q":"a"}`),
		ConsultFee:         decimal.NewFromInt(-1),
	})
	if !errors.Is(err, rxgate_errors.ErrInvalidIntake) {
		t.Fatalf("expected ErrInvalidIntake, got %v", err)
	}
}

func TestSubmitSameCustomerDifferentProducts(t *testing.T) {
	f := newFixture()
	for i := 0; i < 2; i++ {
		_, created, err := f.intake.Submit(context.Background(), IntakeInput{
			BusinessID:         f.businessID,
			CustomerID:         f.customerID,
			ProductID:          f.product(true),
			EligibilityAnswers: []byte(`{"q":"a"}`),
		})
		if err != nil || !created {
			t.Fatalf("submit %d: created=%v err=%v", i, created, err)
		}
	}
	subs, _, _, patients := f.store.Counts()
	if subs != 2 || patients != 1 {
		t.Fatalf("expected 2 submissions sharing 1 patient, got %d/%d", subs, patients)
	}
}
