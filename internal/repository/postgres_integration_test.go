//go:build integration

// Run with: RXGATE_TEST_DSN=postgres://... go test -tags integration ./internal/repository/
package repository_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/domain/consultation"
	"rxgate/internal/domain/outbox"
	"rxgate/internal/repository"
	"rxgate/internal/services"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("RXGATE_TEST_DSN")
	if dsn == "" {
		t.Skip("RXGATE_TEST_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := repository.DropSchema(db); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	if err := repository.InitSchema(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestIntakeConcurrentSubmissionsConvergeOnPostgres(t *testing.T) {
	db := openTestDB(t)
	svc := services.NewIntakeService(repository.NewIntakeRepository(db), nil)
	in := services.IntakeInput{
		BusinessID:         uuid.New(),
		CustomerID:         uuid.New(),
		ProductID:          uuid.New(),
		Email:              "pat@example.com",
		EligibilityAnswers: []byte(`{"q1":"yes"}`),
	}

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		consults = map[uuid.UUID]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, ok, err := svc.Submit(context.Background(), in)
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			consults[rec.Consultation.ID] = true
		}()
	}
	wg.Wait()

	if created != 1 || len(consults) != 1 {
		t.Fatalf("created=%d distinct consultations=%d", created, len(consults))
	}
	var submissions, approvals int64
	db.Model(&consultation.Submission{}).Where("customer_id = ?", in.CustomerID).Count(&submissions)
	db.Model(&approval.ConsultApproval{}).Where("customer_id = ?", in.CustomerID).Count(&approvals)
	if submissions != 1 || approvals != 1 {
		t.Fatalf("submissions=%d approvals=%d", submissions, approvals)
	}
}

func seedEvents(t *testing.T, repo repository.OutboxRepository, n int, now time.Time) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		a := approval.ConsultApproval{
			ID: uuid.New(), BusinessID: uuid.New(), CustomerID: uuid.New(), ProductID: uuid.New(),
			Status: approval.StatusApproved, ApprovedAt: &now,
		}
		evt, err := services.NewApprovalEvent(a, now.Add(time.Duration(i)*time.Millisecond))
		if err != nil {
			t.Fatalf("build event: %v", err)
		}
		if _, err := repo.CreateOnce(context.Background(), evt); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, evt.ID)
	}
	return ids
}

func TestClaimDueNeverHandsOutARowTwiceOnPostgres(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewOutboxRepository(db)
	now := time.Now().UTC()
	ids := seedEvents(t, repo, 10, now.Add(-time.Minute))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims = map[uuid.UUID]int{}
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, err := repo.ClaimDue(context.Background(), now, 5, time.Minute)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, e := range events {
				claims[e.ID]++
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		if claims[id] != 1 {
			t.Fatalf("event %s claimed %d times", id, claims[id])
		}
	}
	if again, _ := repo.ClaimDue(context.Background(), now, 0, time.Minute); len(again) != 0 {
		t.Fatalf("leased events claimed again: %d", len(again))
	}
	if after, _ := repo.ClaimDue(context.Background(), now.Add(2*time.Minute), 0, time.Minute); len(after) != len(ids) {
		t.Fatalf("expired leases not reclaimable: got %d", len(after))
	}
}

func TestMarkFallbackSentWinsOnceOnPostgres(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewOutboxRepository(db)
	id := seedEvents(t, repo, 1, time.Now().UTC())[0]

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkFallbackSent(context.Background(), id, time.Now())
			if err != nil {
				t.Errorf("mark: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}

	if err := repo.ClearFallbackSent(context.Background(), id); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok, _ := repo.MarkFallbackSent(context.Background(), id, time.Now()); !ok {
		t.Fatalf("cleared flag could not be claimed again")
	}
}

func TestTransactorRollsBackCompletionOnPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec, _, err := services.NewIntakeService(repository.NewIntakeRepository(db), nil).Submit(ctx, services.IntakeInput{
		BusinessID:         uuid.New(),
		CustomerID:         uuid.New(),
		ProductID:          uuid.New(),
		Email:              "pat@example.com",
		EligibilityAnswers: []byte(`{"q1":"yes"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	consults := repository.NewConsultationRepository(db)
	approvals := repository.NewApprovalRepository(db)
	key := approval.Key{BusinessID: rec.Consultation.BusinessID, CustomerID: rec.Patient.CustomerID, ProductID: rec.Consultation.ProductID}

	errAbort := errors.New("abort")
	err = repository.NewTransactor(db).InTx(ctx, func(ctx context.Context) error {
		c := rec.Consultation
		c.Status = consultation.StatusCancelled
		if err := consults.UpdateIfStatus(ctx, c, rec.Consultation.Status); err != nil {
			return err
		}
		if _, err := approvals.Approve(ctx, key, c.ID, time.Now(), nil); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort, got %v", err)
	}

	stored, err := consults.GetByID(ctx, rec.Consultation.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != rec.Consultation.Status {
		t.Fatalf("rolled back update persisted: %s", stored.Status)
	}
	if _, err := approvals.LatestApproved(ctx, key); err == nil {
		t.Fatalf("rolled back approval persisted")
	}
}
