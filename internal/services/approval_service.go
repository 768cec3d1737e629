package services

import (
	"context"
	"errors"
	"time"

	"rxgate/internal/domain/approval"
	"rxgate/internal/repository"
	rxgate_errors "rxgate/pkg/errors"
)

// ApprovalService answers approval questions for the gates and for the
// reorder-eligibility query. The two use different predicates on purpose:
// gates use MatchLiveApproval, eligibility uses HasValidApproval.
type ApprovalService struct {
	repo      repository.ApprovalRepository
	freshness time.Duration
	now       func() time.Time
}

func NewApprovalService(repo repository.ApprovalRepository, freshness time.Duration) *ApprovalService {
	return &ApprovalService{repo: repo, freshness: freshness, now: time.Now}
}

func (s *ApprovalService) WithClock(now func() time.Time) *ApprovalService {
	s.now = now
	return s
}

// MatchLiveApproval is the raw gate check: the latest approved approval for
// key, provided it has not expired. ok=false means the gate must deny.
func (s *ApprovalService) MatchLiveApproval(ctx context.Context, key approval.Key) (approval.ConsultApproval, bool, error) {
	a, err := s.repo.LatestApproved(ctx, key)
	if errors.Is(err, rxgate_errors.ErrNotFound) {
		return approval.ConsultApproval{}, false, nil
	}
	if err != nil {
		return approval.ConsultApproval{}, false, err
	}
	if !a.Matches(key) || !a.IsLive(s.now()) {
		return a, false, nil
	}
	return a, true, nil
}

// HasValidApproval is the eligibility check. It additionally caps the
// approval's age at the freshness window regardless of expires_at.
func (s *ApprovalService) HasValidApproval(ctx context.Context, key approval.Key) (bool, error) {
	a, err := s.repo.LatestApproved(ctx, key)
	if errors.Is(err, rxgate_errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.Matches(key) && a.IsFresh(s.now(), s.freshness), nil
}
