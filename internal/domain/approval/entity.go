package approval

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Key is the natural identity an approval is matched on. All three fields
// must match; nothing carries across tenants, customers or products.
type Key struct {
	BusinessID uuid.UUID
	CustomerID uuid.UUID
	ProductID  uuid.UUID
}

// ConsultApproval represents consult_approvals
type ConsultApproval struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BusinessID     uuid.UUID     `gorm:"type:uuid;not null;index:idx_consult_approvals_key" json:"business_id"`
	CustomerID     uuid.UUID     `gorm:"type:uuid;not null;index:idx_consult_approvals_key" json:"customer_id"`
	ProductID      uuid.UUID     `gorm:"type:uuid;not null;index:idx_consult_approvals_key" json:"product_id"`
	ConsultationID uuid.NullUUID `gorm:"type:uuid" json:"consultation_id"`
	Status         Status        `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ApprovedAt     *time.Time    `gorm:"index" json:"approved_at,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	CreatedAt      time.Time     `gorm:"default:now()" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"default:now()" json:"updated_at"`
}

func (ConsultApproval) TableName() string {
	return "consult_approvals"
}

func (a ConsultApproval) Key() Key {
	return Key{BusinessID: a.BusinessID, CustomerID: a.CustomerID, ProductID: a.ProductID}
}

// Matches reports whether the approval belongs to exactly this key.
func (a ConsultApproval) Matches(k Key) bool {
	return a.BusinessID == k.BusinessID && a.CustomerID == k.CustomerID && a.ProductID == k.ProductID
}

// IsLive is the raw gate check used at purchase and fulfillment time:
// approved and not past its stored expiry.
func (a ConsultApproval) IsLive(now time.Time) bool {
	if a.Status != StatusApproved {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// IsFresh is the reorder-eligibility check. On top of IsLive it refuses
// approvals granted more than window ago, whatever expires_at says.
func (a ConsultApproval) IsFresh(now time.Time, window time.Duration) bool {
	if !a.IsLive(now) || a.ApprovedAt == nil {
		return false
	}
	return now.Sub(*a.ApprovedAt) <= window
}

// Newer orders approvals by approved_at, falling back to created_at.
func Newer(a, b ConsultApproval) bool {
	at, bt := a.CreatedAt, b.CreatedAt
	if a.ApprovedAt != nil {
		at = *a.ApprovedAt
	}
	if b.ApprovedAt != nil {
		bt = *b.ApprovedAt
	}
	if at.Equal(bt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return at.After(bt)
}

// Latest returns the authoritative approval out of a history.
func Latest(items []ConsultApproval) (ConsultApproval, bool) {
	if len(items) == 0 {
		return ConsultApproval{}, false
	}
	best := items[0]
	for _, item := range items[1:] {
		if Newer(item, best) {
			best = item
		}
	}
	return best, true
}
