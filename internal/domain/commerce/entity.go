package commerce

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

// Product is the read model of the catalog the gates consult.
type Product struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	BusinessID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Title           string
	RequiresConsult bool `gorm:"not null;default:false"`
}

type ProductVariant struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index"`
	SKU       string
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// FulfillmentStages are the order statuses whose entry triggers fulfillment.
var FulfillmentStages = map[OrderStatus]bool{
	OrderProcessing: true,
	OrderShipped:    true,
	OrderDelivered:  true,
}

// Order is the order metadata the fulfillment gate reads. ConsultProductIDs
// is nil when no precomputed list exists, which is different from an empty list.
type Order struct {
	ID                   uuid.UUID                      `gorm:"type:uuid;primaryKey"`
	BusinessID           uuid.UUID                      `gorm:"type:uuid;not null;index"`
	CustomerID           uuid.NullUUID                  `gorm:"type:uuid"`
	Status               OrderStatus                    `gorm:"type:varchar(20);not null"`
	RequiresConsultation bool                           `gorm:"not null;default:false"`
	ConsultProductIDs    datatypes.JSONSlice[uuid.UUID] `gorm:"type:jsonb"`
	Items                []OrderItem                    `gorm:"foreignKey:OrderID"`
	UpdatedAt            time.Time
}

// OrderItem is a line item. Product is populated when the caller preloaded it.
type OrderItem struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	OrderID   uuid.UUID     `gorm:"type:uuid;not null;index"`
	ProductID uuid.NullUUID `gorm:"type:uuid"`
	VariantID uuid.NullUUID `gorm:"type:uuid"`
	Quantity  int
	Product   *Product `gorm:"foreignKey:ProductID"`
}

// BusinessSettings holds the per-tenant outbox delivery configuration.
type BusinessSettings struct {
	BusinessID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	WebhookURL    string
	WebhookSecret string
	OpsEmail      string
}

func (Product) TableName() string {
	return "products"
}

func (ProductVariant) TableName() string {
	return "product_variants"
}

func (Order) TableName() string {
	return "orders"
}

func (OrderItem) TableName() string {
	return "order_items"
}

func (BusinessSettings) TableName() string {
	return "business_settings"
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
}

// CanTransition is the order lifecycle owned by the commerce side.
func CanTransition(from, to OrderStatus) bool {
	return lo.Contains(orderTransitions[from], to)
}
