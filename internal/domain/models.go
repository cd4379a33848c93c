package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	QuantityInStock int             `json:"quantity_in_stock"`
	Barcode         string          `json:"barcode,omitempty"`
	ReorderPoint    int             `json:"reorder_point"`
	ReorderQuantity int             `json:"reorder_quantity"`
	SupplierID      string          `json:"supplier_id,omitempty"`
	Deleted         bool            `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	QuantityInStock int             `json:"quantity_in_stock"`
	Barcode         string          `json:"barcode"`
	ReorderPoint    int             `json:"reorder_point"`
	ReorderQuantity int             `json:"reorder_quantity"`
	SupplierID      string          `json:"supplier_id"`
}

type ProductUpdateRequest struct {
	Name            *string          `json:"name,omitempty"`
	Description     *string          `json:"description,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	CostPrice       *decimal.Decimal `json:"cost_price,omitempty"`
	QuantityInStock *int             `json:"quantity_in_stock,omitempty"`
	Barcode         *string          `json:"barcode,omitempty"`
	ReorderPoint    *int             `json:"reorder_point,omitempty"`
	ReorderQuantity *int             `json:"reorder_quantity,omitempty"`
	SupplierID      *string          `json:"supplier_id,omitempty"`
}

type Inventory struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	ProductID        string          `json:"product_id"`
	SKU              string          `json:"sku"`
	StockQuantity    int             `json:"stock_quantity"`
	ReorderThreshold int             `json:"reorder_threshold"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	SupplierID       string          `json:"supplier_id,omitempty"`
	LastReorderedAt  *time.Time      `json:"last_reordered_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type InventoryCreateRequest struct {
	ProductID        string          `json:"product_id"`
	SKU              string          `json:"sku"`
	StockQuantity    int             `json:"stock_quantity"`
	ReorderThreshold int             `json:"reorder_threshold"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	SupplierID       string          `json:"supplier_id"`
}

type InventoryUpdateRequest struct {
	SKU              *string          `json:"sku,omitempty"`
	StockQuantity    *int             `json:"stock_quantity,omitempty"`
	ReorderThreshold *int             `json:"reorder_threshold,omitempty"`
	UnitPrice        *decimal.Decimal `json:"unit_price,omitempty"`
	CostPrice        *decimal.Decimal `json:"cost_price,omitempty"`
	SupplierID       *string          `json:"supplier_id,omitempty"`
}

type LowStockItem struct {
	InventoryID      string `json:"inventory_id"`
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	SKU              string `json:"sku"`
	StockQuantity    int    `json:"stock_quantity"`
	ReorderThreshold int    `json:"reorder_threshold"`
	ReorderQuantity  int    `json:"reorder_quantity"`
}

type SaleItem struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PricePerUnit    decimal.Decimal `json:"price_per_unit"`
	DiscountPercent float64         `json:"discount_percent"`
}

type Sale struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	CashierID     string          `json:"cashier_id"`
	ReceiptNumber string          `json:"receipt_number"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Profit        decimal.Decimal `json:"profit"`
	Status        string          `json:"status"`
	CustomerName  string          `json:"customer_name,omitempty"`
	SaleDate      *time.Time      `json:"sale_date,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []SaleItem      `json:"items"`
}

type ScanRequest struct {
	ProductRef string `json:"product_ref"`
	Quantity   int    `json:"quantity"`
}

type LineUpdateRequest struct {
	Quantity        *int     `json:"quantity,omitempty"`
	DiscountPercent *float64 `json:"discount_percent,omitempty"`
}

type SaleLineRequest struct {
	ProductRef      string  `json:"product_ref"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discount_percent"`
}

type CreateSaleRequest struct {
	Items        []SaleLineRequest `json:"items"`
	CustomerName string            `json:"customer_name"`
	Status       string            `json:"status"`
}

type CompleteSaleRequest struct {
	CustomerName string `json:"customer_name"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type ReturnRequest struct {
	ItemRef       string `json:"item_ref"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
}

type ReturnUpdateRequest struct {
	Quantity *int    `json:"quantity,omitempty"`
	Reason   *string `json:"reason,omitempty"`
}

type ReturnedDamagedItem struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	InventoryID string    `json:"inventory_id"`
	ProductID   string    `json:"product_id"`
	SaleID      string    `json:"sale_id,omitempty"`
	Quantity    int       `json:"quantity"`
	Reason      string    `json:"reason"`
	Kind        string    `json:"kind"`
	ReturnDate  time.Time `json:"return_date"`
	RecordedBy  string    `json:"recorded_by"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ReturnListResponse struct {
	Items []ReturnedDamagedItem `json:"items"`
}

type Supplier struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Tenant      string `json:"tenant"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor identifies the authenticated caller. Tenant is the owner username
// whose data the caller operates on; for owners it equals Username.
type Actor struct {
	Username string
	Role     string
	Tenant   string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ParentID  string    `json:"parent_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	ParentID  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

const (
	ReturnKindReturn = "return"
	ReturnKindDamage = "damage"
)

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)
