package store

import (
	"context"
	"errors"
	"time"

	"shopstack/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
)

type Repository interface {
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, tenantID string, barcode string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, tenantID string, productID string) error

	ListInventory(ctx context.Context, tenantID string) ([]domain.Inventory, error)
	CreateInventory(ctx context.Context, inventory domain.Inventory) (*domain.Inventory, error)
	GetInventoryByID(ctx context.Context, tenantID string, inventoryID string) (*domain.Inventory, error)
	GetInventoryByProduct(ctx context.Context, tenantID string, productID string) (*domain.Inventory, error)
	GetInventoryBySKU(ctx context.Context, tenantID string, sku string) (*domain.Inventory, error)
	UpdateInventory(ctx context.Context, inventory domain.Inventory) (*domain.Inventory, error)
	DeleteInventory(ctx context.Context, tenantID string, inventoryID string) error
	LowStockItems(ctx context.Context, tenantID string) ([]domain.LowStockItem, error)
	MarkReordered(ctx context.Context, tenantID string, inventoryID string, qty int, at time.Time) (*domain.Inventory, error)

	GetOrCreatePendingSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetPendingSale(ctx context.Context, tenantID string, cashierID string) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error)
	GetSaleByReceipt(ctx context.Context, tenantID string, receiptNumber string) (*domain.Sale, error)
	ListSales(ctx context.Context, tenantID string, day *time.Time, limit int) ([]domain.Sale, error)
	SaveSaleDraft(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CompleteSale(ctx context.Context, tenantID string, saleID string, customerName string, at time.Time) (*domain.Sale, error)
	CancelSale(ctx context.Context, tenantID string, saleID string, at time.Time) (*domain.Sale, error)
	CreateCompletedSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, tenantID string, saleID string) error

	AdjustStock(ctx context.Context, tenantID string, productID string, delta int) error
	CreateReturnRecord(ctx context.Context, item domain.ReturnedDamagedItem) (*domain.ReturnedDamagedItem, error)
	GetReturnRecord(ctx context.Context, tenantID string, recordID string) (*domain.ReturnedDamagedItem, error)
	ListReturnRecords(ctx context.Context, tenantID string, limit int) ([]domain.ReturnedDamagedItem, error)
	UpdateReturnRecord(ctx context.Context, item domain.ReturnedDamagedItem) (*domain.ReturnedDamagedItem, error)
	DeleteReturnRecord(ctx context.Context, tenantID string, recordID string) error

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
