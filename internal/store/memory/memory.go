package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"shopstack/backend/internal/domain"
	"shopstack/backend/internal/store"
	"shopstack/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	productsByID    map[string]domain.Product
	inventoryByID   map[string]domain.Inventory
	salesByID       map[string]*domain.Sale
	saleByReceipt   map[string]string
	pendingByKey    map[string]string
	returnsByID     map[string]domain.ReturnedDamagedItem
	suppliersByID   map[string]domain.Supplier
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		parentID string
	}{
		{"owner", ownerPwd, domain.RoleOwner, ""},
		{"staff", staffPwd, domain.RoleStaff, "owner"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			ParentID:  u.parentID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	tenant := "owner"

	supplier := domain.Supplier{
		ID:        xid.New("sup"),
		TenantID:  tenant,
		Name:      "Hardline Wholesale",
		Phone:     "+1-555-0142",
		CreatedAt: now,
	}

	type seedRow struct {
		name      string
		desc      string
		price     string
		cost      string
		stock     int
		barcode   string
		sku       string
		reorderAt int
		reorderBy int
	}
	rows := []seedRow{
		{"Claw Hammer", "16oz steel claw hammer", "12.50", "7.00", 100, "1234567890123", "HAM-001", 15, 40},
		{"Screwdriver Set", "6-piece magnetic set", "24.99", "14.25", 50, "2345678901234", "SCR-002", 10, 25},
		{"Power Drill", "Cordless 18V drill", "79.99", "40.00", 30, "3456789012345", "DRL-003", 5, 10},
		{"Paint Roller", "9 inch roller with tray", "8.75", "4.10", 80, "4567890123456", "PNT-004", 20, 60},
		{"Work Gloves", "Leather palm, pair", "6.20", "2.90", 120, "", "GLV-005", 25, 75},
	}

	products := make(map[string]domain.Product, len(rows))
	inventory := make(map[string]domain.Inventory, len(rows))
	for _, r := range rows {
		p := domain.Product{
			ID:              xid.New("prod"),
			TenantID:        tenant,
			Name:            r.name,
			Description:     r.desc,
			Price:           decimal.RequireFromString(r.price),
			CostPrice:       decimal.RequireFromString(r.cost),
			QuantityInStock: r.stock,
			Barcode:         r.barcode,
			ReorderPoint:    r.reorderAt,
			ReorderQuantity: r.reorderBy,
			SupplierID:      supplier.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		inv := domain.Inventory{
			ID:               xid.New("inv"),
			TenantID:         tenant,
			ProductID:        p.ID,
			SKU:              r.sku,
			StockQuantity:    r.stock,
			ReorderThreshold: r.reorderAt,
			UnitPrice:        p.Price,
			CostPrice:        p.CostPrice,
			SupplierID:       supplier.ID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		products[p.ID] = p
		inventory[inv.ID] = inv
	}

	return &Store{
		productsByID:    products,
		inventoryByID:   inventory,
		salesByID:       make(map[string]*domain.Sale),
		saleByReceipt:   make(map[string]string),
		pendingByKey:    make(map[string]string),
		returnsByID:     make(map[string]domain.ReturnedDamagedItem),
		suppliersByID:   map[string]domain.Supplier{supplier.ID: supplier},
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.TenantID != tenantID || p.Deleted {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.TenantID == "" || product.Name == "" || product.Price.Sign() <= 0 {
		return nil, store.ErrValidation
	}
	if product.CostPrice.Sign() < 0 || product.QuantityInStock < 0 {
		return nil, store.ErrValidation
	}
	if product.Barcode != "" {
		for _, existing := range s.productsByID {
			if existing.TenantID == product.TenantID && !existing.Deleted && existing.Barcode == product.Barcode {
				return nil, store.ErrConflict
			}
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	product.Deleted = false
	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists || product.TenantID != tenantID || product.Deleted {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, tenantID string, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if barcode == "" {
		return nil, store.ErrNotFound
	}
	for _, p := range s.productsByID {
		if p.TenantID == tenantID && !p.Deleted && p.Barcode == barcode {
			copyProduct := p
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists || existing.TenantID != product.TenantID || existing.Deleted {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.Price.Sign() <= 0 || product.CostPrice.Sign() < 0 {
		return nil, store.ErrValidation
	}
	if product.QuantityInStock < 0 {
		return nil, store.ErrValidation
	}
	if product.Barcode != "" {
		for id, other := range s.productsByID {
			if id == product.ID {
				continue
			}
			if other.TenantID == product.TenantID && !other.Deleted && other.Barcode == product.Barcode {
				return nil, store.ErrConflict
			}
		}
	}

	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, tenantID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[productID]
	if !exists || product.TenantID != tenantID || product.Deleted {
		return store.ErrNotFound
	}

	referenced := false
	for _, sale := range s.salesByID {
		for _, item := range sale.Items {
			if item.ProductID == productID {
				referenced = true
				break
			}
		}
		if referenced {
			break
		}
	}

	if referenced {
		product.Deleted = true
		product.UpdatedAt = time.Now().UTC()
		s.productsByID[productID] = product
		return nil
	}
	delete(s.productsByID, productID)
	return nil
}

func (s *Store) ListInventory(_ context.Context, tenantID string) ([]domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Inventory, 0, len(s.inventoryByID))
	for _, inv := range s.inventoryByID {
		if inv.TenantID != tenantID {
			continue
		}
		items = append(items, inv)
	}

	slices.SortFunc(items, func(a, b domain.Inventory) int {
		return cmpString(a.SKU, b.SKU)
	})

	return items, nil
}

func (s *Store) CreateInventory(_ context.Context, inventory domain.Inventory) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inventory.TenantID == "" || inventory.ProductID == "" || inventory.SKU == "" {
		return nil, store.ErrValidation
	}
	if inventory.StockQuantity < 0 || inventory.ReorderThreshold < 0 {
		return nil, store.ErrValidation
	}
	product, exists := s.productsByID[inventory.ProductID]
	if !exists || product.TenantID != inventory.TenantID || product.Deleted {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.inventoryByID {
		if existing.TenantID != inventory.TenantID {
			continue
		}
		if existing.SKU == inventory.SKU || existing.ProductID == inventory.ProductID {
			return nil, store.ErrConflict
		}
	}

	if inventory.ID == "" {
		inventory.ID = xid.New("inv")
	}
	now := time.Now().UTC()
	inventory.CreatedAt = now
	inventory.UpdatedAt = now
	s.inventoryByID[inventory.ID] = inventory
	created := inventory
	return &created, nil
}

func (s *Store) GetInventoryByID(_ context.Context, tenantID string, inventoryID string) (*domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.inventoryByID[inventoryID]
	if !exists || inv.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copyInv := inv
	return &copyInv, nil
}

func (s *Store) GetInventoryByProduct(_ context.Context, tenantID string, productID string) (*domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.inventoryByID {
		if inv.TenantID == tenantID && inv.ProductID == productID {
			copyInv := inv
			return &copyInv, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetInventoryBySKU(_ context.Context, tenantID string, sku string) (*domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sku == "" {
		return nil, store.ErrNotFound
	}
	for _, inv := range s.inventoryByID {
		if inv.TenantID == tenantID && inv.SKU == sku {
			copyInv := inv
			return &copyInv, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateInventory(_ context.Context, inventory domain.Inventory) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.inventoryByID[inventory.ID]
	if !exists || existing.TenantID != inventory.TenantID {
		return nil, store.ErrNotFound
	}
	if inventory.SKU == "" || inventory.StockQuantity < 0 || inventory.ReorderThreshold < 0 {
		return nil, store.ErrValidation
	}
	for id, other := range s.inventoryByID {
		if id == inventory.ID {
			continue
		}
		if other.TenantID == inventory.TenantID && other.SKU == inventory.SKU {
			return nil, store.ErrConflict
		}
	}

	inventory.ProductID = existing.ProductID
	inventory.CreatedAt = existing.CreatedAt
	inventory.UpdatedAt = time.Now().UTC()
	s.inventoryByID[inventory.ID] = inventory
	updated := inventory
	return &updated, nil
}

func (s *Store) DeleteInventory(_ context.Context, tenantID string, inventoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.inventoryByID[inventoryID]
	if !exists || inv.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.inventoryByID, inventoryID)
	return nil
}

func (s *Store) LowStockItems(_ context.Context, tenantID string) ([]domain.LowStockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.LowStockItem, 0)
	for _, inv := range s.inventoryByID {
		if inv.TenantID != tenantID || inv.StockQuantity > inv.ReorderThreshold {
			continue
		}
		product, exists := s.productsByID[inv.ProductID]
		if !exists || product.Deleted {
			continue
		}
		items = append(items, domain.LowStockItem{
			InventoryID:      inv.ID,
			ProductID:        inv.ProductID,
			ProductName:      product.Name,
			SKU:              inv.SKU,
			StockQuantity:    inv.StockQuantity,
			ReorderThreshold: inv.ReorderThreshold,
			ReorderQuantity:  product.ReorderQuantity,
		})
	}

	slices.SortFunc(items, func(a, b domain.LowStockItem) int {
		return cmpString(a.SKU, b.SKU)
	})

	return items, nil
}

func (s *Store) MarkReordered(_ context.Context, tenantID string, inventoryID string, qty int, at time.Time) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return nil, store.ErrValidation
	}
	inv, exists := s.inventoryByID[inventoryID]
	if !exists || inv.TenantID != tenantID {
		return nil, store.ErrNotFound
	}

	inv.StockQuantity += qty
	inv.LastReorderedAt = &at
	inv.UpdatedAt = at
	s.inventoryByID[inventoryID] = inv

	if product, ok := s.productsByID[inv.ProductID]; ok {
		product.QuantityInStock += qty
		product.UpdatedAt = at
		s.productsByID[product.ID] = product
	}

	updated := inv
	return &updated, nil
}

func (s *Store) GetOrCreatePendingSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.TenantID == "" || sale.CashierID == "" {
		return nil, store.ErrValidation
	}

	key := pendingKey(sale.TenantID, sale.CashierID)
	if id, ok := s.pendingByKey[key]; ok {
		if existing, found := s.salesByID[id]; found {
			return cloneSale(existing), nil
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.ReceiptNumber == "" {
		sale.ReceiptNumber = xid.Receipt()
	}
	now := time.Now().UTC()
	sale.Status = domain.SaleStatusPending
	sale.TotalPrice = decimal.Zero
	sale.Profit = decimal.Zero
	sale.Items = nil
	sale.CreatedAt = now
	sale.UpdatedAt = now

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.saleByReceipt[sale.ReceiptNumber] = sale.ID
	s.pendingByKey[key] = sale.ID

	return cloneSale(stored), nil
}

func (s *Store) GetPendingSale(_ context.Context, tenantID string, cashierID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pendingByKey[pendingKey(tenantID, cashierID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale, found := s.salesByID[id]
	if !found {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByID(_ context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByReceipt(_ context.Context, tenantID string, receiptNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleByReceipt[receiptNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale, found := s.salesByID[id]
	if !found || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, tenantID string, day *time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if sale.TenantID != tenantID {
			continue
		}
		if day != nil {
			y1, m1, d1 := sale.CreatedAt.UTC().Date()
			y2, m2, d2 := day.UTC().Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		}
		sales = append(sales, *cloneSale(sale))
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) SaveSaleDraft(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.salesByID[sale.ID]
	if !ok || existing.TenantID != sale.TenantID {
		return nil, store.ErrNotFound
	}
	if existing.Status != domain.SaleStatusPending {
		return nil, store.ErrConflict
	}
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.DiscountPercent < 0 || item.DiscountPercent > 100 {
			return nil, store.ErrValidation
		}
	}

	existing.Items = cloneItems(sale.Items)
	for i := range existing.Items {
		if existing.Items[i].ID == "" {
			existing.Items[i].ID = xid.New("line")
		}
		existing.Items[i].SaleID = existing.ID
	}
	existing.TotalPrice = sale.TotalPrice
	existing.Profit = sale.Profit
	if sale.CustomerName != "" {
		existing.CustomerName = sale.CustomerName
	}
	existing.UpdatedAt = time.Now().UTC()

	return cloneSale(existing), nil
}

func (s *Store) CompleteSale(_ context.Context, tenantID string, saleID string, customerName string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusPending {
		return nil, store.ErrConflict
	}
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	for _, item := range sale.Items {
		product, exists := s.productsByID[item.ProductID]
		if !exists || product.TenantID != tenantID {
			return nil, fmt.Errorf("product %s unavailable", item.ProductID)
		}
		if product.QuantityInStock < item.Quantity {
			return nil, store.ErrInsufficientStock
		}
	}

	for _, item := range sale.Items {
		s.applyStockDelta(tenantID, item.ProductID, -item.Quantity, at)
	}

	sale.Status = domain.SaleStatusCompleted
	sale.SaleDate = &at
	if customerName != "" {
		sale.CustomerName = customerName
	}
	sale.UpdatedAt = at
	delete(s.pendingByKey, pendingKey(tenantID, sale.CashierID))

	return cloneSale(sale), nil
}

func (s *Store) CancelSale(_ context.Context, tenantID string, saleID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusPending {
		return nil, store.ErrConflict
	}

	sale.Status = domain.SaleStatusCancelled
	sale.UpdatedAt = at
	delete(s.pendingByKey, pendingKey(tenantID, sale.CashierID))

	return cloneSale(sale), nil
}

func (s *Store) CreateCompletedSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.TenantID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.DiscountPercent < 0 || item.DiscountPercent > 100 {
			return nil, store.ErrValidation
		}
		product, exists := s.productsByID[item.ProductID]
		if !exists || product.TenantID != sale.TenantID {
			return nil, fmt.Errorf("product %s unavailable", item.ProductID)
		}
		if product.QuantityInStock < item.Quantity {
			return nil, store.ErrInsufficientStock
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.ReceiptNumber == "" {
		sale.ReceiptNumber = xid.Receipt()
	}
	now := time.Now().UTC()
	if sale.SaleDate == nil {
		sale.SaleDate = &now
	}
	sale.Status = domain.SaleStatusCompleted
	sale.CreatedAt = now
	sale.UpdatedAt = now
	for i := range sale.Items {
		if sale.Items[i].ID == "" {
			sale.Items[i].ID = xid.New("line")
		}
		sale.Items[i].SaleID = sale.ID
	}

	for _, item := range sale.Items {
		s.applyStockDelta(sale.TenantID, item.ProductID, -item.Quantity, now)
	}

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.saleByReceipt[sale.ReceiptNumber] = sale.ID

	return cloneSale(stored), nil
}

func (s *Store) DeleteSale(_ context.Context, tenantID string, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.TenantID != tenantID {
		return store.ErrNotFound
	}

	if sale.Status == domain.SaleStatusPending {
		delete(s.pendingByKey, pendingKey(tenantID, sale.CashierID))
	}
	delete(s.saleByReceipt, sale.ReceiptNumber)
	delete(s.salesByID, saleID)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, tenantID string, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[productID]
	if !exists || product.TenantID != tenantID || product.Deleted {
		return store.ErrNotFound
	}
	if product.QuantityInStock+delta < 0 {
		return store.ErrInsufficientStock
	}

	s.applyStockDelta(tenantID, productID, delta, time.Now().UTC())
	return nil
}

func (s *Store) CreateReturnRecord(_ context.Context, item domain.ReturnedDamagedItem) (*domain.ReturnedDamagedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.TenantID == "" || item.InventoryID == "" || item.ProductID == "" || item.Quantity < 1 {
		return nil, store.ErrValidation
	}

	if item.ID == "" {
		item.ID = xid.New("ret")
	}
	now := time.Now().UTC()
	if item.ReturnDate.IsZero() {
		item.ReturnDate = now
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	s.returnsByID[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetReturnRecord(_ context.Context, tenantID string, recordID string) (*domain.ReturnedDamagedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.returnsByID[recordID]
	if !ok || item.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) ListReturnRecords(_ context.Context, tenantID string, limit int) ([]domain.ReturnedDamagedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.ReturnedDamagedItem, 0, len(s.returnsByID))
	for _, item := range s.returnsByID {
		if item.TenantID != tenantID {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.ReturnedDamagedItem) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) UpdateReturnRecord(_ context.Context, item domain.ReturnedDamagedItem) (*domain.ReturnedDamagedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.returnsByID[item.ID]
	if !ok || existing.TenantID != item.TenantID {
		return nil, store.ErrNotFound
	}
	if item.Quantity < 1 {
		return nil, store.ErrValidation
	}

	existing.Quantity = item.Quantity
	existing.Reason = item.Reason
	existing.UpdatedBy = item.UpdatedBy
	existing.UpdatedAt = time.Now().UTC()
	s.returnsByID[item.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) DeleteReturnRecord(_ context.Context, tenantID string, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.returnsByID[recordID]
	if !ok || item.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.returnsByID, recordID)
	return nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.TenantID == "" || supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context, tenantID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sup := range s.suppliersByID {
		if sup.TenantID != tenantID {
			continue
		}
		suppliers = append(suppliers, sup)
	}

	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})

	return suppliers, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if entry.TenantID != tenantID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}

	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	if password == "" {
		return store.ErrValidation
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// applyStockDelta moves both stock counters together. Callers hold the lock
// and have already verified the product counter cannot go negative.
func (s *Store) applyStockDelta(tenantID string, productID string, delta int, at time.Time) {
	if product, ok := s.productsByID[productID]; ok && product.TenantID == tenantID {
		product.QuantityInStock += delta
		product.UpdatedAt = at
		s.productsByID[product.ID] = product
	}
	for id, inv := range s.inventoryByID {
		if inv.TenantID != tenantID || inv.ProductID != productID {
			continue
		}
		inv.StockQuantity += delta
		if inv.StockQuantity < 0 {
			inv.StockQuantity = 0
		}
		inv.UpdatedAt = at
		s.inventoryByID[id] = inv
		break
	}
}

func pendingKey(tenantID string, cashierID string) string {
	return tenantID + "|" + cashierID
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	copySale := *src
	copySale.Items = cloneItems(src.Items)
	if src.SaleDate != nil {
		saleDate := *src.SaleDate
		copySale.SaleDate = &saleDate
	}
	return &copySale
}

func cloneItems(items []domain.SaleItem) []domain.SaleItem {
	if items == nil {
		return nil
	}
	copied := make([]domain.SaleItem, len(items))
	copy(copied, items)
	return copied
}
