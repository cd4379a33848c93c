package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopstack/backend/internal/cache"
	"shopstack/backend/internal/domain"
	"shopstack/backend/internal/store"
	"shopstack/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	cacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, cacheTTLSeconds int) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if cacheTTLSeconds < 1 {
		cacheTTLSeconds = 300
	}

	return &Service{
		repo:     repo,
		products: products,
		cacheTTL: time.Duration(cacheTTLSeconds) * time.Second,
	}
}

// requireActor resolves the caller and the tenant whose data the call
// operates on. Staff act on their parent owner's tenant; owners act on
// their own. Every repository query below is scoped by this tenant.
func (s *Service) requireActor(ctx context.Context) (domain.Actor, string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, "", store.ErrUnauthorized
	}
	tenant := actor.Tenant
	if tenant == "" {
		tenant = actor.Username
	}
	return actor, tenant, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, tenant)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProductByID(ctx, tenant, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" || req.Price.Sign() <= 0 || req.CostPrice.Sign() < 0 {
		return domain.Product{}, store.ErrValidation
	}
	if req.QuantityInStock < 0 || req.ReorderPoint < 0 || req.ReorderQuantity < 0 {
		return domain.Product{}, store.ErrValidation
	}

	product := domain.Product{
		TenantID:        tenant,
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		Price:           req.Price,
		CostPrice:       req.CostPrice,
		QuantityInStock: req.QuantityInStock,
		Barcode:         req.Barcode,
		ReorderPoint:    req.ReorderPoint,
		ReorderQuantity: req.ReorderQuantity,
		SupplierID:      req.SupplierID,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, tenant, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.QuantityInStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, tenant, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if req.Price.Sign() <= 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.Price = *req.Price
	}
	if req.CostPrice != nil {
		if req.CostPrice.Sign() < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.QuantityInStock != nil {
		if *req.QuantityInStock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.QuantityInStock = *req.QuantityInStock
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.ReorderPoint != nil {
		if *req.ReorderPoint < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.ReorderPoint = *req.ReorderPoint
	}
	if req.ReorderQuantity != nil {
		if *req.ReorderQuantity < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.ReorderQuantity = *req.ReorderQuantity
	}
	if req.SupplierID != nil {
		updated.SupplierID = *req.SupplierID
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateBarcode(ctx, tenant, existing.Barcode, saved.Barcode)
	s.logAudit(ctx, tenant, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", saved.Name, saved.Price.StringFixed(2), saved.QuantityInStock))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleOwner {
		return store.ErrUnauthorized
	}

	existing, err := s.repo.GetProductByID(ctx, tenant, productID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, tenant, productID); err != nil {
		return err
	}

	s.invalidateBarcode(ctx, tenant, existing.Barcode)
	s.logAudit(ctx, tenant, "product_delete", "product", productID, "")
	return nil
}

func (s *Service) FindProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, store.ErrValidation
	}

	product, err := s.lookupBarcode(ctx, tenant, barcode)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.Inventory, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInventory(ctx, tenant)
}

func (s *Service) GetInventory(ctx context.Context, inventoryID string) (domain.Inventory, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Inventory{}, err
	}
	inv, err := s.repo.GetInventoryByID(ctx, tenant, inventoryID)
	if err != nil {
		return domain.Inventory{}, err
	}
	return *inv, nil
}

func (s *Service) InventoryForProduct(ctx context.Context, productID string) (domain.Inventory, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Inventory{}, err
	}
	inv, err := s.repo.GetInventoryByProduct(ctx, tenant, productID)
	if err != nil {
		return domain.Inventory{}, err
	}
	return *inv, nil
}

func (s *Service) StockInventory(ctx context.Context, req domain.InventoryCreateRequest) (domain.Inventory, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Inventory{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	if req.ProductID == "" || req.SKU == "" || req.StockQuantity < 0 || req.ReorderThreshold < 0 {
		return domain.Inventory{}, store.ErrValidation
	}

	inv := domain.Inventory{
		TenantID:         tenant,
		ProductID:        req.ProductID,
		SKU:              req.SKU,
		StockQuantity:    req.StockQuantity,
		ReorderThreshold: req.ReorderThreshold,
		UnitPrice:        req.UnitPrice,
		CostPrice:        req.CostPrice,
		SupplierID:       req.SupplierID,
	}

	created, err := s.repo.CreateInventory(ctx, inv)
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logAudit(ctx, tenant, "inventory_create", "inventory", created.ID, fmt.Sprintf("sku=%s,stock=%d", created.SKU, created.StockQuantity))
	return *created, nil
}

func (s *Service) UpdateInventory(ctx context.Context, inventoryID string, req domain.InventoryUpdateRequest) (domain.Inventory, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Inventory{}, err
	}

	existing, err := s.repo.GetInventoryByID(ctx, tenant, inventoryID)
	if err != nil {
		return domain.Inventory{}, err
	}

	updated := *existing
	if req.SKU != nil {
		sku := strings.ToUpper(strings.TrimSpace(*req.SKU))
		if sku == "" {
			return domain.Inventory{}, store.ErrValidation
		}
		updated.SKU = sku
	}
	if req.StockQuantity != nil {
		if *req.StockQuantity < 0 {
			return domain.Inventory{}, store.ErrValidation
		}
		updated.StockQuantity = *req.StockQuantity
	}
	if req.ReorderThreshold != nil {
		if *req.ReorderThreshold < 0 {
			return domain.Inventory{}, store.ErrValidation
		}
		updated.ReorderThreshold = *req.ReorderThreshold
	}
	if req.UnitPrice != nil {
		updated.UnitPrice = *req.UnitPrice
	}
	if req.CostPrice != nil {
		updated.CostPrice = *req.CostPrice
	}
	if req.SupplierID != nil {
		updated.SupplierID = *req.SupplierID
	}

	saved, err := s.repo.UpdateInventory(ctx, updated)
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logAudit(ctx, tenant, "inventory_update", "inventory", saved.ID, fmt.Sprintf("sku=%s,stock=%d", saved.SKU, saved.StockQuantity))
	return *saved, nil
}

func (s *Service) DeleteInventory(ctx context.Context, inventoryID string) error {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleOwner {
		return store.ErrUnauthorized
	}
	if err := s.repo.DeleteInventory(ctx, tenant, inventoryID); err != nil {
		return err
	}
	s.logAudit(ctx, tenant, "inventory_delete", "inventory", inventoryID, "")
	return nil
}

func (s *Service) LowStockItems(ctx context.Context) ([]domain.LowStockItem, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.LowStockItems(ctx, tenant)
}

// ReorderInventory tops an inventory row back up by the product's configured
// reorder quantity and stamps the reorder time.
func (s *Service) ReorderInventory(ctx context.Context, inventoryID string) (domain.Inventory, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Inventory{}, err
	}

	inv, err := s.repo.GetInventoryByID(ctx, tenant, inventoryID)
	if err != nil {
		return domain.Inventory{}, err
	}
	product, err := s.repo.GetProductByID(ctx, tenant, inv.ProductID)
	if err != nil {
		return domain.Inventory{}, err
	}
	if product.ReorderQuantity < 1 {
		return domain.Inventory{}, store.ErrValidation
	}

	updated, err := s.repo.MarkReordered(ctx, tenant, inventoryID, product.ReorderQuantity, time.Now().UTC())
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logAudit(ctx, tenant, "inventory_reorder", "inventory", updated.ID, fmt.Sprintf("sku=%s,qty=%d", updated.SKU, product.ReorderQuantity))
	return *updated, nil
}

// PendingSale returns the caller's open cart, if any.
func (s *Service) PendingSale(ctx context.Context) (domain.Sale, error) {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetPendingSale(ctx, tenant, actor.Username)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ScanItem adds a product to the caller's pending cart, creating the cart on
// first scan. Re-scanning a product merges into its existing line. The stock
// guard counts quantity already reserved by the cart; stock itself is only
// deducted at completion.
func (s *Service) ScanItem(ctx context.Context, req domain.ScanRequest) (domain.Sale, error) {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	req.ProductRef = strings.TrimSpace(req.ProductRef)
	if req.ProductRef == "" || req.Quantity < 1 {
		return domain.Sale{}, store.ErrValidation
	}

	product, err := s.resolveProduct(ctx, tenant, req.ProductRef)
	if err != nil {
		return domain.Sale{}, err
	}

	sale, err := s.repo.GetOrCreatePendingSale(ctx, domain.Sale{
		TenantID:  tenant,
		CashierID: actor.Username,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	reserved := 0
	lineIdx := -1
	for i, item := range sale.Items {
		if item.ProductID == product.ID {
			reserved = item.Quantity
			lineIdx = i
			break
		}
	}
	if product.QuantityInStock < reserved+req.Quantity {
		return domain.Sale{}, store.ErrInsufficientStock
	}

	if lineIdx >= 0 {
		sale.Items[lineIdx].Quantity += req.Quantity
	} else {
		sale.Items = append(sale.Items, domain.SaleItem{
			SaleID:       sale.ID,
			ProductID:    product.ID,
			Quantity:     req.Quantity,
			PricePerUnit: product.Price,
		})
	}

	if err := s.recomputeTotals(ctx, tenant, sale); err != nil {
		return domain.Sale{}, err
	}
	saved, err := s.repo.SaveSaleDraft(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, tenant, "sale_scan", "sale", saved.ID, fmt.Sprintf("product=%s,qty=%d", product.ID, req.Quantity))
	return *saved, nil
}

func (s *Service) UpdatePendingLine(ctx context.Context, productID string, req domain.LineUpdateRequest) (domain.Sale, error) {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	sale, err := s.repo.GetPendingSale(ctx, tenant, actor.Username)
	if err != nil {
		return domain.Sale{}, err
	}

	lineIdx := -1
	for i, item := range sale.Items {
		if item.ProductID == productID {
			lineIdx = i
			break
		}
	}
	if lineIdx < 0 {
		return domain.Sale{}, store.ErrNotFound
	}

	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return domain.Sale{}, store.ErrValidation
		}
		product, err := s.repo.GetProductByID(ctx, tenant, productID)
		if err != nil {
			return domain.Sale{}, err
		}
		if product.QuantityInStock < *req.Quantity {
			return domain.Sale{}, store.ErrInsufficientStock
		}
		sale.Items[lineIdx].Quantity = *req.Quantity
	}
	if req.DiscountPercent != nil {
		if *req.DiscountPercent < 0 || *req.DiscountPercent > 100 {
			return domain.Sale{}, store.ErrValidation
		}
		sale.Items[lineIdx].DiscountPercent = *req.DiscountPercent
	}

	if err := s.recomputeTotals(ctx, tenant, sale); err != nil {
		return domain.Sale{}, err
	}
	saved, err := s.repo.SaveSaleDraft(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, tenant, "sale_line_update", "sale", saved.ID, fmt.Sprintf("product=%s", productID))
	return *saved, nil
}

func (s *Service) RemovePendingLine(ctx context.Context, productID string) (domain.Sale, error) {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	sale, err := s.repo.GetPendingSale(ctx, tenant, actor.Username)
	if err != nil {
		return domain.Sale{}, err
	}

	items := make([]domain.SaleItem, 0, len(sale.Items))
	found := false
	for _, item := range sale.Items {
		if item.ProductID == productID {
			found = true
			continue
		}
		items = append(items, item)
	}
	if !found {
		return domain.Sale{}, store.ErrNotFound
	}
	sale.Items = items

	if err := s.recomputeTotals(ctx, tenant, sale); err != nil {
		return domain.Sale{}, err
	}
	saved, err := s.repo.SaveSaleDraft(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, tenant, "sale_line_remove", "sale", saved.ID, fmt.Sprintf("product=%s", productID))
	return *saved, nil
}

// CompleteSale finalizes a pending sale: the repository re-checks stock per
// line, deducts it, and stamps the sale date in one atomic operation.
// Completed and cancelled sales are terminal.
func (s *Service) CompleteSale(ctx context.Context, saleID string, req domain.CompleteSaleRequest) (domain.Sale, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	completed, err := s.repo.CompleteSale(ctx, tenant, saleID, strings.TrimSpace(req.CustomerName), time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, tenant, "sale_complete", "sale", completed.ID, fmt.Sprintf("receipt=%s,total=%s", completed.ReceiptNumber, completed.TotalPrice.StringFixed(2)))
	return *completed, nil
}

func (s *Service) CancelPendingSale(ctx context.Context, saleID string) (domain.Sale, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	cancelled, err := s.repo.CancelSale(ctx, tenant, saleID, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, tenant, "sale_cancel", "sale", cancelled.ID, "")
	return *cancelled, nil
}

// CreateSale records a sale in one call, without the scan-by-scan cart
// workflow. By default the sale is committed as completed and stock is
// deducted atomically; status "pending" instead opens the caller's cart
// with the given lines, provided no cart is already open.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	status := defaultString(strings.TrimSpace(req.Status), domain.SaleStatusCompleted)
	if status != domain.SaleStatusCompleted && status != domain.SaleStatusPending {
		return domain.Sale{}, store.ErrValidation
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, store.ErrValidation
	}

	// Aggregate duplicate product refs so a product occupies one line.
	type lineAgg struct {
		product  *domain.Product
		quantity int
		discount float64
	}
	aggs := make([]*lineAgg, 0, len(req.Items))
	byProduct := make(map[string]*lineAgg, len(req.Items))
	for _, line := range req.Items {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" || line.Quantity < 1 || line.DiscountPercent < 0 || line.DiscountPercent > 100 {
			return domain.Sale{}, store.ErrValidation
		}
		product, err := s.resolveProduct(ctx, tenant, ref)
		if err != nil {
			return domain.Sale{}, err
		}
		if agg, ok := byProduct[product.ID]; ok {
			agg.quantity += line.Quantity
			agg.discount = line.DiscountPercent
			continue
		}
		agg := &lineAgg{product: product, quantity: line.Quantity, discount: line.DiscountPercent}
		byProduct[product.ID] = agg
		aggs = append(aggs, agg)
	}

	items := make([]domain.SaleItem, 0, len(aggs))
	total := decimal.Zero
	cost := decimal.Zero
	for _, agg := range aggs {
		if agg.product.QuantityInStock < agg.quantity {
			return domain.Sale{}, store.ErrInsufficientStock
		}
		items = append(items, domain.SaleItem{
			ProductID:       agg.product.ID,
			Quantity:        agg.quantity,
			PricePerUnit:    agg.product.Price,
			DiscountPercent: agg.discount,
		})
		total = total.Add(lineTotal(agg.product.Price, agg.quantity, agg.discount))
		cost = cost.Add(agg.product.CostPrice.Mul(decimal.NewFromInt(int64(agg.quantity))))
	}

	sale := domain.Sale{
		TenantID:      tenant,
		CashierID:     actor.Username,
		ReceiptNumber: xid.Receipt(),
		TotalPrice:    total,
		Profit:        total.Sub(cost),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		Items:         items,
	}

	if status == domain.SaleStatusPending {
		if _, err := s.repo.GetPendingSale(ctx, tenant, actor.Username); err == nil {
			return domain.Sale{}, store.ErrConflict
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
		draft, err := s.repo.GetOrCreatePendingSale(ctx, sale)
		if err != nil {
			return domain.Sale{}, err
		}
		draft.Items = items
		draft.TotalPrice = sale.TotalPrice
		draft.Profit = sale.Profit
		draft.CustomerName = sale.CustomerName
		saved, err := s.repo.SaveSaleDraft(ctx, *draft)
		if err != nil {
			return domain.Sale{}, err
		}
		s.logAudit(ctx, tenant, "sale_create", "sale", saved.ID, fmt.Sprintf("status=%s,lines=%d", saved.Status, len(saved.Items)))
		return *saved, nil
	}

	created, err := s.repo.CreateCompletedSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, tenant, "sale_create", "sale", created.ID, fmt.Sprintf("receipt=%s,total=%s", created.ReceiptNumber, created.TotalPrice.StringFixed(2)))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSaleByID(ctx, tenant, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, date string, limit int) (domain.SaleListResponse, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.SaleListResponse{}, err
	}

	var day *time.Time
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.SaleListResponse{}, store.ErrValidation
		}
		day = &parsed
	}
	if limit < 1 {
		limit = 100
	}

	sales, err := s.repo.ListSales(ctx, tenant, day, limit)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

func (s *Service) DeleteSale(ctx context.Context, saleID string) error {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleOwner {
		return store.ErrUnauthorized
	}
	if err := s.repo.DeleteSale(ctx, tenant, saleID); err != nil {
		return err
	}
	s.logAudit(ctx, tenant, "sale_delete", "sale", saleID, "")
	return nil
}

// RecordReturn handles the single shared intake for customer returns and
// damaged goods. A receipt number makes it a return: the referenced sale
// must contain the item and stock is credited back. Without a receipt the
// item is damaged and stock is debited, failing rather than going negative.
func (s *Service) RecordReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnedDamagedItem, error) {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}

	req.ItemRef = strings.TrimSpace(req.ItemRef)
	req.ReceiptNumber = strings.TrimSpace(req.ReceiptNumber)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ItemRef == "" || req.Reason == "" || req.Quantity < 1 {
		return domain.ReturnedDamagedItem{}, store.ErrValidation
	}

	inv, err := s.resolveInventory(ctx, tenant, req.ItemRef)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}

	kind := domain.ReturnKindDamage
	saleID := ""
	if req.ReceiptNumber != "" {
		sale, err := s.repo.GetSaleByReceipt(ctx, tenant, req.ReceiptNumber)
		if err != nil {
			return domain.ReturnedDamagedItem{}, err
		}
		sold := false
		for _, item := range sale.Items {
			if item.ProductID == inv.ProductID {
				sold = true
				break
			}
		}
		if !sold {
			return domain.ReturnedDamagedItem{}, store.ErrValidation
		}
		kind = domain.ReturnKindReturn
		saleID = sale.ID
		if err := s.repo.AdjustStock(ctx, tenant, inv.ProductID, req.Quantity); err != nil {
			return domain.ReturnedDamagedItem{}, err
		}
	} else {
		if err := s.repo.AdjustStock(ctx, tenant, inv.ProductID, -req.Quantity); err != nil {
			return domain.ReturnedDamagedItem{}, err
		}
	}

	record, err := s.repo.CreateReturnRecord(ctx, domain.ReturnedDamagedItem{
		TenantID:    tenant,
		InventoryID: inv.ID,
		ProductID:   inv.ProductID,
		SaleID:      saleID,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		Kind:        kind,
		ReturnDate:  time.Now().UTC(),
		RecordedBy:  actor.Username,
	})
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}

	s.logAudit(ctx, tenant, "return_record", "return", record.ID, fmt.Sprintf("kind=%s,product=%s,qty=%d", kind, inv.ProductID, req.Quantity))
	return *record, nil
}

func (s *Service) GetReturn(ctx context.Context, recordID string) (domain.ReturnedDamagedItem, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}
	record, err := s.repo.GetReturnRecord(ctx, tenant, recordID)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}
	return *record, nil
}

func (s *Service) ListReturns(ctx context.Context, limit int) (domain.ReturnListResponse, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.ReturnListResponse{}, err
	}
	if limit < 1 {
		limit = 100
	}
	items, err := s.repo.ListReturnRecords(ctx, tenant, limit)
	if err != nil {
		return domain.ReturnListResponse{}, err
	}
	return domain.ReturnListResponse{Items: items}, nil
}

// UpdateReturn edits the record only; stock adjustments from the original
// intake are not replayed.
func (s *Service) UpdateReturn(ctx context.Context, recordID string, req domain.ReturnUpdateRequest) (domain.ReturnedDamagedItem, error) {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}

	existing, err := s.repo.GetReturnRecord(ctx, tenant, recordID)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}

	updated := *existing
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return domain.ReturnedDamagedItem{}, store.ErrValidation
		}
		updated.Quantity = *req.Quantity
	}
	if req.Reason != nil {
		reason := strings.TrimSpace(*req.Reason)
		if reason == "" {
			return domain.ReturnedDamagedItem{}, store.ErrValidation
		}
		updated.Reason = reason
	}
	updated.UpdatedBy = actor.Username

	saved, err := s.repo.UpdateReturnRecord(ctx, updated)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}

	s.logAudit(ctx, tenant, "return_update", "return", saved.ID, "")
	return *saved, nil
}

func (s *Service) DeleteReturn(ctx context.Context, recordID string) error {
	actor, tenant, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleOwner {
		return store.ErrUnauthorized
	}
	if err := s.repo.DeleteReturnRecord(ctx, tenant, recordID); err != nil {
		return err
	}
	s.logAudit(ctx, tenant, "return_delete", "return", recordID, "")
	return nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrValidation
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		TenantID: tenant,
		Name:     req.Name,
		Phone:    strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, tenant, "supplier_create", "supplier", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx, tenant)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	_, tenant, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrValidation
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	if limit < 1 {
		limit = 100
	}

	return s.repo.ListAuditLogs(ctx, tenant, from, to, limit)
}

// resolveProduct accepts a product id or a barcode; barcode hits go through
// the cache.
func (s *Service) resolveProduct(ctx context.Context, tenant string, ref string) (*domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, tenant, ref)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.lookupBarcode(ctx, tenant, ref)
}

// resolveInventory accepts an inventory SKU or a product barcode.
func (s *Service) resolveInventory(ctx context.Context, tenant string, ref string) (*domain.Inventory, error) {
	inv, err := s.repo.GetInventoryBySKU(ctx, tenant, strings.ToUpper(ref))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	product, err := s.lookupBarcode(ctx, tenant, ref)
	if err != nil {
		return nil, err
	}
	return s.repo.GetInventoryByProduct(ctx, tenant, product.ID)
}

func (s *Service) lookupBarcode(ctx context.Context, tenant string, barcode string) (*domain.Product, error) {
	key := barcodeKey(tenant, barcode)
	if cached, hit, err := s.products.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: barcode cache read failed key=%s: %v", key, err)
	} else if hit {
		// The cache only resolves barcode to product; stock and price must
		// be current, so re-read the row by id.
		if product, err := s.repo.GetProductByID(ctx, tenant, cached.ID); err == nil {
			return product, nil
		}
	}

	product, err := s.repo.GetProductByBarcode(ctx, tenant, barcode)
	if err != nil {
		return nil, err
	}
	if err := s.products.Set(ctx, key, product, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: barcode cache write failed key=%s: %v", key, err)
	}
	return product, nil
}

func (s *Service) invalidateBarcode(ctx context.Context, tenant string, barcodes ...string) {
	keys := make([]string, 0, len(barcodes))
	for _, code := range barcodes {
		if code == "" {
			continue
		}
		keys = append(keys, barcodeKey(tenant, code))
	}
	if len(keys) == 0 {
		return
	}
	if err := s.products.Delete(ctx, keys...); err != nil {
		log.Printf("[service] WARN: barcode cache invalidation failed: %v", err)
	}
}

// recomputeTotals reprices the whole cart from its lines. Line totals round
// to two decimal places; profit subtracts undiscounted cost of goods.
func (s *Service) recomputeTotals(ctx context.Context, tenant string, sale *domain.Sale) error {
	total := decimal.Zero
	cost := decimal.Zero
	for _, item := range sale.Items {
		product, err := s.repo.GetProductByID(ctx, tenant, item.ProductID)
		if err != nil {
			return err
		}
		total = total.Add(lineTotal(item.PricePerUnit, item.Quantity, item.DiscountPercent))
		cost = cost.Add(product.CostPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	sale.TotalPrice = total
	sale.Profit = total.Sub(cost)
	return nil
}

func lineTotal(pricePerUnit decimal.Decimal, quantity int, discountPercent float64) decimal.Decimal {
	base := pricePerUnit.Mul(decimal.NewFromInt(int64(quantity)))
	if discountPercent == 0 {
		return base.Round(2)
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(discountPercent).Div(decimal.NewFromInt(100)))
	return base.Mul(factor).Round(2)
}

func (s *Service) logAudit(ctx context.Context, tenantID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      tenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func barcodeKey(tenant string, barcode string) string {
	return "barcode:" + tenant + ":" + barcode
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
