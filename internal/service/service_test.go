package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"shopstack/backend/internal/cache"
	"shopstack/backend/internal/domain"
	"shopstack/backend/internal/store"
	"shopstack/backend/internal/store/memory"
)

const drillBarcode = "3456789012345"

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopProductCache{}, 300)
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "owner",
		Role:     domain.RoleOwner,
		Tenant:   "owner",
	})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "staff",
		Role:     domain.RoleStaff,
		Tenant:   "owner",
	})
}

func inventoryBySKU(t *testing.T, svc *Service, ctx context.Context, sku string) domain.Inventory {
	t.Helper()
	items, err := svc.ListInventory(ctx)
	if err != nil {
		t.Fatalf("list inventory failed: %v", err)
	}
	for _, inv := range items {
		if inv.SKU == sku {
			return inv
		}
	}
	t.Fatalf("inventory %s not seeded", sku)
	return domain.Inventory{}
}

func TestScanRequiresActor(t *testing.T) {
	svc := newTestService()

	_, err := svc.ScanItem(context.Background(), domain.ScanRequest{
		ProductRef: drillBarcode,
		Quantity:   1,
	})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected unauthorized scan without actor, got %v", err)
	}
}

func TestScanMergesRepeatedProduct(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 1}); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	sale, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 2})
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	if len(sale.Items) != 1 {
		t.Fatalf("expected repeated scans to merge into one line, got %d lines", len(sale.Items))
	}
	if sale.Items[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", sale.Items[0].Quantity)
	}
	if got := sale.TotalPrice.StringFixed(2); got != "239.97" {
		t.Fatalf("expected total 239.97, got %s", got)
	}
	if got := sale.Profit.StringFixed(2); got != "119.97" {
		t.Fatalf("expected profit 119.97, got %s", got)
	}
}

func TestScanRejectsOverReservation(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	// Drill stock is 30. Reserving 25 then 10 more must fail even though
	// nothing is deducted until completion.
	if _, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 25}); err != nil {
		t.Fatalf("scan within stock failed: %v", err)
	}
	_, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 10})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCompleteSaleDeductsStockAndComputesProfit(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	drill, err := svc.FindProductByBarcode(ctx, drillBarcode)
	if err != nil {
		t.Fatalf("find drill failed: %v", err)
	}

	pending, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 2})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	completed, err := svc.CompleteSale(ctx, pending.ID, domain.CompleteSaleRequest{CustomerName: "Walk-in"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected status completed, got %s", completed.Status)
	}
	if completed.SaleDate == nil {
		t.Fatalf("expected sale date to be stamped")
	}
	if got := completed.TotalPrice.StringFixed(2); got != "159.98" {
		t.Fatalf("expected total 159.98, got %s", got)
	}
	if got := completed.Profit.StringFixed(2); got != "79.98" {
		t.Fatalf("expected profit 79.98, got %s", got)
	}

	after, err := svc.GetProduct(ctx, drill.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.QuantityInStock != drill.QuantityInStock-2 {
		t.Fatalf("expected stock %d after completion, got %d", drill.QuantityInStock-2, after.QuantityInStock)
	}
	inv := inventoryBySKU(t, svc, ctx, "DRL-003")
	if inv.StockQuantity != after.QuantityInStock {
		t.Fatalf("expected inventory counter %d to track product stock, got %d", after.QuantityInStock, inv.StockQuantity)
	}
}

func TestCompleteSaleIsTerminal(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	pending, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 1})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := svc.CompleteSale(ctx, pending.ID, domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if _, err := svc.CompleteSale(ctx, pending.ID, domain.CompleteSaleRequest{}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second completion, got %v", err)
	}
	if _, err := svc.CancelPendingSale(ctx, pending.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict cancelling a completed sale, got %v", err)
	}
}

func TestCancelPendingSaleLeavesStockUntouched(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	drill, err := svc.FindProductByBarcode(ctx, drillBarcode)
	if err != nil {
		t.Fatalf("find drill failed: %v", err)
	}

	pending, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 5})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	cancelled, err := svc.CancelPendingSale(ctx, pending.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected status cancelled, got %s", cancelled.Status)
	}

	after, err := svc.GetProduct(ctx, drill.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.QuantityInStock != drill.QuantityInStock {
		t.Fatalf("expected stock unchanged after cancel, got %d", after.QuantityInStock)
	}
}

func TestUpdatePendingLineAppliesDiscount(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	// Claw Hammer at 12.50: qty 4 with 10% off is 45.00.
	if _, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: "1234567890123", Quantity: 1}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	hammer, err := svc.FindProductByBarcode(ctx, "1234567890123")
	if err != nil {
		t.Fatalf("find hammer failed: %v", err)
	}

	qty := 4
	discount := 10.0
	sale, err := svc.UpdatePendingLine(ctx, hammer.ID, domain.LineUpdateRequest{
		Quantity:        &qty,
		DiscountPercent: &discount,
	})
	if err != nil {
		t.Fatalf("update line failed: %v", err)
	}
	if got := sale.TotalPrice.StringFixed(2); got != "45.00" {
		t.Fatalf("expected discounted total 45.00, got %s", got)
	}
	// Profit subtracts undiscounted cost: 45.00 - 4*7.00.
	if got := sale.Profit.StringFixed(2); got != "17.00" {
		t.Fatalf("expected profit 17.00, got %s", got)
	}

	bad := 120.0
	if _, err := svc.UpdatePendingLine(ctx, hammer.ID, domain.LineUpdateRequest{DiscountPercent: &bad}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for discount over 100, got %v", err)
	}
}

func TestRemovePendingLine(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	hammer, err := svc.FindProductByBarcode(ctx, "1234567890123")
	if err != nil {
		t.Fatalf("find hammer failed: %v", err)
	}
	if _, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 1}); err != nil {
		t.Fatalf("scan drill failed: %v", err)
	}
	if _, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: hammer.ID, Quantity: 2}); err != nil {
		t.Fatalf("scan hammer failed: %v", err)
	}

	sale, err := svc.RemovePendingLine(ctx, hammer.ID)
	if err != nil {
		t.Fatalf("remove line failed: %v", err)
	}
	if len(sale.Items) != 1 {
		t.Fatalf("expected 1 line after removal, got %d", len(sale.Items))
	}
	if got := sale.TotalPrice.StringFixed(2); got != "79.99" {
		t.Fatalf("expected total 79.99 after removal, got %s", got)
	}

	if _, err := svc.RemovePendingLine(ctx, hammer.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found removing absent line, got %v", err)
	}
}

func TestPendingCartIsPerCashier(t *testing.T) {
	svc := newTestService()

	ownerSale, err := svc.ScanItem(ownerCtx(), domain.ScanRequest{ProductRef: drillBarcode, Quantity: 1})
	if err != nil {
		t.Fatalf("owner scan failed: %v", err)
	}
	staffSale, err := svc.ScanItem(staffCtx(), domain.ScanRequest{ProductRef: drillBarcode, Quantity: 2})
	if err != nil {
		t.Fatalf("staff scan failed: %v", err)
	}
	if ownerSale.ID == staffSale.ID {
		t.Fatalf("expected owner and staff to get separate carts")
	}

	mine, err := svc.PendingSale(staffCtx())
	if err != nil {
		t.Fatalf("pending sale failed: %v", err)
	}
	if mine.ID != staffSale.ID || mine.Items[0].Quantity != 2 {
		t.Fatalf("expected staff to see their own cart")
	}
}

func TestCreateSaleAggregatesDuplicateLines(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	drill, err := svc.FindProductByBarcode(ctx, drillBarcode)
	if err != nil {
		t.Fatalf("find drill failed: %v", err)
	}

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items: []domain.SaleLineRequest{
			{ProductRef: drillBarcode, Quantity: 1},
			{ProductRef: drill.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected default status completed, got %s", sale.Status)
	}
	if len(sale.Items) != 1 || sale.Items[0].Quantity != 3 {
		t.Fatalf("expected duplicate refs to collapse into one line of 3")
	}
	if sale.ReceiptNumber == "" {
		t.Fatalf("expected receipt number to be assigned")
	}

	after, err := svc.GetProduct(ctx, drill.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.QuantityInStock != drill.QuantityInStock-3 {
		t.Fatalf("expected stock deducted by 3, got %d", after.QuantityInStock)
	}
}

func TestCreateSalePendingConflictsWithOpenCart(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	if _, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 1}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Status: domain.SaleStatusPending,
		Items: []domain.SaleLineRequest{
			{ProductRef: drillBarcode, Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict creating pending sale over open cart, got %v", err)
	}
}

func TestReturnWithReceiptCreditsStock(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	drill, err := svc.FindProductByBarcode(ctx, drillBarcode)
	if err != nil {
		t.Fatalf("find drill failed: %v", err)
	}
	pending, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 2})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	completed, err := svc.CompleteSale(ctx, pending.ID, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	record, err := svc.RecordReturn(ctx, domain.ReturnRequest{
		ItemRef:       "DRL-003",
		ReceiptNumber: completed.ReceiptNumber,
		Quantity:      1,
		Reason:        "customer changed mind",
	})
	if err != nil {
		t.Fatalf("record return failed: %v", err)
	}
	if record.Kind != domain.ReturnKindReturn {
		t.Fatalf("expected kind return, got %s", record.Kind)
	}
	if record.SaleID != completed.ID {
		t.Fatalf("expected return linked to sale %s, got %s", completed.ID, record.SaleID)
	}

	after, err := svc.GetProduct(ctx, drill.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.QuantityInStock != drill.QuantityInStock-1 {
		t.Fatalf("expected stock credited back to %d, got %d", drill.QuantityInStock-1, after.QuantityInStock)
	}
}

func TestReturnRejectsItemNotOnReceipt(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	pending, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 1})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	completed, err := svc.CompleteSale(ctx, pending.ID, domain.CompleteSaleRequest{})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	_, err = svc.RecordReturn(ctx, domain.ReturnRequest{
		ItemRef:       "HAM-001",
		ReceiptNumber: completed.ReceiptNumber,
		Quantity:      1,
		Reason:        "not actually sold",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for item missing from receipt, got %v", err)
	}
}

func TestDamageIntakeDebitsStock(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	gloves := inventoryBySKU(t, svc, ctx, "GLV-005")

	record, err := svc.RecordReturn(ctx, domain.ReturnRequest{
		ItemRef:  "GLV-005",
		Quantity: 2,
		Reason:   "water damage",
	})
	if err != nil {
		t.Fatalf("record damage failed: %v", err)
	}
	if record.Kind != domain.ReturnKindDamage {
		t.Fatalf("expected kind damage, got %s", record.Kind)
	}
	if record.SaleID != "" {
		t.Fatalf("expected no sale link for damage intake")
	}

	after, err := svc.GetInventory(ctx, gloves.ID)
	if err != nil {
		t.Fatalf("get inventory failed: %v", err)
	}
	if after.StockQuantity != gloves.StockQuantity-2 {
		t.Fatalf("expected stock debited to %d, got %d", gloves.StockQuantity-2, after.StockQuantity)
	}
}

func TestDamageIntakeRefusesNegativeStock(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	_, err := svc.RecordReturn(ctx, domain.ReturnRequest{
		ItemRef:  "GLV-005",
		Quantity: 100000,
		Reason:   "warehouse flood",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock debiting past zero, got %v", err)
	}

	records, err := svc.ListReturns(ctx, 10)
	if err != nil {
		t.Fatalf("list returns failed: %v", err)
	}
	if len(records.Items) != 0 {
		t.Fatalf("expected no record for failed intake, got %d", len(records.Items))
	}
}

func TestDeleteProductRequiresOwner(t *testing.T) {
	svc := newTestService()

	drill, err := svc.FindProductByBarcode(staffCtx(), drillBarcode)
	if err != nil {
		t.Fatalf("find drill failed: %v", err)
	}
	if err := svc.DeleteProduct(staffCtx(), drill.ID); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected staff delete to be rejected, got %v", err)
	}
	if err := svc.DeleteProduct(ownerCtx(), drill.ID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	svc := newTestService()
	otherCtx := WithActor(context.Background(), domain.Actor{
		Username: "othershop",
		Role:     domain.RoleOwner,
		Tenant:   "othershop",
	})

	products, err := svc.ListProducts(otherCtx)
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected empty catalog for other tenant, got %d products", len(products))
	}

	if _, err := svc.FindProductByBarcode(otherCtx, drillBarcode); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected barcode lookup to miss across tenants, got %v", err)
	}
}

func TestReorderInventoryTopsUpStock(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	inv := inventoryBySKU(t, svc, ctx, "DRL-003")

	updated, err := svc.ReorderInventory(ctx, inv.ID)
	if err != nil {
		t.Fatalf("reorder failed: %v", err)
	}
	// Drill reorder quantity is 10.
	if updated.StockQuantity != inv.StockQuantity+10 {
		t.Fatalf("expected stock %d after reorder, got %d", inv.StockQuantity+10, updated.StockQuantity)
	}
	if updated.LastReorderedAt == nil {
		t.Fatalf("expected reorder timestamp to be stamped")
	}
}

func TestLowStockReportsItemsAtThreshold(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	// Drill threshold is 5 with 30 in stock. Damaging 26 leaves 4.
	if _, err := svc.RecordReturn(ctx, domain.ReturnRequest{
		ItemRef:  "DRL-003",
		Quantity: 26,
		Reason:   "dropped pallet",
	}); err != nil {
		t.Fatalf("record damage failed: %v", err)
	}

	items, err := svc.LowStockItems(ctx)
	if err != nil {
		t.Fatalf("low stock failed: %v", err)
	}
	found := false
	for _, item := range items {
		if item.SKU == "DRL-003" {
			found = true
			if item.StockQuantity != 4 {
				t.Fatalf("expected low stock quantity 4, got %d", item.StockQuantity)
			}
		}
	}
	if !found {
		t.Fatalf("expected DRL-003 in low stock report")
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:  "Free Sample",
		Price: decimal.Zero,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for non-positive price, got %v", err)
	}

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:    "Duplicate Barcode",
		Price:   decimal.RequireFromString("5.00"),
		Barcode: drillBarcode,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate barcode, got %v", err)
	}
}

func TestAuditLogRecordsSaleCompletion(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	pending, err := svc.ScanItem(ctx, domain.ScanRequest{ProductRef: drillBarcode, Quantity: 1})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := svc.CompleteSale(ctx, pending.ID, domain.CompleteSaleRequest{}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "", 100)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "sale_complete" && entry.EntityID == pending.ID {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected sale_complete audit entry")
	}
}
