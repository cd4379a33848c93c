package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopstack/backend/internal/domain"
	"shopstack/backend/internal/store"
)

func TestCompleteSaleDeductsStock(t *testing.T) {
	databaseURL := os.Getenv("SHOPSTACK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SHOPSTACK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	tenantID := fmt.Sprintf("it-owner-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	inventoryID := fmt.Sprintf("inv-it-%d", stamp)
	sku := fmt.Sprintf("SKU-IT-%d", stamp)
	cashierID := fmt.Sprintf("cashier-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id IN (SELECT id FROM sales WHERE tenant_id = $1)`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE tenant_id = $1`, tenantID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, tenant_id, name, description, price, cost_price, quantity_in_stock,
			barcode, reorder_point, reorder_quantity, supplier_id, deleted, created_at, updated_at
		)
		VALUES ($1, $2, 'Integration Drill', '', 79.99, 40.00, 5, NULL, 2, 10, NULL, false, now(), now())
	`, productID, tenantID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (
			id, tenant_id, product_id, sku, stock_quantity, reorder_threshold,
			unit_price, cost_price, supplier_id, last_reordered_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, 5, 2, 79.99, 40.00, NULL, NULL, now(), now())
	`, inventoryID, tenantID, productID, sku); err != nil {
		t.Fatalf("insert inventory: %v", err)
	}

	pending, err := s.GetOrCreatePendingSale(ctx, domain.Sale{TenantID: tenantID, CashierID: cashierID})
	if err != nil {
		t.Fatalf("create pending sale: %v", err)
	}

	pending.Items = []domain.SaleItem{{
		ProductID:    productID,
		Quantity:     2,
		PricePerUnit: decimal.RequireFromString("79.99"),
	}}
	pending.TotalPrice = decimal.RequireFromString("159.98")
	pending.Profit = decimal.RequireFromString("79.98")
	if _, err := s.SaveSaleDraft(ctx, *pending); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	at := time.Now().UTC()
	completed, err := s.CompleteSale(ctx, tenantID, pending.ID, "", at)
	if err != nil {
		t.Fatalf("complete sale: %v", err)
	}
	if completed.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected status completed, got %s", completed.Status)
	}

	var productStock, inventoryStock int
	if err := s.db.QueryRowContext(ctx, `
		SELECT quantity_in_stock FROM products WHERE id = $1
	`, productID).Scan(&productStock); err != nil {
		t.Fatalf("query product stock: %v", err)
	}
	if productStock != 3 {
		t.Fatalf("expected product stock 3 after sale, got %d", productStock)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock_quantity FROM inventory WHERE id = $1
	`, inventoryID).Scan(&inventoryStock); err != nil {
		t.Fatalf("query inventory stock: %v", err)
	}
	if inventoryStock != 3 {
		t.Fatalf("expected inventory stock 3 after sale, got %d", inventoryStock)
	}

	if _, err := s.CompleteSale(ctx, tenantID, pending.ID, "", at); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict completing a completed sale, got %v", err)
	}
}
