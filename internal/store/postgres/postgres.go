package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shopstack/backend/internal/domain"
	"shopstack/backend/internal/store"
	"shopstack/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(description,''), price, cost_price, quantity_in_stock,
		       COALESCE(barcode,''), reorder_point, reorder_quantity, COALESCE(supplier_id,''), created_at, updated_at
		FROM products
		WHERE tenant_id = $1 AND deleted = false
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.TenantID == "" || product.Name == "" || product.Price.Sign() <= 0 {
		return nil, store.ErrValidation
	}
	if product.CostPrice.Sign() < 0 || product.QuantityInStock < 0 {
		return nil, store.ErrValidation
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Deleted = false

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, tenant_id, name, description, price, cost_price, quantity_in_stock,
			barcode, reorder_point, reorder_quantity, supplier_id, deleted, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false,$12,$12)
	`, product.ID, product.TenantID, product.Name, product.Description, product.Price, product.CostPrice,
		product.QuantityInStock, nullIfEmpty(product.Barcode), product.ReorderPoint, product.ReorderQuantity,
		nullIfEmpty(product.SupplierID), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	return s.getProduct(ctx, s.db, tenantID, "id", productID)
}

func (s *Store) GetProductByBarcode(ctx context.Context, tenantID string, barcode string) (*domain.Product, error) {
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	return s.getProduct(ctx, s.db, tenantID, "barcode", barcode)
}

func (s *Store) getProduct(ctx context.Context, q dbtx, tenantID string, column string, value string) (*domain.Product, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, name, COALESCE(description,''), price, cost_price, quantity_in_stock,
		       COALESCE(barcode,''), reorder_point, reorder_quantity, COALESCE(supplier_id,''), created_at, updated_at
		FROM products
		WHERE tenant_id = $1 AND %s = $2 AND deleted = false
	`, column), tenantID, value)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price.Sign() <= 0 || product.CostPrice.Sign() < 0 || product.QuantityInStock < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, description = $4, price = $5, cost_price = $6, quantity_in_stock = $7,
		    barcode = $8, reorder_point = $9, reorder_quantity = $10, supplier_id = $11, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND deleted = false
	`, product.TenantID, product.ID, product.Name, product.Description, product.Price, product.CostPrice,
		product.QuantityInStock, nullIfEmpty(product.Barcode), product.ReorderPoint, product.ReorderQuantity,
		nullIfEmpty(product.SupplierID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProductByID(ctx, product.TenantID, product.ID)
}

// DeleteProduct removes the row outright unless sale lines reference it, in
// which case the product is soft-deleted so history keeps resolving.
func (s *Store) DeleteProduct(ctx context.Context, tenantID string, productID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT true FROM products WHERE tenant_id = $1 AND id = $2 AND deleted = false FOR UPDATE
	`, tenantID, productID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	var referenced bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sale_items WHERE product_id = $1)
	`, productID).Scan(&referenced)
	if err != nil {
		return err
	}

	if referenced {
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET deleted = true, updated_at = now() WHERE tenant_id = $1 AND id = $2
		`, tenantID, productID)
	} else {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM products WHERE tenant_id = $1 AND id = $2
		`, tenantID, productID)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListInventory(ctx context.Context, tenantID string) ([]domain.Inventory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, sku, stock_quantity, reorder_threshold, unit_price, cost_price,
		       COALESCE(supplier_id,''), last_reordered_at, created_at, updated_at
		FROM inventory
		WHERE tenant_id = $1
		ORDER BY sku
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Inventory, 0, 128)
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) CreateInventory(ctx context.Context, inventory domain.Inventory) (*domain.Inventory, error) {
	if inventory.TenantID == "" || inventory.ProductID == "" || inventory.SKU == "" {
		return nil, store.ErrValidation
	}
	if inventory.StockQuantity < 0 || inventory.ReorderThreshold < 0 {
		return nil, store.ErrValidation
	}
	if _, err := s.GetProductByID(ctx, inventory.TenantID, inventory.ProductID); err != nil {
		return nil, err
	}

	if inventory.ID == "" {
		inventory.ID = xid.New("inv")
	}
	now := time.Now().UTC()
	inventory.CreatedAt = now
	inventory.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (
			id, tenant_id, product_id, sku, stock_quantity, reorder_threshold,
			unit_price, cost_price, supplier_id, last_reordered_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, inventory.ID, inventory.TenantID, inventory.ProductID, inventory.SKU, inventory.StockQuantity,
		inventory.ReorderThreshold, inventory.UnitPrice, inventory.CostPrice,
		nullIfEmpty(inventory.SupplierID), nullTime(inventory.LastReorderedAt), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := inventory
	return &created, nil
}

func (s *Store) GetInventoryByID(ctx context.Context, tenantID string, inventoryID string) (*domain.Inventory, error) {
	return s.getInventory(ctx, tenantID, "id", inventoryID)
}

func (s *Store) GetInventoryByProduct(ctx context.Context, tenantID string, productID string) (*domain.Inventory, error) {
	return s.getInventory(ctx, tenantID, "product_id", productID)
}

func (s *Store) GetInventoryBySKU(ctx context.Context, tenantID string, sku string) (*domain.Inventory, error) {
	if sku == "" {
		return nil, store.ErrNotFound
	}
	return s.getInventory(ctx, tenantID, "sku", sku)
}

func (s *Store) getInventory(ctx context.Context, tenantID string, column string, value string) (*domain.Inventory, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, product_id, sku, stock_quantity, reorder_threshold, unit_price, cost_price,
		       COALESCE(supplier_id,''), last_reordered_at, created_at, updated_at
		FROM inventory
		WHERE tenant_id = $1 AND %s = $2
	`, column), tenantID, value)

	inv, err := scanInventory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) UpdateInventory(ctx context.Context, inventory domain.Inventory) (*domain.Inventory, error) {
	if inventory.SKU == "" || inventory.StockQuantity < 0 || inventory.ReorderThreshold < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory
		SET sku = $3, stock_quantity = $4, reorder_threshold = $5, unit_price = $6,
		    cost_price = $7, supplier_id = $8, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, inventory.TenantID, inventory.ID, inventory.SKU, inventory.StockQuantity, inventory.ReorderThreshold,
		inventory.UnitPrice, inventory.CostPrice, nullIfEmpty(inventory.SupplierID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetInventoryByID(ctx, inventory.TenantID, inventory.ID)
}

func (s *Store) DeleteInventory(ctx context.Context, tenantID string, inventoryID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM inventory WHERE tenant_id = $1 AND id = $2
	`, tenantID, inventoryID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) LowStockItems(ctx context.Context, tenantID string) ([]domain.LowStockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.product_id, p.name, i.sku, i.stock_quantity, i.reorder_threshold, p.reorder_quantity
		FROM inventory i
		JOIN products p ON p.id = i.product_id AND p.deleted = false
		WHERE i.tenant_id = $1 AND i.stock_quantity <= i.reorder_threshold
		ORDER BY i.sku
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LowStockItem, 0, 32)
	for rows.Next() {
		var item domain.LowStockItem
		if err := rows.Scan(&item.InventoryID, &item.ProductID, &item.ProductName, &item.SKU,
			&item.StockQuantity, &item.ReorderThreshold, &item.ReorderQuantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) MarkReordered(ctx context.Context, tenantID string, inventoryID string, qty int, at time.Time) (*domain.Inventory, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	err = tx.QueryRowContext(ctx, `
		SELECT product_id FROM inventory WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, inventoryID).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory
		SET stock_quantity = stock_quantity + $3, last_reordered_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, inventoryID, qty, at)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET quantity_in_stock = quantity_in_stock + $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID, qty, at)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetInventoryByID(ctx, tenantID, inventoryID)
}

func (s *Store) GetOrCreatePendingSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.TenantID == "" || sale.CashierID == "" {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM sales
		WHERE tenant_id = $1 AND cashier_id = $2 AND status = 'pending'
		FOR UPDATE
	`, sale.TenantID, sale.CashierID).Scan(&existingID)
	if err == nil {
		existing, err := s.loadSale(ctx, tx, sale.TenantID, "id", existingID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.ReceiptNumber == "" {
		sale.ReceiptNumber = xid.Receipt()
	}
	now := time.Now().UTC()
	sale.Status = domain.SaleStatusPending
	sale.CreatedAt = now
	sale.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, tenant_id, cashier_id, receipt_number, total_price, profit,
			status, customer_name, sale_date, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,0,0,'pending',$5,NULL,$6,$6)
	`, sale.ID, sale.TenantID, sale.CashierID, sale.ReceiptNumber, nullIfEmpty(sale.CustomerName), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Items = nil
	return &sale, nil
}

func (s *Store) GetPendingSale(ctx context.Context, tenantID string, cashierID string) (*domain.Sale, error) {
	var saleID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM sales
		WHERE tenant_id = $1 AND cashier_id = $2 AND status = 'pending'
	`, tenantID, cashierID).Scan(&saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.loadSale(ctx, s.db, tenantID, "id", saleID)
}

func (s *Store) GetSaleByID(ctx context.Context, tenantID string, saleID string) (*domain.Sale, error) {
	return s.loadSale(ctx, s.db, tenantID, "id", saleID)
}

func (s *Store) GetSaleByReceipt(ctx context.Context, tenantID string, receiptNumber string) (*domain.Sale, error) {
	return s.loadSale(ctx, s.db, tenantID, "receipt_number", receiptNumber)
}

func (s *Store) ListSales(ctx context.Context, tenantID string, day *time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, cashier_id, receipt_number, total_price, profit, status,
		       COALESCE(customer_name,''), sale_date, created_at, updated_at
		FROM sales
		WHERE tenant_id = $1
	`
	args := []any{tenantID}
	if day != nil {
		query += ` AND created_at >= $2 AND created_at < $3`
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		args = append(args, start, start.Add(24*time.Hour))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity, price_per_unit, discount_percent
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemsBySale := make(map[string][]domain.SaleItem, len(ids))
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.PricePerUnit, &item.DiscountPercent); err != nil {
			return nil, err
		}
		itemsBySale[item.SaleID] = append(itemsBySale[item.SaleID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) SaveSaleDraft(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.DiscountPercent < 0 || item.DiscountPercent > 100 {
			return nil, store.ErrValidation
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, sale.TenantID, sale.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusPending {
		return nil, store.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return nil, err
	}
	for _, item := range sale.Items {
		itemID := item.ID
		if itemID == "" {
			itemID = xid.New("line")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, price_per_unit, discount_percent)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, itemID, sale.ID, item.ProductID, item.Quantity, item.PricePerUnit, item.DiscountPercent)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET total_price = $3, profit = $4, customer_name = COALESCE($5, customer_name), updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, sale.TenantID, sale.ID, sale.TotalPrice, sale.Profit, nullIfEmpty(sale.CustomerName))
	if err != nil {
		return nil, err
	}

	saved, err := s.loadSale(ctx, tx, sale.TenantID, "id", sale.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// CompleteSale finalizes a pending sale atomically: each line is re-checked
// with a conditional decrement so stock can never go negative, the
// denormalized inventory counter moves in the same transaction, and the
// status flip makes completion terminal.
func (s *Store) CompleteSale(ctx context.Context, tenantID string, saleID string, customerName string, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, saleID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusPending {
		return nil, store.ErrConflict
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity FROM sale_items WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	type line struct {
		productID string
		quantity  int
	}
	lines := make([]line, 0, 16)
	for itemRows.Next() {
		var l line
		if err := itemRows.Scan(&l.productID, &l.quantity); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()
	if len(lines) == 0 {
		return nil, store.ErrValidation
	}

	for _, l := range lines {
		if err := deductStock(ctx, tx, tenantID, l.productID, l.quantity, at); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = 'completed', sale_date = $3, customer_name = COALESCE($4, customer_name), updated_at = $3
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID, at, nullIfEmpty(customerName))
	if err != nil {
		return nil, err
	}

	completed, err := s.loadSale(ctx, tx, tenantID, "id", saleID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return completed, nil
}

func (s *Store) CancelSale(ctx context.Context, tenantID string, saleID string, at time.Time) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET status = 'cancelled', updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
	`, tenantID, saleID, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.loadSale(ctx, s.db, tenantID, "id", saleID); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}

	return s.loadSale(ctx, s.db, tenantID, "id", saleID)
}

func (s *Store) CreateCompletedSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.TenantID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.DiscountPercent < 0 || item.DiscountPercent > 100 {
			return nil, store.ErrValidation
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

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

	for _, item := range sale.Items {
		if err := deductStock(ctx, tx, sale.TenantID, item.ProductID, item.Quantity, now); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, tenant_id, cashier_id, receipt_number, total_price, profit,
			status, customer_name, sale_date, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,'completed',$7,$8,$9,$9)
	`, sale.ID, sale.TenantID, sale.CashierID, sale.ReceiptNumber, sale.TotalPrice, sale.Profit,
		nullIfEmpty(sale.CustomerName), sale.SaleDate, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i := range sale.Items {
		if sale.Items[i].ID == "" {
			sale.Items[i].ID = xid.New("line")
		}
		sale.Items[i].SaleID = sale.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, price_per_unit, discount_percent)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.Items[i].ID, sale.ID, sale.Items[i].ProductID, sale.Items[i].Quantity,
			sale.Items[i].PricePerUnit, sale.Items[i].DiscountPercent)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

// DeleteSale removes the sale and its lines. Return records referencing the
// sale are kept; they are an independent audit trail.
func (s *Store) DeleteSale(ctx context.Context, tenantID string, saleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM sales WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) AdjustStock(ctx context.Context, tenantID string, productID string, delta int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET quantity_in_stock = quantity_in_stock + $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND deleted = false AND quantity_in_stock + $3 >= 0
	`, tenantID, productID, delta, now)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT true FROM products WHERE tenant_id = $1 AND id = $2 AND deleted = false
		`, tenantID, productID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return store.ErrInsufficientStock
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory
		SET stock_quantity = GREATEST(stock_quantity + $3, 0), updated_at = $4
		WHERE tenant_id = $1 AND product_id = $2
	`, tenantID, productID, delta, now)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) CreateReturnRecord(ctx context.Context, item domain.ReturnedDamagedItem) (*domain.ReturnedDamagedItem, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO returned_damaged_items (
			id, tenant_id, inventory_id, product_id, sale_id, quantity, reason, kind,
			return_date, recorded_by, updated_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
	`, item.ID, item.TenantID, item.InventoryID, item.ProductID, nullIfEmpty(item.SaleID),
		item.Quantity, item.Reason, item.Kind, item.ReturnDate, item.RecordedBy,
		nullIfEmpty(item.UpdatedBy), now)
	if err != nil {
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetReturnRecord(ctx context.Context, tenantID string, recordID string) (*domain.ReturnedDamagedItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, inventory_id, product_id, COALESCE(sale_id,''), quantity, reason, kind,
		       return_date, recorded_by, COALESCE(updated_by,''), created_at, updated_at
		FROM returned_damaged_items
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, recordID)

	item, err := scanReturnRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListReturnRecords(ctx context.Context, tenantID string, limit int) ([]domain.ReturnedDamagedItem, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, inventory_id, product_id, COALESCE(sale_id,''), quantity, reason, kind,
		       return_date, recorded_by, COALESCE(updated_by,''), created_at, updated_at
		FROM returned_damaged_items
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReturnedDamagedItem, 0, limit)
	for rows.Next() {
		item, err := scanReturnRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) UpdateReturnRecord(ctx context.Context, item domain.ReturnedDamagedItem) (*domain.ReturnedDamagedItem, error) {
	if item.Quantity < 1 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE returned_damaged_items
		SET quantity = $3, reason = $4, updated_by = $5, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, item.TenantID, item.ID, item.Quantity, item.Reason, nullIfEmpty(item.UpdatedBy))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetReturnRecord(ctx, item.TenantID, item.ID)
}

func (s *Store) DeleteReturnRecord(ctx context.Context, tenantID string, recordID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM returned_damaged_items WHERE tenant_id = $1 AND id = $2
	`, tenantID, recordID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.TenantID == "" || supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, tenant_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.TenantID, supplier.Name, supplier.Phone, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, phone, created_at
		FROM suppliers
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.TenantID, &sup.Name, &sup.Phone, &sup.CreatedAt); err != nil {
			return nil, err
		}
		sup.CreatedAt = sup.CreatedAt.UTC()
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return suppliers, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, parent_id, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.ParentID), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(parent_id,''), active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.ParentID, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if password == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// deductStock decrements both counters inside the caller's transaction. The
// conditional product update is the authoritative negative-stock guard; the
// inventory counter is denormalized and clamped.
func deductStock(ctx context.Context, tx *sql.Tx, tenantID string, productID string, qty int, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET quantity_in_stock = quantity_in_stock - $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND deleted = false AND quantity_in_stock >= $3
	`, tenantID, productID, qty, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT true FROM products WHERE tenant_id = $1 AND id = $2 AND deleted = false
		`, tenantID, productID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %s unavailable", productID)
		}
		if err != nil {
			return err
		}
		return store.ErrInsufficientStock
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory
		SET stock_quantity = GREATEST(stock_quantity - $3, 0), updated_at = $4
		WHERE tenant_id = $1 AND product_id = $2
	`, tenantID, productID, qty, at)
	return err
}

func (s *Store) loadSale(ctx context.Context, q dbtx, tenantID string, column string, value string) (*domain.Sale, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, cashier_id, receipt_number, total_price, profit, status,
		       COALESCE(customer_name,''), sale_date, created_at, updated_at
		FROM sales
		WHERE tenant_id = $1 AND %s = $2
	`, column), tenantID, value)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity, price_per_unit, discount_percent
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.PricePerUnit, &item.DiscountPercent); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.Price, &p.CostPrice,
		&p.QuantityInStock, &p.Barcode, &p.ReorderPoint, &p.ReorderQuantity, &p.SupplierID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanInventory(row rowScanner) (domain.Inventory, error) {
	var inv domain.Inventory
	var lastReordered sql.NullTime
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.ProductID, &inv.SKU, &inv.StockQuantity,
		&inv.ReorderThreshold, &inv.UnitPrice, &inv.CostPrice, &inv.SupplierID,
		&lastReordered, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return domain.Inventory{}, err
	}
	if lastReordered.Valid {
		t := lastReordered.Time.UTC()
		inv.LastReorderedAt = &t
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv, nil
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var saleDate sql.NullTime
	err := row.Scan(&sale.ID, &sale.TenantID, &sale.CashierID, &sale.ReceiptNumber,
		&sale.TotalPrice, &sale.Profit, &sale.Status, &sale.CustomerName,
		&saleDate, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	if saleDate.Valid {
		t := saleDate.Time.UTC()
		sale.SaleDate = &t
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, nil
}

func scanReturnRecord(row rowScanner) (domain.ReturnedDamagedItem, error) {
	var item domain.ReturnedDamagedItem
	err := row.Scan(&item.ID, &item.TenantID, &item.InventoryID, &item.ProductID, &item.SaleID,
		&item.Quantity, &item.Reason, &item.Kind, &item.ReturnDate, &item.RecordedBy,
		&item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.ReturnedDamagedItem{}, err
	}
	item.ReturnDate = item.ReturnDate.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
