package alerts

import (
	"context"
	"log"
	"time"

	"shopstack/backend/internal/domain"
	"shopstack/backend/internal/store"
)

// Notifier receives low-stock findings. The default implementation just
// logs them; an email or webhook sender can be plugged in instead.
type Notifier interface {
	NotifyLowStock(ctx context.Context, tenantID string, items []domain.LowStockItem) error
}

type LogNotifier struct{}

func (LogNotifier) NotifyLowStock(_ context.Context, tenantID string, items []domain.LowStockItem) error {
	for _, item := range items {
		log.Printf("[alerts] low stock tenant=%s sku=%s product=%s stock=%d threshold=%d", tenantID, item.SKU, item.ProductName, item.StockQuantity, item.ReorderThreshold)
	}
	return nil
}

// Watcher periodically sweeps every owner tenant for inventory at or below
// its reorder threshold. It runs outside the checkout path so slow
// notification delivery never blocks a sale.
type Watcher struct {
	repo     store.Repository
	notifier Notifier
	interval time.Duration
}

func NewWatcher(repo store.Repository, notifier Notifier, interval time.Duration) *Watcher {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Watcher{repo: repo, notifier: notifier, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep checks every owner tenant once and notifies for non-empty findings.
func (w *Watcher) Sweep(ctx context.Context) {
	users, err := w.repo.ListUsers(ctx)
	if err != nil {
		log.Printf("[alerts] WARN: failed to list tenants: %v", err)
		return
	}

	for _, user := range users {
		if user.Role != domain.RoleOwner || !user.Active {
			continue
		}
		items, err := w.repo.LowStockItems(ctx, user.Username)
		if err != nil {
			log.Printf("[alerts] WARN: low stock query failed tenant=%s: %v", user.Username, err)
			continue
		}
		if len(items) == 0 {
			continue
		}
		if err := w.notifier.NotifyLowStock(ctx, user.Username, items); err != nil {
			log.Printf("[alerts] WARN: notify failed tenant=%s: %v", user.Username, err)
		}
	}
}
