package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/shared"
	"github.com/stitchline/stitchline-erp/internal/users"
)

// LowStockScanJob notifies the owner about raw materials that dropped under
// their reorder level.
type LowStockScanJob struct {
	materials *materials.Repository
	users     *users.Repository
	notifier  *shared.Notifier
	logger    *slog.Logger
	printer   *message.Printer
}

// NewLowStockScanJob constructs the job.
func NewLowStockScanJob(mats *materials.Repository, userDir *users.Repository, notifier *shared.Notifier, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{
		materials: mats,
		users:     userDir,
		notifier:  notifier,
		logger:    logger,
		printer:   message.NewPrinter(language.English),
	}
}

// Handle processes TaskLowStockScan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	low, err := j.materials.ListBelowMinimum(ctx)
	if err != nil {
		return err
	}
	if len(low) == 0 {
		return nil
	}

	owner, err := j.users.FirstActiveWithRole(ctx, shared.RoleOwner)
	if err != nil {
		j.logger.Warn("low stock scan: no owner to notify", slog.Any("error", err))
		return nil
	}
	for _, m := range low {
		msg := j.printer.Sprintf("%s is low on stock: %.2f %s left, reorder level %.2f",
			m.Name, m.StockQuantity, m.Unit, m.MinStockLevel)
		if err := j.notifier.Notify(ctx, shared.Notification{
			UserID:    owner.ID,
			Kind:      "low_stock",
			Message:   msg,
			RelatedID: m.ID,
		}); err != nil {
			j.logger.Warn("low stock scan: notify failed", slog.Int64("material", m.ID), slog.Any("error", err))
		}
	}
	j.logger.Info("low stock scan finished", slog.Int("materials", len(low)))
	return nil
}
