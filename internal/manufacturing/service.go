package manufacturing

import (
	"context"
	"fmt"
	"time"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// TxRepository exposes transactional operations used by Service. Funds,
// Materials and Inventory are bound to the same transaction, so a batch
// mutation and its side effects commit or roll back together.
type TxRepository interface {
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	UpdateBatch(ctx context.Context, b Batch) error
	DeleteBatch(ctx context.Context, id int64) error
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)

	InsertUsage(ctx context.Context, u MaterialUsage) (int64, error)
	ListUsagesByBatch(ctx context.Context, batchID int64) ([]MaterialUsage, error)
	DeleteUsagesByBatch(ctx context.Context, batchID int64) error

	InsertCost(ctx context.Context, c Cost) (int64, error)
	UpdateCost(ctx context.Context, c Cost) error
	ListCostsByBatch(ctx context.Context, batchID int64) ([]Cost, error)
	DeleteCostsByBatch(ctx context.Context, batchID int64) error

	InsertCorrection(ctx context.Context, c QuantityCorrection) (int64, error)

	// OpenTransfersForProduct counts pending and confirmed transfers of
	// the product, guarding batch deletion.
	OpenTransfersForProduct(ctx context.Context, productID int64) (int64, error)

	Funds() funds.TxStore
	Materials() materials.TxStore
	Inventory() inventory.TxStore
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, filters ListFilters) ([]Batch, error)
	ListUsages(ctx context.Context, batchID int64) ([]MaterialUsage, error)
	ListCosts(ctx context.Context, batchID int64) ([]Cost, error)
	ListCorrections(ctx context.Context, batchID int64) ([]QuantityCorrection, error)
}

// AuditPort abstracts the activity sink.
type AuditPort interface {
	Record(ctx context.Context, act shared.Activity) error
}

// Service orchestrates the batch lifecycle.
type Service struct {
	repo   RepositoryPort
	ledger *funds.Ledger
	audit  AuditPort
}

// NewService constructs the manufacturing service.
func NewService(repo RepositoryPort, ledger *funds.Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// BatchInput carries the fields for a new batch.
type BatchInput struct {
	ProductID              int64
	QuantityProduced       float64
	StartDate              time.Time
	ExpectedCompletionDate time.Time
}

// CreateBatch opens a new production run in the pending stage.
func (s *Service) CreateBatch(ctx context.Context, actor shared.ActingUser, input BatchInput) (Batch, error) {
	if err := actor.Validate(); err != nil {
		return Batch{}, err
	}
	if input.ProductID == 0 || input.QuantityProduced <= 0 {
		return Batch{}, ErrValidation
	}
	startDate := input.StartDate
	if startDate.IsZero() {
		startDate = time.Now().UTC()
	}

	batch := Batch{
		ProductID:              input.ProductID,
		QuantityProduced:       input.QuantityProduced,
		Status:                 StatusPending,
		StartDate:              startDate,
		ExpectedCompletionDate: input.ExpectedCompletionDate,
		CreatedBy:              actor.ID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("create batch failed: %v", err), 0)
		return Batch{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("batch %d opened: %.3f of product %d", batch.ID, batch.QuantityProduced, batch.ProductID), batch.ID)
	return batch, nil
}

// AdvanceStatus moves a batch forward through the pipeline. Reaching
// completed stamps the completion date and credits the produced quantity to
// the product's manufacturing location, making it available for transfer.
func (s *Service) AdvanceStatus(ctx context.Context, actor shared.ActingUser, batchID int64, next BatchStatus) (Batch, error) {
	if err := actor.Validate(); err != nil {
		return Batch{}, err
	}
	if !next.Valid() {
		return Batch{}, ErrValidation
	}
	var advanced Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if !CanTransition(batch.Status, next, actor.Role.Elevated()) {
			return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, batch.Status, next)
		}
		batch.Status = next
		batch.StatusChangedBy = actor.ID
		if next == StatusCompleted {
			batch.CompletionDate = time.Now().UTC()
			if err := inventory.Credit(ctx, tx.Inventory(), batch.ProductID, inventory.LocationManufacturing, batch.QuantityProduced); err != nil {
				return err
			}
		}
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		advanced = batch
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("advance batch %d failed: %v", batchID, err), batchID)
		return Batch{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate, fmt.Sprintf("batch %d moved to %s", advanced.ID, advanced.Status), advanced.ID)
	return advanced, nil
}

// UsageInput carries the fields for a material usage record.
type UsageInput struct {
	MaterialID   int64
	QuantityUsed float64
}

// RecordMaterialUsage consumes raw material for a batch, decrementing the
// material's stock. Fails when the batch is already completed or the
// material cannot cover the quantity.
func (s *Service) RecordMaterialUsage(ctx context.Context, actor shared.ActingUser, batchID int64, input UsageInput) (MaterialUsage, error) {
	if err := actor.Validate(); err != nil {
		return MaterialUsage{}, err
	}
	if input.MaterialID == 0 || input.QuantityUsed <= 0 {
		return MaterialUsage{}, ErrValidation
	}
	var usage MaterialUsage
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status == StatusCompleted {
			return ErrBatchCompleted
		}
		if err := materials.AdjustStock(ctx, tx.Materials(), input.MaterialID, -input.QuantityUsed); err != nil {
			return err
		}
		usage = MaterialUsage{
			BatchID:      batch.ID,
			MaterialID:   input.MaterialID,
			QuantityUsed: input.QuantityUsed,
			RecordedBy:   actor.ID,
			RecordedDate: time.Now().UTC(),
		}
		id, err := tx.InsertUsage(ctx, usage)
		if err != nil {
			return err
		}
		usage.ID = id
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("record usage on batch %d failed: %v", batchID, err), batchID)
		return MaterialUsage{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("batch %d consumed %.3f of material %d", batchID, usage.QuantityUsed, usage.MaterialID), batchID)
	return usage, nil
}

// CostInput carries the fields for a batch cost.
type CostInput struct {
	CostType string
	Amount   float64
	FundID   int64
}

// RecordCost accrues an expense on a batch. When a fund is named the amount
// is drawn from it through the fund ledger in the same transaction.
func (s *Service) RecordCost(ctx context.Context, actor shared.ActingUser, batchID int64, input CostInput) (Cost, error) {
	if err := actor.Validate(); err != nil {
		return Cost{}, err
	}
	if input.CostType == "" || input.Amount <= 0 {
		return Cost{}, ErrValidation
	}
	var cost Cost
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		cost = Cost{
			BatchID:    batch.ID,
			CostType:   input.CostType,
			Amount:     input.Amount,
			FundID:     input.FundID,
			RecordedBy: actor.ID,
		}
		id, err := tx.InsertCost(ctx, cost)
		if err != nil {
			return err
		}
		cost.ID = id
		if input.FundID != 0 {
			usage, err := s.ledger.Allocate(ctx, tx.Funds(), funds.AllocationRequest{
				FundID:      input.FundID,
				Amount:      input.Amount,
				Purpose:     funds.PurposeManufacturingCost,
				ReferenceID: batch.ID,
				UsedBy:      actor.ID,
				Notes:       input.CostType,
			})
			if err != nil {
				return err
			}
			cost.UsageID = usage.ID
			if err := tx.UpdateCost(ctx, cost); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("record cost on batch %d failed: %v", batchID, err), batchID)
		return Cost{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("batch %d accrued %s cost %.2f", batchID, cost.CostType, cost.Amount), batchID)
	return cost, nil
}

// CorrectQuantity adjusts the produced quantity of a completed batch. The
// correction carries a reason, is recorded for audit, and never touches
// stock; it only affects future transfers and reporting.
func (s *Service) CorrectQuantity(ctx context.Context, actor shared.ActingUser, batchID int64, newQuantity float64, reason string) (Batch, error) {
	if err := actor.Validate(); err != nil {
		return Batch{}, err
	}
	if newQuantity <= 0 || reason == "" {
		return Batch{}, ErrValidation
	}
	var corrected Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != StatusCompleted {
			return ErrBatchNotCompleted
		}
		if _, err := tx.InsertCorrection(ctx, QuantityCorrection{
			BatchID:     batch.ID,
			OldQuantity: batch.QuantityProduced,
			NewQuantity: newQuantity,
			Reason:      reason,
			CorrectedBy: actor.ID,
		}); err != nil {
			return err
		}
		batch.QuantityProduced = newQuantity
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		corrected = batch
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("correct batch %d failed: %v", batchID, err), batchID)
		return Batch{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate,
		fmt.Sprintf("batch %d quantity corrected to %.3f: %s", corrected.ID, corrected.QuantityProduced, reason), corrected.ID)
	return corrected, nil
}

// DeleteBatch removes a batch after reversing everything it did: consumed
// materials go back to stock, fund-backed costs are reversed, and a
// completed batch's output is debited from the manufacturing location.
// Refused while transfers of the product are pending or confirmed.
func (s *Service) DeleteBatch(ctx context.Context, actor shared.ActingUser, batchID int64) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status == StatusCompleted {
			open, err := tx.OpenTransfersForProduct(ctx, batch.ProductID)
			if err != nil {
				return err
			}
			if open > 0 {
				return ErrBatchReferenced
			}
			if err := inventory.Credit(ctx, tx.Inventory(), batch.ProductID, inventory.LocationManufacturing, -batch.QuantityProduced); err != nil {
				return err
			}
		}

		usages, err := tx.ListUsagesByBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		for _, u := range usages {
			if err := materials.AdjustStock(ctx, tx.Materials(), u.MaterialID, u.QuantityUsed); err != nil {
				return err
			}
		}
		costs, err := tx.ListCostsByBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		for _, c := range costs {
			if c.UsageID != 0 {
				if err := s.ledger.Reverse(ctx, tx.Funds(), c.UsageID); err != nil {
					return err
				}
			}
		}

		if err := tx.DeleteUsagesByBatch(ctx, batch.ID); err != nil {
			return err
		}
		if err := tx.DeleteCostsByBatch(ctx, batch.ID); err != nil {
			return err
		}
		return tx.DeleteBatch(ctx, batch.ID)
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("delete batch %d failed: %v", batchID, err), batchID)
		return err
	}
	s.recordActivity(ctx, actor, shared.ActivityDelete, fmt.Sprintf("batch %d deleted", batchID), batchID)
	return nil
}

// GetBatch fetches one batch.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches lists batches.
func (s *Service) ListBatches(ctx context.Context, filters ListFilters) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filters)
}

// BatchDetail aggregates a batch with its usages, costs and corrections.
type BatchDetail struct {
	Batch       Batch
	Usages      []MaterialUsage
	Costs       []Cost
	Corrections []QuantityCorrection
}

// GetBatchDetail fetches a batch together with its recorded activity.
func (s *Service) GetBatchDetail(ctx context.Context, id int64) (BatchDetail, error) {
	batch, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	usages, err := s.repo.ListUsages(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	costs, err := s.repo.ListCosts(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	corrections, err := s.repo.ListCorrections(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	return BatchDetail{Batch: batch, Usages: usages, Costs: costs, Corrections: corrections}, nil
}

func (s *Service) recordActivity(ctx context.Context, actor shared.ActingUser, action shared.ActivityAction, desc string, entityID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.Activity{
		UserID:      actor.ID,
		Action:      action,
		Module:      "manufacturing",
		Description: desc,
		EntityID:    entityID,
	})
}
