package procurement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// TxRepository exposes transactional operations used by Service. Funds and
// Materials are bound to the same transaction, so a failed step rolls back
// the purchase row, the stock change and the fund allocation together.
type TxRepository interface {
	InsertPurchase(ctx context.Context, p Purchase) (int64, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
	DeletePurchase(ctx context.Context, id int64) error
	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	Funds() funds.TxStore
	Materials() materials.TxStore
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	ListPurchases(ctx context.Context, filters ListFilters) ([]Purchase, error)
}

// AuditPort abstracts the activity sink.
type AuditPort interface {
	Record(ctx context.Context, act shared.Activity) error
}

// Service orchestrates purchase flows.
type Service struct {
	repo   RepositoryPort
	ledger *funds.Ledger
	audit  AuditPort
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, ledger *funds.Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// PurchaseInput carries the fields a caller may set on a purchase.
type PurchaseInput struct {
	MaterialID   int64
	Quantity     float64
	UnitPrice    float64
	TotalAmount  float64
	FundID       int64
	PurchaseDate time.Time
	Notes        string
}

func (in PurchaseInput) validate() error {
	if in.MaterialID == 0 || in.Quantity <= 0 || in.UnitPrice < 0 || in.TotalAmount < 0 {
		return ErrValidation
	}
	return checkTotal(in.Quantity, in.UnitPrice, in.TotalAmount)
}

// CreatePurchase records a purchase: stock rises by the quantity and, when a
// fund is named, its balance drops by the total. Everything happens in one
// transaction; an insufficient fund aborts the stock change too.
func (s *Service) CreatePurchase(ctx context.Context, actor shared.ActingUser, input PurchaseInput) (Purchase, error) {
	if err := actor.Validate(); err != nil {
		return Purchase{}, err
	}
	if err := input.validate(); err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("create purchase rejected: %v", err), 0)
		return Purchase{}, err
	}
	purchaseDate := input.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = time.Now().UTC()
	}

	var created Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p := Purchase{
			MaterialID:   input.MaterialID,
			Quantity:     input.Quantity,
			UnitPrice:    input.UnitPrice,
			TotalAmount:  input.TotalAmount,
			FundID:       input.FundID,
			PurchasedBy:  actor.ID,
			PurchaseDate: purchaseDate,
			Notes:        input.Notes,
		}
		id, err := tx.InsertPurchase(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id

		if input.FundID != 0 {
			usage, err := s.ledger.Allocate(ctx, tx.Funds(), funds.AllocationRequest{
				FundID:      input.FundID,
				Amount:      input.TotalAmount,
				Purpose:     funds.PurposePurchase,
				ReferenceID: p.ID,
				UsedBy:      actor.ID,
				Notes:       input.Notes,
			})
			if err != nil {
				return err
			}
			p.UsageID = usage.ID
			if err := tx.UpdatePurchase(ctx, p); err != nil {
				return err
			}
		}

		if err := materials.AdjustStock(ctx, tx.Materials(), p.MaterialID, p.Quantity); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("create purchase failed: %v", err), 0)
		return Purchase{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("purchase %d: %.3f of material %d for %.2f", created.ID, created.Quantity, created.MaterialID, created.TotalAmount), created.ID)
	return created, nil
}

// UpdatePurchase edits a purchase by reversing its old effect and applying
// the new one. Only the delta actually touches the material and fund rows:
// an unchanged material sees a quantity delta, an unchanged fund sees its
// usage resized, while a changed material or fund is fully reversed and
// reapplied. Any failure leaves the original purchase intact.
func (s *Service) UpdatePurchase(ctx context.Context, actor shared.ActingUser, id int64, input PurchaseInput) (Purchase, error) {
	if err := actor.Validate(); err != nil {
		return Purchase{}, err
	}
	if err := input.validate(); err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("update purchase %d rejected: %v", id, err), id)
		return Purchase{}, err
	}

	var updated Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}

		// Stock side.
		if input.MaterialID != old.MaterialID {
			undo := reverseEffect(old)
			if err := materials.AdjustStock(ctx, tx.Materials(), undo.materialID, undo.qtyDelta); err != nil {
				return err
			}
			if err := materials.AdjustStock(ctx, tx.Materials(), input.MaterialID, input.Quantity); err != nil {
				return err
			}
		} else if delta := input.Quantity - old.Quantity; math.Abs(delta) > 1e-9 {
			if err := materials.AdjustStock(ctx, tx.Materials(), old.MaterialID, delta); err != nil {
				return err
			}
		}

		// Fund side.
		usageID := old.UsageID
		switch {
		case input.FundID == old.FundID && input.FundID == 0:
			// No fund involved either way.
		case input.FundID == old.FundID:
			if math.Abs(input.TotalAmount-old.TotalAmount) > totalTolerance {
				if err := s.ledger.Adjust(ctx, tx.Funds(), old.UsageID, input.TotalAmount); err != nil {
					return err
				}
			}
		default:
			if old.UsageID != 0 {
				if err := s.ledger.Reverse(ctx, tx.Funds(), old.UsageID); err != nil {
					return err
				}
				usageID = 0
			}
			if input.FundID != 0 {
				usage, err := s.ledger.Allocate(ctx, tx.Funds(), funds.AllocationRequest{
					FundID:      input.FundID,
					Amount:      input.TotalAmount,
					Purpose:     funds.PurposePurchase,
					ReferenceID: old.ID,
					UsedBy:      actor.ID,
					Notes:       input.Notes,
				})
				if err != nil {
					return err
				}
				usageID = usage.ID
			}
		}

		next := old
		next.MaterialID = input.MaterialID
		next.Quantity = input.Quantity
		next.UnitPrice = input.UnitPrice
		next.TotalAmount = input.TotalAmount
		next.FundID = input.FundID
		next.UsageID = usageID
		if !input.PurchaseDate.IsZero() {
			next.PurchaseDate = input.PurchaseDate
		}
		next.Notes = input.Notes
		if err := tx.UpdatePurchase(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("update purchase %d failed: %v", id, err), id)
		return Purchase{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate,
		fmt.Sprintf("purchase %d updated: %.3f of material %d for %.2f", updated.ID, updated.Quantity, updated.MaterialID, updated.TotalAmount), updated.ID)
	return updated, nil
}

// DeletePurchase removes a purchase after reversing its stock and fund
// effect. Deleting fails when the bought stock has already been consumed.
func (s *Service) DeletePurchase(ctx context.Context, actor shared.ActingUser, id int64) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		undo := reverseEffect(old)
		if err := materials.AdjustStock(ctx, tx.Materials(), undo.materialID, undo.qtyDelta); err != nil {
			return err
		}
		if undo.usageID != 0 {
			if err := s.ledger.Reverse(ctx, tx.Funds(), undo.usageID); err != nil {
				return err
			}
		}
		return tx.DeletePurchase(ctx, id)
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("delete purchase %d failed: %v", id, err), id)
		return err
	}
	s.recordActivity(ctx, actor, shared.ActivityDelete, fmt.Sprintf("purchase %d deleted", id), id)
	return nil
}

// GetPurchase fetches one purchase.
func (s *Service) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// ListPurchases lists purchases.
func (s *Service) ListPurchases(ctx context.Context, filters ListFilters) ([]Purchase, error) {
	return s.repo.ListPurchases(ctx, filters)
}

func (s *Service) recordActivity(ctx context.Context, actor shared.ActingUser, action shared.ActivityAction, desc string, entityID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.Activity{
		UserID:      actor.ID,
		Action:      action,
		Module:      "procurement",
		Description: desc,
		EntityID:    entityID,
	})
}
