package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stitchline/stitchline-erp/internal/shared"
	"github.com/stitchline/stitchline-erp/internal/users"
)

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	InsertTransfer(ctx context.Context, t Transfer) (int64, error)
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	ResolveTransfer(ctx context.Context, id int64, status TransferStatus, resolvedBy int64, reason string) error
	Balances() TxStore
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filters TransferFilters) ([]Transfer, error)
	Balances(ctx context.Context, productID int64) ([]Balance, error)
}

// UserPort resolves the default assignee for a transfer.
type UserPort interface {
	FirstActiveWithRole(ctx context.Context, role shared.Role) (users.User, error)
}

// NotifyPort abstracts the notification sink.
type NotifyPort interface {
	Notify(ctx context.Context, note shared.Notification) error
}

// AuditPort abstracts the activity sink.
type AuditPort interface {
	Record(ctx context.Context, act shared.Activity) error
}

// Service runs the two-phase transfer protocol over location balances.
type Service struct {
	repo     RepositoryPort
	users    UserPort
	notifier NotifyPort
	audit    AuditPort
	printer  *message.Printer
}

// NewService constructs the inventory service.
func NewService(repo RepositoryPort, userDir UserPort, notifier NotifyPort, audit AuditPort) *Service {
	return &Service{
		repo:     repo,
		users:    userDir,
		notifier: notifier,
		audit:    audit,
		printer:  message.NewPrinter(language.English),
	}
}

// InitiateInput carries the fields for a new transfer.
type InitiateInput struct {
	ProductID    int64
	Quantity     float64
	FromLocation Location
	ToLocation   Location
	AssigneeID   int64 // 0 picks the first active shopkeeper
	TransferDate time.Time
}

func (in InitiateInput) validate() error {
	if in.ProductID == 0 || in.Quantity <= 0 {
		return ErrValidation
	}
	if !in.FromLocation.Valid() || !in.ToLocation.Valid() || in.FromLocation == in.ToLocation {
		return ErrValidation
	}
	return nil
}

// Initiate proposes a stock movement. No balance changes until the assignee
// confirms; the assignee is notified of the pending handoff.
func (s *Service) Initiate(ctx context.Context, actor shared.ActingUser, input InitiateInput) (Transfer, error) {
	if err := actor.Validate(); err != nil {
		return Transfer{}, err
	}
	if err := input.validate(); err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("initiate transfer rejected: %v", err), 0)
		return Transfer{}, err
	}

	assigneeID := input.AssigneeID
	if assigneeID == 0 {
		assignee, err := s.users.FirstActiveWithRole(ctx, shared.RoleShopkeeper)
		if err != nil {
			return Transfer{}, fmt.Errorf("inventory: no assignee available: %w", err)
		}
		assigneeID = assignee.ID
	}
	transferDate := input.TransferDate
	if transferDate.IsZero() {
		transferDate = time.Now().UTC()
	}

	transfer := Transfer{
		TransferNumber: uuid.NewString(),
		ProductID:      input.ProductID,
		Quantity:       input.Quantity,
		FromLocation:   input.FromLocation,
		ToLocation:     input.ToLocation,
		Status:         TransferPending,
		InitiatedBy:    actor.ID,
		AssigneeID:     assigneeID,
		TransferDate:   transferDate,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = id
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("initiate transfer failed: %v", err), 0)
		return Transfer{}, err
	}

	if s.notifier != nil {
		msg := s.printer.Sprintf("Transfer %s awaits your confirmation: %.0f units of product %d, %s to %s",
			transfer.TransferNumber, transfer.Quantity, transfer.ProductID, transfer.FromLocation, transfer.ToLocation)
		_ = s.notifier.Notify(ctx, shared.Notification{
			UserID:    assigneeID,
			Kind:      "transfer_pending",
			Message:   msg,
			RelatedID: transfer.ID,
		})
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("transfer %d initiated: %.3f of product %d, %s to %s", transfer.ID, transfer.Quantity, transfer.ProductID, transfer.FromLocation, transfer.ToLocation), transfer.ID)
	return transfer, nil
}

// Confirm applies the stock movement, exactly once. A second confirm on the
// same transfer reports ErrNotPending and changes nothing.
func (s *Service) Confirm(ctx context.Context, actor shared.ActingUser, transferID int64) (Transfer, error) {
	if err := actor.Validate(); err != nil {
		return Transfer{}, err
	}
	var confirmed Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if err := s.authorizeResolution(transfer, actor); err != nil {
			return err
		}
		balances := tx.Balances()
		if err := Credit(ctx, balances, transfer.ProductID, transfer.FromLocation, -transfer.Quantity); err != nil {
			return err
		}
		if err := Credit(ctx, balances, transfer.ProductID, transfer.ToLocation, transfer.Quantity); err != nil {
			return err
		}
		if err := tx.ResolveTransfer(ctx, transfer.ID, TransferConfirmed, actor.ID, ""); err != nil {
			return err
		}
		transfer.Status = TransferConfirmed
		transfer.ResolvedBy = actor.ID
		confirmed = transfer
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("confirm transfer %d failed: %v", transferID, err), transferID)
		return Transfer{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate,
		fmt.Sprintf("transfer %d confirmed: %.3f of product %d moved %s to %s", confirmed.ID, confirmed.Quantity, confirmed.ProductID, confirmed.FromLocation, confirmed.ToLocation), confirmed.ID)
	return confirmed, nil
}

// Reject declines a pending transfer with a reason. No stock moves.
func (s *Service) Reject(ctx context.Context, actor shared.ActingUser, transferID int64, reason string) (Transfer, error) {
	if err := actor.Validate(); err != nil {
		return Transfer{}, err
	}
	if reason == "" {
		return Transfer{}, ErrValidation
	}
	var rejected Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if err := s.authorizeResolution(transfer, actor); err != nil {
			return err
		}
		if err := tx.ResolveTransfer(ctx, transfer.ID, TransferRejected, actor.ID, reason); err != nil {
			return err
		}
		transfer.Status = TransferRejected
		transfer.ResolvedBy = actor.ID
		transfer.Reason = reason
		rejected = transfer
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("reject transfer %d failed: %v", transferID, err), transferID)
		return Transfer{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate, fmt.Sprintf("transfer %d rejected: %s", rejected.ID, reason), rejected.ID)
	return rejected, nil
}

func (s *Service) authorizeResolution(transfer Transfer, actor shared.ActingUser) error {
	if transfer.Status != TransferPending {
		return ErrNotPending
	}
	if actor.ID != transfer.AssigneeID && !actor.Role.Elevated() {
		return ErrUnauthorized
	}
	return nil
}

// GetTransfer fetches one transfer.
func (s *Service) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// ListTransfers lists transfers.
func (s *Service) ListTransfers(ctx context.Context, filters TransferFilters) ([]Transfer, error) {
	return s.repo.ListTransfers(ctx, filters)
}

// ProductStock returns a product's per-location balances and their sum.
func (s *Service) ProductStock(ctx context.Context, productID int64) ([]Balance, float64, error) {
	balances, err := s.repo.Balances(ctx, productID)
	if err != nil {
		return nil, 0, err
	}
	var total float64
	for _, b := range balances {
		total += b.Quantity
	}
	return balances, total, nil
}

func (s *Service) recordActivity(ctx context.Context, actor shared.ActingUser, action shared.ActivityAction, desc string, entityID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.Activity{
		UserID:      actor.ID,
		Action:      action,
		Module:      "inventory",
		Description: desc,
		EntityID:    entityID,
	})
}
