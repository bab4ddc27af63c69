package funds

import (
	"context"
	"fmt"
	"time"
)

// TxStore is the transactional surface the ledger operates on. Implementations
// bind to an open transaction so fund mutations commit or roll back together
// with the caller's own rows. GetFundForUpdate must take a row lock for the
// remainder of the transaction.
type TxStore interface {
	GetFundForUpdate(ctx context.Context, fundID int64) (Fund, error)
	SetFundBalance(ctx context.Context, fundID int64, balance float64, status FundStatus) error
	InsertUsage(ctx context.Context, usage FundUsage) (int64, error)
	GetUsage(ctx context.Context, usageID int64) (FundUsage, error)
	SetUsageAmount(ctx context.Context, usageID int64, amount float64) error
	DeleteUsage(ctx context.Context, usageID int64) error
}

// AllocationRequest describes one draw against a fund.
type AllocationRequest struct {
	FundID      int64
	Amount      float64
	Purpose     UsagePurpose
	ReferenceID int64
	UsedBy      int64
	Notes       string
}

// Ledger holds the balance accounting rules. It is stateless; procurement and
// manufacturing reuse the same instance inside their own transactions.
type Ledger struct{}

// NewLedger returns a Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Allocate draws amount from the fund and records a usage row. The fund
// balance never goes below zero; a fund that reaches zero becomes depleted.
func (l *Ledger) Allocate(ctx context.Context, store TxStore, req AllocationRequest) (FundUsage, error) {
	if req.FundID == 0 || req.Amount <= 0 || !req.Purpose.Valid() {
		return FundUsage{}, ErrValidation
	}
	fund, err := store.GetFundForUpdate(ctx, req.FundID)
	if err != nil {
		return FundUsage{}, err
	}
	if fund.Status != FundStatusActive {
		return FundUsage{}, ErrFundInactive
	}
	if req.Amount > fund.Balance+balanceEpsilon {
		return FundUsage{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, req.Amount, fund.Balance)
	}

	balance := fund.Balance - req.Amount
	status := FundStatusActive
	if balance < balanceEpsilon {
		balance = 0
		status = FundStatusDepleted
	}
	if err := store.SetFundBalance(ctx, fund.ID, balance, status); err != nil {
		return FundUsage{}, err
	}

	usage := FundUsage{
		FundID:      fund.ID,
		Amount:      req.Amount,
		Purpose:     req.Purpose,
		ReferenceID: req.ReferenceID,
		UsedBy:      req.UsedBy,
		UsedAt:      time.Now().UTC(),
		Notes:       req.Notes,
	}
	usage.ID, err = store.InsertUsage(ctx, usage)
	if err != nil {
		return FundUsage{}, err
	}
	return usage, nil
}

// Reverse undoes a usage in full: the amount returns to the fund balance, a
// depleted fund becomes active again, and the usage row is removed.
func (l *Ledger) Reverse(ctx context.Context, store TxStore, usageID int64) error {
	usage, err := store.GetUsage(ctx, usageID)
	if err != nil {
		return err
	}
	fund, err := store.GetFundForUpdate(ctx, usage.FundID)
	if err != nil {
		return err
	}

	balance := fund.Balance + usage.Amount
	status := fund.Status
	if status == FundStatusDepleted && balance > balanceEpsilon {
		status = FundStatusActive
	}
	if err := store.SetFundBalance(ctx, fund.ID, balance, status); err != nil {
		return err
	}
	return store.DeleteUsage(ctx, usageID)
}

// Adjust resizes an existing usage to newAmount, applying only the delta to
// the fund balance. Growing a usage fails when the fund cannot cover the
// difference; shrinking one may revive a depleted fund.
func (l *Ledger) Adjust(ctx context.Context, store TxStore, usageID int64, newAmount float64) error {
	if newAmount <= 0 {
		return ErrValidation
	}
	usage, err := store.GetUsage(ctx, usageID)
	if err != nil {
		return err
	}
	fund, err := store.GetFundForUpdate(ctx, usage.FundID)
	if err != nil {
		return err
	}
	delta := newAmount - usage.Amount
	if delta > 0 && fund.Status == FundStatusReturned {
		return ErrFundInactive
	}
	balance := fund.Balance - delta
	if balance < -balanceEpsilon {
		return fmt.Errorf("%w: need %.2f more, have %.2f", ErrInsufficientBalance, delta, fund.Balance)
	}

	status := fund.Status
	switch {
	case balance < balanceEpsilon:
		balance = 0
		if status != FundStatusReturned {
			status = FundStatusDepleted
		}
	case status == FundStatusDepleted:
		status = FundStatusActive
	}
	if err := store.SetFundBalance(ctx, fund.ID, balance, status); err != nil {
		return err
	}
	return store.SetUsageAmount(ctx, usageID, newAmount)
}
