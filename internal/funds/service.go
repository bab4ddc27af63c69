package funds

import (
	"context"
	"fmt"

	"github.com/stitchline/stitchline-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	CreateFund(ctx context.Context, fund Fund) (Fund, error)
	GetFund(ctx context.Context, id int64) (Fund, error)
	ListFunds(ctx context.Context, filters ListFilters) ([]Fund, error)
	ListUsages(ctx context.Context, fundID int64) ([]FundUsage, error)
}

// AuditPort abstracts the activity sink.
type AuditPort interface {
	Record(ctx context.Context, act shared.Activity) error
}

// Service coordinates fund ledger operations.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	audit  AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit}
}

// CreateFundInput describes an investor paying money in.
type CreateFundInput struct {
	Type       FundType
	Amount     float64
	FromUserID int64
	ToUserID   int64
	Notes      string
}

// CreateFund registers a new fund with its full balance available.
func (s *Service) CreateFund(ctx context.Context, actor shared.ActingUser, input CreateFundInput) (Fund, error) {
	if err := actor.Validate(); err != nil {
		return Fund{}, err
	}
	if input.Amount <= 0 || !input.Type.Valid() || input.ToUserID == 0 {
		s.recordActivity(ctx, actor, shared.ActivityError, "create fund rejected: invalid input", 0)
		return Fund{}, ErrValidation
	}
	fund := Fund{
		Type:           input.Type,
		OriginalAmount: input.Amount,
		Balance:        input.Amount,
		Status:         FundStatusActive,
		FromUserID:     input.FromUserID,
		ToUserID:       input.ToUserID,
		Notes:          input.Notes,
	}
	created, err := s.repo.CreateFund(ctx, fund)
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, "create fund failed", 0)
		return Fund{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("fund %d created with %.2f", created.ID, created.OriginalAmount), created.ID)
	return created, nil
}

// TransferInput moves money between users as a fresh ledger entry.
type TransferInput struct {
	FromUserID int64
	ToUserID   int64
	Amount     float64
	Notes      string
}

// Transfer creates a new investment fund owned by the receiving user. It
// never mutates an existing fund's balance, so shared-balance ambiguity
// cannot arise.
func (s *Service) Transfer(ctx context.Context, actor shared.ActingUser, input TransferInput) (Fund, error) {
	if err := actor.Validate(); err != nil {
		return Fund{}, err
	}
	if input.Amount <= 0 || input.FromUserID == 0 || input.ToUserID == 0 || input.FromUserID == input.ToUserID {
		s.recordActivity(ctx, actor, shared.ActivityError, "fund transfer rejected: invalid input", 0)
		return Fund{}, ErrValidation
	}
	fund := Fund{
		Type:           FundTypeInvestment,
		OriginalAmount: input.Amount,
		Balance:        input.Amount,
		Status:         FundStatusActive,
		FromUserID:     input.FromUserID,
		ToUserID:       input.ToUserID,
		Notes:          input.Notes,
	}
	created, err := s.repo.CreateFund(ctx, fund)
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, "fund transfer failed", 0)
		return Fund{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("fund %d transferred %.2f from user %d to user %d", created.ID, input.Amount, input.FromUserID, input.ToUserID), created.ID)
	return created, nil
}

// Allocate draws on a fund for a purpose outside procurement and
// manufacturing, which perform their allocations inside their own
// transactions.
func (s *Service) Allocate(ctx context.Context, actor shared.ActingUser, req AllocationRequest) (FundUsage, error) {
	if err := actor.Validate(); err != nil {
		return FundUsage{}, err
	}
	req.UsedBy = actor.ID
	var usage FundUsage
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		var err error
		usage, err = s.ledger.Allocate(ctx, store, req)
		return err
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError,
			fmt.Sprintf("allocate %.2f from fund %d failed: %v", req.Amount, req.FundID, err), req.FundID)
		return FundUsage{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate,
		fmt.Sprintf("allocated %.2f from fund %d (%s)", usage.Amount, usage.FundID, usage.Purpose), usage.FundID)
	return usage, nil
}

// ReverseUsage undoes a single allocation in full.
func (s *Service) ReverseUsage(ctx context.Context, actor shared.ActingUser, usageID int64) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if !actor.Role.Elevated() {
		s.recordActivity(ctx, actor, shared.ActivityError, "reverse usage forbidden", usageID)
		return shared.ErrForbidden
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		return s.ledger.Reverse(ctx, store, usageID)
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError,
			fmt.Sprintf("reverse usage %d failed: %v", usageID, err), usageID)
		return err
	}
	s.recordActivity(ctx, actor, shared.ActivityDelete,
		fmt.Sprintf("usage %d reversed", usageID), usageID)
	return nil
}

// MarkReturned closes a fund once the remaining balance has been paid back
// to the investor. A returned fund can no longer be drawn on.
func (s *Service) MarkReturned(ctx context.Context, actor shared.ActingUser, fundID int64) (Fund, error) {
	if err := actor.Validate(); err != nil {
		return Fund{}, err
	}
	if !actor.Role.Elevated() {
		return Fund{}, shared.ErrForbidden
	}
	var fund Fund
	err := s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		current, err := store.GetFundForUpdate(ctx, fundID)
		if err != nil {
			return err
		}
		if current.Status == FundStatusReturned {
			return ErrFundInactive
		}
		if err := store.SetFundBalance(ctx, fundID, 0, FundStatusReturned); err != nil {
			return err
		}
		fund = current
		fund.Balance = 0
		fund.Status = FundStatusReturned
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError,
			fmt.Sprintf("mark fund %d returned failed: %v", fundID, err), fundID)
		return Fund{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate,
		fmt.Sprintf("fund %d marked returned, %.2f paid back", fundID, fund.OriginalAmount), fundID)
	return fund, nil
}

// GetFund fetches one fund.
func (s *Service) GetFund(ctx context.Context, id int64) (Fund, error) {
	return s.repo.GetFund(ctx, id)
}

// ListFunds lists funds.
func (s *Service) ListFunds(ctx context.Context, filters ListFilters) ([]Fund, error) {
	return s.repo.ListFunds(ctx, filters)
}

// ListUsages lists allocations against a fund.
func (s *Service) ListUsages(ctx context.Context, fundID int64) ([]FundUsage, error) {
	return s.repo.ListUsages(ctx, fundID)
}

func (s *Service) recordActivity(ctx context.Context, actor shared.ActingUser, action shared.ActivityAction, desc string, entityID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.Activity{
		UserID:      actor.ID,
		Action:      action,
		Module:      "funds",
		Description: desc,
		EntityID:    entityID,
	})
}
