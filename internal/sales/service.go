package sales

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// TxRepository exposes transactional operations used by Service. Inventory
// is bound to the same transaction so a stock shortage rolls back the whole
// sale.
type TxRepository interface {
	InsertSale(ctx context.Context, s Sale) (int64, error)
	UpdateSale(ctx context.Context, s Sale) error
	DeleteSale(ctx context.Context, id int64) error
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)

	InsertItem(ctx context.Context, item SaleItem) (int64, error)
	ListItemsBySale(ctx context.Context, saleID int64) ([]SaleItem, error)
	DeleteItemsBySale(ctx context.Context, saleID int64) error

	InsertPayment(ctx context.Context, p Payment) (int64, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error)
	MarkPaymentVoided(ctx context.Context, id int64, voidedBy int64, reason string) error
	SumLivePayments(ctx context.Context, saleID int64) (float64, error)

	Inventory() inventory.TxStore
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, filters ListFilters) ([]Sale, error)
	ListItems(ctx context.Context, saleID int64) ([]SaleItem, error)
	ListPayments(ctx context.Context, saleID int64) ([]Payment, error)
}

// AuditPort abstracts the activity sink.
type AuditPort interface {
	Record(ctx context.Context, act shared.Activity) error
}

// Service orchestrates sales and payments.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the sales service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ItemInput is one line of a sale request.
type ItemInput struct {
	ProductID int64
	Quantity  float64
	UnitPrice float64
}

// SaleInput carries the fields a caller may set on a sale.
type SaleInput struct {
	CustomerID     int64
	Items          []ItemInput
	DiscountAmount float64
	TaxAmount      float64
	ShippingCost   float64
	SaleDate       time.Time
	Notes          string
}

func (in SaleInput) validate() error {
	if in.CustomerID == 0 || len(in.Items) == 0 {
		return ErrValidation
	}
	if in.DiscountAmount < 0 || in.TaxAmount < 0 || in.ShippingCost < 0 {
		return ErrValidation
	}
	for _, item := range in.Items {
		if item.ProductID == 0 || item.Quantity <= 0 || item.UnitPrice < 0 {
			return ErrValidation
		}
	}
	return nil
}

func (in SaleInput) totals() (total, net float64) {
	for _, item := range in.Items {
		total += item.Quantity * item.UnitPrice
	}
	return total, NetAmount(total, in.DiscountAmount, in.TaxAmount, in.ShippingCost)
}

// CreateSale records a sale and pulls each line's quantity out of the
// product's wholesale inventory. A shortage on any line aborts the sale.
func (s *Service) CreateSale(ctx context.Context, actor shared.ActingUser, input SaleInput) (Sale, error) {
	if err := actor.Validate(); err != nil {
		return Sale{}, err
	}
	if err := input.validate(); err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("create sale rejected: %v", err), 0)
		return Sale{}, err
	}
	total, net := input.totals()
	if net < 0 {
		s.recordActivity(ctx, actor, shared.ActivityError, "create sale rejected: negative net amount", 0)
		return Sale{}, ErrValidation
	}
	saleDate := input.SaleDate
	if saleDate.IsZero() {
		saleDate = time.Now().UTC()
	}

	var created Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale := Sale{
			SaleNumber:     uuid.NewString(),
			CustomerID:     input.CustomerID,
			TotalAmount:    total,
			DiscountAmount: input.DiscountAmount,
			TaxAmount:      input.TaxAmount,
			ShippingCost:   input.ShippingCost,
			NetAmount:      net,
			PaymentStatus:  StatusUnpaid,
			SoldBy:         actor.ID,
			SaleDate:       saleDate,
			Notes:          input.Notes,
		}
		id, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		if err := applyItems(ctx, tx, sale.ID, input.Items); err != nil {
			return err
		}
		created = sale
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("create sale failed: %v", err), 0)
		return Sale{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("sale %d for customer %d, net %.2f", created.ID, created.CustomerID, created.NetAmount), created.ID)
	return created, nil
}

// applyItems inserts sale lines and decrements wholesale inventory.
func applyItems(ctx context.Context, tx TxRepository, saleID int64, items []ItemInput) error {
	store := tx.Inventory()
	for _, item := range items {
		if err := inventory.Credit(ctx, store, item.ProductID, inventory.LocationWholesale, -item.Quantity); err != nil {
			return err
		}
		if _, err := tx.InsertItem(ctx, SaleItem{
			SaleID:    saleID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Quantity * item.UnitPrice,
		}); err != nil {
			return err
		}
	}
	return nil
}

// UpdateSale replaces a sale's lines and money fields, reversing the old
// stock effect before applying the new one. Refused once payments exist;
// void them first.
func (s *Service) UpdateSale(ctx context.Context, actor shared.ActingUser, id int64, input SaleInput) (Sale, error) {
	if err := actor.Validate(); err != nil {
		return Sale{}, err
	}
	if err := input.validate(); err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("update sale %d rejected: %v", id, err), id)
		return Sale{}, err
	}
	total, net := input.totals()
	if net < 0 {
		return Sale{}, ErrValidation
	}

	var updated Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		paid, err := tx.SumLivePayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		if paid > moneyEpsilon {
			return ErrSaleHasPayments
		}
		oldItems, err := tx.ListItemsBySale(ctx, sale.ID)
		if err != nil {
			return err
		}
		store := tx.Inventory()
		for _, item := range oldItems {
			if err := inventory.Credit(ctx, store, item.ProductID, inventory.LocationWholesale, item.Quantity); err != nil {
				return err
			}
		}
		if err := tx.DeleteItemsBySale(ctx, sale.ID); err != nil {
			return err
		}
		if err := applyItems(ctx, tx, sale.ID, input.Items); err != nil {
			return err
		}

		sale.CustomerID = input.CustomerID
		sale.TotalAmount = total
		sale.DiscountAmount = input.DiscountAmount
		sale.TaxAmount = input.TaxAmount
		sale.ShippingCost = input.ShippingCost
		sale.NetAmount = net
		sale.PaymentStatus = StatusUnpaid
		if !input.SaleDate.IsZero() {
			sale.SaleDate = input.SaleDate
		}
		sale.Notes = input.Notes
		if err := tx.UpdateSale(ctx, sale); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("update sale %d failed: %v", id, err), id)
		return Sale{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate, fmt.Sprintf("sale %d updated, net %.2f", updated.ID, updated.NetAmount), updated.ID)
	return updated, nil
}

// DeleteSale removes an unpaid sale and puts its line quantities back into
// wholesale inventory.
func (s *Service) DeleteSale(ctx context.Context, actor shared.ActingUser, id int64) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		paid, err := tx.SumLivePayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		if paid > moneyEpsilon {
			return ErrSaleHasPayments
		}
		items, err := tx.ListItemsBySale(ctx, sale.ID)
		if err != nil {
			return err
		}
		store := tx.Inventory()
		for _, item := range items {
			if err := inventory.Credit(ctx, store, item.ProductID, inventory.LocationWholesale, item.Quantity); err != nil {
				return err
			}
		}
		if err := tx.DeleteItemsBySale(ctx, sale.ID); err != nil {
			return err
		}
		return tx.DeleteSale(ctx, sale.ID)
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("delete sale %d failed: %v", id, err), id)
		return err
	}
	s.recordActivity(ctx, actor, shared.ActivityDelete, fmt.Sprintf("sale %d deleted", id), id)
	return nil
}

// PaymentInput carries the fields for a new payment.
type PaymentInput struct {
	Amount          float64
	Method          string
	ReferenceNumber string
	PaymentDate     time.Time
}

// RecordPayment applies money against a sale and rederives its payment
// status. Paying more than the amount due fails with ErrOverPayment.
func (s *Service) RecordPayment(ctx context.Context, actor shared.ActingUser, saleID int64, input PaymentInput) (Payment, error) {
	if err := actor.Validate(); err != nil {
		return Payment{}, err
	}
	if input.Amount <= 0 || input.Method == "" {
		return Payment{}, ErrValidation
	}
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now().UTC()
	}

	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		paid, err := tx.SumLivePayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		if paid+input.Amount > sale.NetAmount+moneyEpsilon {
			return fmt.Errorf("%w: %.2f due, %.2f offered", ErrOverPayment, sale.NetAmount-paid, input.Amount)
		}
		payment = Payment{
			SaleID:          sale.ID,
			Amount:          input.Amount,
			Method:          input.Method,
			ReferenceNumber: input.ReferenceNumber,
			PaymentDate:     paymentDate,
			RecordedBy:      actor.ID,
		}
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id

		sale.PaymentStatus = PaymentStatusFor(paid+input.Amount, sale.NetAmount)
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("record payment on sale %d failed: %v", saleID, err), saleID)
		return Payment{}, err
	}
	s.recordActivity(ctx, actor, shared.ActivityCreate,
		fmt.Sprintf("payment %d of %.2f on sale %d (%s)", payment.ID, payment.Amount, saleID, payment.Method), saleID)
	return payment, nil
}

// VoidPayment flags a payment as voided and rederives the sale's status
// from the remaining live payments. The reason is mandatory; void is the
// only reversal path for payments.
func (s *Service) VoidPayment(ctx context.Context, actor shared.ActingUser, paymentID int64, reason string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if reason == "" {
		return ErrValidation
	}
	var saleID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Voided {
			return ErrPaymentVoided
		}
		saleID = payment.SaleID
		sale, err := tx.GetSaleForUpdate(ctx, payment.SaleID)
		if err != nil {
			return err
		}
		if err := tx.MarkPaymentVoided(ctx, payment.ID, actor.ID, reason); err != nil {
			return err
		}
		paid, err := tx.SumLivePayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		// The voided row is already excluded from the live sum.
		if math.Abs(paid) < moneyEpsilon {
			paid = 0
		}
		sale.PaymentStatus = PaymentStatusFor(paid, sale.NetAmount)
		return tx.UpdateSale(ctx, sale)
	})
	if err != nil {
		s.recordActivity(ctx, actor, shared.ActivityError, fmt.Sprintf("void payment %d failed: %v", paymentID, err), paymentID)
		return err
	}
	s.recordActivity(ctx, actor, shared.ActivityUpdate,
		fmt.Sprintf("payment %d on sale %d voided: %s", paymentID, saleID, reason), saleID)
	return nil
}

// GetSale fetches one sale.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListSales lists sales.
func (s *Service) ListSales(ctx context.Context, filters ListFilters) ([]Sale, error) {
	return s.repo.ListSales(ctx, filters)
}

// SaleDetail aggregates a sale with its lines and payments.
type SaleDetail struct {
	Sale     Sale
	Items    []SaleItem
	Payments []Payment
}

// GetSaleDetail fetches a sale together with its lines and payments.
func (s *Service) GetSaleDetail(ctx context.Context, id int64) (SaleDetail, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return SaleDetail{}, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return SaleDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return SaleDetail{}, err
	}
	return SaleDetail{Sale: sale, Items: items, Payments: payments}, nil
}

func (s *Service) recordActivity(ctx context.Context, actor shared.ActingUser, action shared.ActivityAction, desc string, entityID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.Activity{
		UserID:      actor.ID,
		Action:      action,
		Module:      "sales",
		Description: desc,
		EntityID:    entityID,
	})
}
