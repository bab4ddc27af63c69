package sales

import (
	"errors"
	"time"
)

// PaymentStatus classifies a sale's collection state. It is always derived
// from the live payment sum, never stored independently of it.
type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
)

// moneyEpsilon absorbs float drift on money comparisons.
const moneyEpsilon = 0.01

// NetAmount computes what the customer owes for a sale.
func NetAmount(total, discount, tax, shipping float64) float64 {
	return total - discount + tax + shipping
}

// PaymentStatusFor derives the payment status from the live payment sum and
// the net amount. Pure, so voiding a payment and re-adding an identical one
// restores the original status.
func PaymentStatusFor(paid, net float64) PaymentStatus {
	switch {
	case paid <= moneyEpsilon:
		return StatusUnpaid
	case paid >= net-moneyEpsilon:
		return StatusPaid
	default:
		return StatusPartial
	}
}

// Sale is one wholesale order with its derived money fields.
type Sale struct {
	ID             int64
	SaleNumber     string
	CustomerID     int64
	TotalAmount    float64
	DiscountAmount float64
	TaxAmount      float64
	ShippingCost   float64
	NetAmount      float64
	PaymentStatus  PaymentStatus
	SoldBy         int64
	SaleDate       time.Time
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SaleItem is one product line on a sale. Creating the sale decrements the
// product's wholesale inventory by the quantity.
type SaleItem struct {
	ID        int64
	SaleID    int64
	ProductID int64
	Quantity  float64
	UnitPrice float64
	Subtotal  float64
}

// Payment applies money against a sale. Payments are never edited; the only
// reversal is a full void carrying a reason.
type Payment struct {
	ID              int64
	SaleID          int64
	Amount          float64
	Method          string
	ReferenceNumber string
	PaymentDate     time.Time
	RecordedBy      int64
	Voided          bool
	VoidReason      string
	VoidedBy        int64
	CreatedAt       time.Time
}

var (
	// ErrNotFound indicates the sale does not exist.
	ErrNotFound = errors.New("sales: sale not found")
	// ErrPaymentNotFound indicates the payment does not exist.
	ErrPaymentNotFound = errors.New("sales: payment not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("sales: invalid input")
	// ErrOverPayment indicates the payment would exceed the net amount.
	ErrOverPayment = errors.New("sales: payment exceeds amount due")
	// ErrSaleHasPayments guards edits and deletes of partly-paid sales.
	ErrSaleHasPayments = errors.New("sales: sale has recorded payments")
	// ErrPaymentVoided indicates the payment was already voided.
	ErrPaymentVoided = errors.New("sales: payment already voided")
)
