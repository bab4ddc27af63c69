package procurement

import (
	"errors"
	"math"
	"time"
)

// Purchase records one raw-material buy. Creating it raises the material's
// stock and, when a fund is attached, draws the total from that fund.
// Edits and deletes always reverse the prior effect before applying a new
// one, inside a single transaction.
type Purchase struct {
	ID           int64
	MaterialID   int64
	Quantity     float64
	UnitPrice    float64
	TotalAmount  float64
	FundID       int64 // 0 when paid outside the fund ledger
	UsageID      int64 // fund usage backing this purchase, 0 when FundID is 0
	PurchasedBy  int64
	PurchaseDate time.Time
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// totalTolerance is the accepted drift between total_amount and
// quantity * unit_price.
const totalTolerance = 0.01

var (
	// ErrNotFound indicates the purchase does not exist.
	ErrNotFound = errors.New("procurement: purchase not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrTotalMismatch indicates total_amount disagrees with qty * price.
	ErrTotalMismatch = errors.New("procurement: total amount does not match quantity times unit price")
)

// checkTotal verifies the stated total against quantity and unit price.
func checkTotal(quantity, unitPrice, total float64) error {
	if math.Abs(total-quantity*unitPrice) > totalTolerance {
		return ErrTotalMismatch
	}
	return nil
}

// compensation describes how to undo a purchase's stock and fund effect.
// The same reversal is used by both the edit and the delete path.
type compensation struct {
	materialID int64
	qtyDelta   float64
	usageID    int64
}

// reverseEffect derives the compensating deltas for a purchase as stored.
func reverseEffect(p Purchase) compensation {
	return compensation{
		materialID: p.MaterialID,
		qtyDelta:   -p.Quantity,
		usageID:    p.UsageID,
	}
}
