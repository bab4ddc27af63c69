package materials

import (
	"errors"
	"fmt"
	"time"
)

// RawMaterial is a procurement input with an on-hand stock quantity.
// Catalog maintenance happens elsewhere; the engine only mutates
// StockQuantity, and never below zero.
type RawMaterial struct {
	ID            int64
	Name          string
	Unit          string
	StockQuantity float64
	MinStockLevel float64
	UpdatedAt     time.Time
}

// qtyEpsilon is the tolerance for quantity comparisons.
const qtyEpsilon = 1e-6

var (
	// ErrNotFound indicates the material does not exist.
	ErrNotFound = errors.New("materials: not found")
	// ErrInsufficientStock indicates a decrement would go below zero.
	ErrInsufficientStock = errors.New("materials: insufficient stock")
)

// ApplyDelta returns the new stock quantity after delta, failing when the
// result would be negative. It is the single guard both procurement and
// manufacturing rely on.
func ApplyDelta(current, delta float64) (float64, error) {
	next := current + delta
	if next < -qtyEpsilon {
		return 0, fmt.Errorf("%w: have %.3f, need %.3f", ErrInsufficientStock, current, -delta)
	}
	if next < 0 {
		next = 0
	}
	return next, nil
}
