package inventory

import (
	"errors"
	"time"
)

// Location partitions a product's stock. The total stock of a product is the
// sum of its balances across all locations.
type Location string

const (
	LocationManufacturing Location = "manufacturing"
	LocationWholesale     Location = "wholesale"
	LocationTransit       Location = "transit"
)

// Valid reports whether l is a known location.
func (l Location) Valid() bool {
	switch l {
	case LocationManufacturing, LocationWholesale, LocationTransit:
		return true
	}
	return false
}

// Balance is the stock of one product at one location. Quantity never goes
// negative.
type Balance struct {
	ProductID int64
	Location  Location
	Quantity  float64
	UpdatedAt time.Time
}

// TransferStatus tracks the two-phase handshake.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferRejected  TransferStatus = "rejected"
)

// Transfer is a proposed movement of stock between two locations. Creating
// one moves nothing; only confirmation touches the balances, exactly once.
type Transfer struct {
	ID             int64
	TransferNumber string
	ProductID      int64
	Quantity       float64
	FromLocation   Location
	ToLocation     Location
	Status         TransferStatus
	InitiatedBy    int64
	AssigneeID     int64
	ResolvedBy     int64
	Reason         string
	TransferDate   time.Time
	ResolvedAt     time.Time
	CreatedAt      time.Time
}

const qtyEpsilon = 1e-6

var (
	// ErrNotFound indicates the transfer or balance does not exist.
	ErrNotFound = errors.New("inventory: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates a movement would push a balance below zero.
	ErrInsufficientStock = errors.New("inventory: insufficient stock at source location")
	// ErrNotPending indicates the transfer was already confirmed or rejected.
	ErrNotPending = errors.New("inventory: transfer is not pending")
	// ErrUnauthorized indicates the caller may not resolve this transfer.
	ErrUnauthorized = errors.New("inventory: not authorised to resolve this transfer")
)
