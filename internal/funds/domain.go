package funds

import (
	"errors"
	"time"
)

// FundType enumerates the direction of a fund.
type FundType string

const (
	// FundTypeInvestment is money paid in by an investor for consumption.
	FundTypeInvestment FundType = "investment"
	// FundTypeReturn is money earmarked to be paid back to an investor.
	FundTypeReturn FundType = "return"
)

// FundStatus enumerates fund lifecycle states.
type FundStatus string

const (
	FundStatusActive   FundStatus = "active"
	FundStatusDepleted FundStatus = "depleted"
	FundStatusReturned FundStatus = "returned"
)

// UsagePurpose classifies what a fund allocation paid for.
type UsagePurpose string

const (
	PurposePurchase          UsagePurpose = "purchase"
	PurposeManufacturingCost UsagePurpose = "manufacturing_cost"
	PurposeOther             UsagePurpose = "other"
)

// Fund is a tracked pool of money with a running balance. The balance only
// decreases through usages and only increases when a usage is reversed.
type Fund struct {
	ID             int64
	Type           FundType
	OriginalAmount float64
	Balance        float64
	Status         FundStatus
	FromUserID     int64
	ToUserID       int64
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FundUsage records one allocation against a fund.
type FundUsage struct {
	ID          int64
	FundID      int64
	Amount      float64
	Purpose     UsagePurpose
	ReferenceID int64
	UsedBy      int64
	UsedAt      time.Time
	Notes       string
}

// balanceEpsilon is the tolerance for treating a money balance as zero.
const balanceEpsilon = 0.005

var (
	// ErrNotFound indicates the fund does not exist.
	ErrNotFound = errors.New("funds: not found")
	// ErrUsageNotFound indicates the usage row does not exist.
	ErrUsageNotFound = errors.New("funds: usage not found")
	// ErrInsufficientBalance indicates the allocation exceeds the balance.
	ErrInsufficientBalance = errors.New("funds: insufficient balance")
	// ErrFundInactive indicates the fund may not be drawn on.
	ErrFundInactive = errors.New("funds: fund not active")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("funds: invalid input")
)

// Valid reports whether the fund type is known.
func (t FundType) Valid() bool {
	return t == FundTypeInvestment || t == FundTypeReturn
}

// Valid reports whether the purpose is known.
func (p UsagePurpose) Valid() bool {
	return p == PurposePurchase || p == PurposeManufacturingCost || p == PurposeOther
}
