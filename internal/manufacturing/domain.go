package manufacturing

import (
	"errors"
	"time"
)

// BatchStatus is the production pipeline stage of a batch. Statuses form a
// linear sequence; a batch only ever moves forward through it.
type BatchStatus string

const (
	StatusPending   BatchStatus = "pending"
	StatusCutting   BatchStatus = "cutting"
	StatusStitching BatchStatus = "stitching"
	StatusIroning   BatchStatus = "ironing"
	StatusPackaging BatchStatus = "packaging"
	StatusCompleted BatchStatus = "completed"
)

var statusOrder = map[BatchStatus]int{
	StatusPending:   0,
	StatusCutting:   1,
	StatusStitching: 2,
	StatusIroning:   3,
	StatusPackaging: 4,
	StatusCompleted: 5,
}

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// CanTransition reports whether a batch may move from one status to another.
// Completed is terminal. Elevated roles may skip ahead any number of stages;
// everyone else advances exactly one stage at a time. Backward moves are
// never allowed.
func CanTransition(from, to BatchStatus, elevated bool) bool {
	fromOrd, ok := statusOrder[from]
	if !ok {
		return false
	}
	toOrd, ok := statusOrder[to]
	if !ok {
		return false
	}
	if from == StatusCompleted || toOrd <= fromOrd {
		return false
	}
	if elevated {
		return true
	}
	return toOrd == fromOrd+1
}

// Batch is one production run of a product.
type Batch struct {
	ID                     int64
	ProductID              int64
	QuantityProduced       float64
	Status                 BatchStatus
	StartDate              time.Time
	ExpectedCompletionDate time.Time
	CompletionDate         time.Time
	CreatedBy              int64
	StatusChangedBy        int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// MaterialUsage records raw material consumed by a batch. Recording one
// decrements the material's stock; deleting the batch restores it.
type MaterialUsage struct {
	ID           int64
	BatchID      int64
	MaterialID   int64
	QuantityUsed float64
	RecordedBy   int64
	RecordedDate time.Time
}

// Cost is an expense accrued by a batch. A cost may draw on a fund, in
// which case it carries the backing fund usage.
type Cost struct {
	ID         int64
	BatchID    int64
	CostType   string
	Amount     float64
	FundID     int64 // 0 when paid outside the fund ledger
	UsageID    int64
	RecordedBy int64
	CreatedAt  time.Time
}

// QuantityCorrection is a post-completion adjustment of the produced
// quantity. It carries a reason and never touches stock.
type QuantityCorrection struct {
	ID          int64
	BatchID     int64
	OldQuantity float64
	NewQuantity float64
	Reason      string
	CorrectedBy int64
	CreatedAt   time.Time
}

var (
	// ErrNotFound indicates the batch does not exist.
	ErrNotFound = errors.New("manufacturing: batch not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("manufacturing: invalid input")
	// ErrIllegalTransition indicates a status move the pipeline does not allow.
	ErrIllegalTransition = errors.New("manufacturing: illegal status transition")
	// ErrBatchCompleted indicates an operation that requires an open batch.
	ErrBatchCompleted = errors.New("manufacturing: batch already completed")
	// ErrBatchNotCompleted indicates a correction on an unfinished batch.
	ErrBatchNotCompleted = errors.New("manufacturing: batch not completed yet")
	// ErrBatchReferenced indicates downstream transfers depend on the batch output.
	ErrBatchReferenced = errors.New("manufacturing: batch output is referenced by transfers")
)
