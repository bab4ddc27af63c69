package manufacturing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// Repository persists batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return shared.TranslatePgError(tx.Commit(ctx))
}

const batchColumns = `id, product_id, quantity_produced, status, start_date, expected_completion_date, completion_date, created_by, status_changed_by, created_at, updated_at`

// GetBatch fetches a batch by id.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM manufacturing_batches WHERE id=$1`, id)
	return scanBatch(row)
}

// ListFilters narrows batch listings.
type ListFilters struct {
	ProductID int64
	Status    BatchStatus
	Limit     int
}

// ListBatches lists batches, newest first.
func (r *Repository) ListBatches(ctx context.Context, filters ListFilters) ([]Batch, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM manufacturing_batches
WHERE ($1=0 OR product_id=$1) AND ($2='' OR status=$2)
ORDER BY id DESC LIMIT $3`, filters.ProductID, string(filters.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListUsages lists a batch's material usage records.
func (r *Repository) ListUsages(ctx context.Context, batchID int64) ([]MaterialUsage, error) {
	return queryUsages(ctx, r.pool, batchID)
}

// ListCosts lists a batch's costs.
func (r *Repository) ListCosts(ctx context.Context, batchID int64) ([]Cost, error) {
	return queryCosts(ctx, r.pool, batchID)
}

// ListCorrections lists a batch's quantity corrections.
func (r *Repository) ListCorrections(ctx context.Context, batchID int64) ([]QuantityCorrection, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, old_quantity, new_quantity, reason, corrected_by, created_at
FROM batch_quantity_corrections WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []QuantityCorrection{}
	for rows.Next() {
		var c QuantityCorrection
		if err := rows.Scan(&c.ID, &c.BatchID, &c.OldQuantity, &c.NewQuantity, &c.Reason, &c.CorrectedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryUsages(ctx context.Context, q querier, batchID int64) ([]MaterialUsage, error) {
	rows, err := q.Query(ctx, `SELECT id, batch_id, material_id, quantity_used, recorded_by, recorded_date
FROM batch_material_usages WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MaterialUsage{}
	for rows.Next() {
		var u MaterialUsage
		if err := rows.Scan(&u.ID, &u.BatchID, &u.MaterialID, &u.QuantityUsed, &u.RecordedBy, &u.RecordedDate); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func queryCosts(ctx context.Context, q querier, batchID int64) ([]Cost, error) {
	rows, err := q.Query(ctx, `SELECT id, batch_id, cost_type, amount, fund_id, fund_usage_id, recorded_by, created_at
FROM batch_costs WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Cost{}
	for rows.Next() {
		var c Cost
		var fundID, usageID *int64
		if err := rows.Scan(&c.ID, &c.BatchID, &c.CostType, &c.Amount, &fundID, &usageID, &c.RecordedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		if fundID != nil {
			c.FundID = *fundID
		}
		if usageID != nil {
			c.UsageID = *usageID
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Funds() funds.TxStore {
	return funds.NewTxStore(r.tx)
}

func (r *txRepository) Materials() materials.TxStore {
	return materials.NewTxStore(r.tx)
}

func (r *txRepository) Inventory() inventory.TxStore {
	return inventory.NewTxStore(r.tx)
}

func (r *txRepository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO manufacturing_batches (product_id, quantity_produced, status, start_date, expected_completion_date, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`,
		b.ProductID, b.QuantityProduced, string(b.Status), b.StartDate, nullTime(b.ExpectedCompletionDate), b.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBatch(ctx context.Context, b Batch) error {
	tag, err := r.tx.Exec(ctx, `UPDATE manufacturing_batches SET quantity_produced=$2, status=$3, completion_date=$4, status_changed_by=$5, updated_at=NOW()
WHERE id=$1`, b.ID, b.QuantityProduced, string(b.Status), nullTime(b.CompletionDate), nullID(b.StatusChangedBy))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeleteBatch(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM manufacturing_batches WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM manufacturing_batches WHERE id=$1 FOR UPDATE`, id)
	return scanBatch(row)
}

func (r *txRepository) InsertUsage(ctx context.Context, u MaterialUsage) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batch_material_usages (batch_id, material_id, quantity_used, recorded_by, recorded_date)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		u.BatchID, u.MaterialID, u.QuantityUsed, u.RecordedBy, u.RecordedDate).Scan(&id)
	return id, err
}

func (r *txRepository) ListUsagesByBatch(ctx context.Context, batchID int64) ([]MaterialUsage, error) {
	return queryUsages(ctx, r.tx, batchID)
}

func (r *txRepository) DeleteUsagesByBatch(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM batch_material_usages WHERE batch_id=$1`, batchID)
	return err
}

func (r *txRepository) InsertCost(ctx context.Context, c Cost) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batch_costs (batch_id, cost_type, amount, fund_id, fund_usage_id, recorded_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		c.BatchID, c.CostType, c.Amount, nullID(c.FundID), nullID(c.UsageID), c.RecordedBy).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateCost(ctx context.Context, c Cost) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batch_costs SET amount=$2, fund_id=$3, fund_usage_id=$4 WHERE id=$1`,
		c.ID, c.Amount, nullID(c.FundID), nullID(c.UsageID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) ListCostsByBatch(ctx context.Context, batchID int64) ([]Cost, error) {
	return queryCosts(ctx, r.tx, batchID)
}

func (r *txRepository) DeleteCostsByBatch(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM batch_costs WHERE batch_id=$1`, batchID)
	return err
}

func (r *txRepository) InsertCorrection(ctx context.Context, c QuantityCorrection) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batch_quantity_corrections (batch_id, old_quantity, new_quantity, reason, corrected_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		c.BatchID, c.OldQuantity, c.NewQuantity, c.Reason, c.CorrectedBy).Scan(&id)
	return id, err
}

func (r *txRepository) OpenTransfersForProduct(ctx context.Context, productID int64) (int64, error) {
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_transfers
WHERE product_id=$1 AND status IN ('pending','confirmed')`, productID).Scan(&count)
	return count, err
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var status string
	var expected, completed *time.Time
	var changedBy *int64
	err := row.Scan(&b.ID, &b.ProductID, &b.QuantityProduced, &status, &b.StartDate, &expected, &completed, &b.CreatedBy, &changedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	b.Status = BatchStatus(status)
	if expected != nil {
		b.ExpectedCompletionDate = *expected
	}
	if completed != nil {
		b.CompletionDate = *completed
	}
	if changedBy != nil {
		b.StatusChangedBy = *changedBy
	}
	return b, nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
