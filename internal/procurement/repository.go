package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// Repository persists purchases in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return shared.TranslatePgError(tx.Commit(ctx))
}

const purchaseColumns = `id, material_id, quantity, unit_price, total_amount, fund_id, fund_usage_id, purchased_by, purchase_date, notes, created_at, updated_at`

// GetPurchase fetches a purchase by id.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id)
	return scanPurchase(row)
}

// ListFilters narrows purchase listings.
type ListFilters struct {
	MaterialID int64
	FundID     int64
	From       time.Time
	To         time.Time
	Limit      int
}

// ListPurchases lists purchases, newest first.
func (r *Repository) ListPurchases(ctx context.Context, filters ListFilters) ([]Purchase, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases
WHERE ($1=0 OR material_id=$1)
  AND ($2=0 OR fund_id=$2)
  AND purchase_date BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY id DESC LIMIT $5`, filters.MaterialID, filters.FundID, nullTime(filters.From), nullTime(filters.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
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

func (r *txRepository) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchases (material_id, quantity, unit_price, total_amount, fund_id, fund_usage_id, purchased_by, purchase_date, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		p.MaterialID, p.Quantity, p.UnitPrice, p.TotalAmount, nullID(p.FundID), nullID(p.UsageID), p.PurchasedBy, p.PurchaseDate, p.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) UpdatePurchase(ctx context.Context, p Purchase) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchases SET material_id=$2, quantity=$3, unit_price=$4, total_amount=$5, fund_id=$6, fund_usage_id=$7, purchase_date=$8, notes=$9, updated_at=NOW()
WHERE id=$1`, p.ID, p.MaterialID, p.Quantity, p.UnitPrice, p.TotalAmount, nullID(p.FundID), nullID(p.UsageID), p.PurchaseDate, p.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeletePurchase(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id)
	return scanPurchase(row)
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	var fundID, usageID *int64
	err := row.Scan(&p.ID, &p.MaterialID, &p.Quantity, &p.UnitPrice, &p.TotalAmount, &fundID, &usageID, &p.PurchasedBy, &p.PurchaseDate, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, err
	}
	if fundID != nil {
		p.FundID = *fundID
	}
	if usageID != nil {
		p.UsageID = *usageID
	}
	return p, nil
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
