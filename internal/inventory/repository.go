package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchline/stitchline-erp/internal/shared"
)

// TxStore is the transactional surface for location balances. A missing
// (product, location) row reads as zero; Upsert creates it on first write.
// Manufacturing and sales bind this to their own transactions.
type TxStore interface {
	GetForUpdate(ctx context.Context, productID int64, loc Location) (Balance, error)
	Upsert(ctx context.Context, productID int64, loc Location, quantity float64) error
}

// Credit adds delta to a balance inside the caller's transaction, enforcing
// non-negativity.
func Credit(ctx context.Context, store TxStore, productID int64, loc Location, delta float64) error {
	bal, err := store.GetForUpdate(ctx, productID, loc)
	if err != nil {
		return err
	}
	next := bal.Quantity + delta
	if next < -qtyEpsilon {
		return ErrInsufficientStock
	}
	if next < 0 {
		next = 0
	}
	return store.Upsert(ctx, productID, loc, next)
}

// Repository persists balances and transfers in PostgreSQL.
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

// Balances lists a product's stock at every location that has a row.
func (r *Repository) Balances(ctx context.Context, productID int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, location, quantity, updated_at
FROM inventory_balances WHERE product_id=$1 ORDER BY location`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ProductID, &b.Location, &b.Quantity, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const transferColumns = `id, transfer_number, product_id, quantity, from_location, to_location, status, initiated_by, assignee_id, resolved_by, reason, transfer_date, resolved_at, created_at`

// GetTransfer fetches a transfer by id.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM inventory_transfers WHERE id=$1`, id)
	return scanTransfer(row)
}

// TransferFilters narrows transfer listings.
type TransferFilters struct {
	Status    TransferStatus
	ProductID int64
	Limit     int
}

// ListTransfers lists transfers, newest first.
func (r *Repository) ListTransfers(ctx context.Context, filters TransferFilters) ([]Transfer, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM inventory_transfers
WHERE ($1='' OR status=$1) AND ($2=0 OR product_id=$2)
ORDER BY id DESC LIMIT $3`, string(filters.Status), filters.ProductID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Balances() TxStore {
	return NewTxStore(r.tx)
}

func (r *txRepository) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transfers (transfer_number, product_id, quantity, from_location, to_location, status, initiated_by, assignee_id, transfer_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		t.TransferNumber, t.ProductID, t.Quantity, t.FromLocation, t.ToLocation, t.Status, t.InitiatedBy, t.AssigneeID, t.TransferDate).Scan(&id)
	return id, err
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM inventory_transfers WHERE id=$1 FOR UPDATE`, id)
	return scanTransfer(row)
}

func (r *txRepository) ResolveTransfer(ctx context.Context, id int64, status TransferStatus, resolvedBy int64, reason string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_transfers SET status=$2, resolved_by=$3, reason=$4, resolved_at=NOW() WHERE id=$1`,
		id, status, resolvedBy, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var resolvedBy *int64
	var reason *string
	var resolvedAt *time.Time
	err := row.Scan(&t.ID, &t.TransferNumber, &t.ProductID, &t.Quantity, &t.FromLocation, &t.ToLocation,
		&t.Status, &t.InitiatedBy, &t.AssigneeID, &resolvedBy, &reason, &t.TransferDate, &resolvedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	if resolvedBy != nil {
		t.ResolvedBy = *resolvedBy
	}
	if reason != nil {
		t.Reason = *reason
	}
	if resolvedAt != nil {
		t.ResolvedAt = *resolvedAt
	}
	return t, nil
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetForUpdate(ctx context.Context, productID int64, loc Location) (Balance, error) {
	var b Balance
	err := s.tx.QueryRow(ctx, `SELECT product_id, location, quantity, updated_at
FROM inventory_balances WHERE product_id=$1 AND location=$2 FOR UPDATE`, productID, loc).
		Scan(&b.ProductID, &b.Location, &b.Quantity, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ProductID: productID, Location: loc}, nil
		}
		return Balance{}, err
	}
	return b, nil
}

func (s *txStore) Upsert(ctx context.Context, productID int64, loc Location, quantity float64) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO inventory_balances (product_id, location, quantity, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_id, location) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		productID, loc, quantity)
	return err
}
