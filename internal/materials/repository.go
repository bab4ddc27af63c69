package materials

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxStore is the transactional surface for stock mutation. Implementations
// bind to an open transaction; GetForUpdate locks the material row.
type TxStore interface {
	GetForUpdate(ctx context.Context, materialID int64) (RawMaterial, error)
	SetStock(ctx context.Context, materialID int64, quantity float64) error
}

// AdjustStock applies delta to a material's stock inside the caller's
// transaction, enforcing non-negativity.
func AdjustStock(ctx context.Context, store TxStore, materialID int64, delta float64) error {
	material, err := store.GetForUpdate(ctx, materialID)
	if err != nil {
		return err
	}
	next, err := ApplyDelta(material.StockQuantity, delta)
	if err != nil {
		return err
	}
	return store.SetStock(ctx, materialID, next)
}

// Repository reads raw materials from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a material by id.
func (r *Repository) Get(ctx context.Context, id int64) (RawMaterial, error) {
	var m RawMaterial
	err := r.pool.QueryRow(ctx, `SELECT id, name, unit, stock_quantity, min_stock_level, updated_at FROM raw_materials WHERE id=$1`, id).
		Scan(&m.ID, &m.Name, &m.Unit, &m.StockQuantity, &m.MinStockLevel, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RawMaterial{}, ErrNotFound
		}
		return RawMaterial{}, err
	}
	return m, nil
}

// List lists all materials ordered by name.
func (r *Repository) List(ctx context.Context) ([]RawMaterial, error) {
	return r.query(ctx, `SELECT id, name, unit, stock_quantity, min_stock_level, updated_at FROM raw_materials ORDER BY name ASC`)
}

// ListBelowMinimum lists materials whose stock dropped under the reorder
// level. Feeds the low-stock scan job.
func (r *Repository) ListBelowMinimum(ctx context.Context) ([]RawMaterial, error) {
	return r.query(ctx, `SELECT id, name, unit, stock_quantity, min_stock_level, updated_at
FROM raw_materials WHERE stock_quantity < min_stock_level ORDER BY name ASC`)
}

func (r *Repository) query(ctx context.Context, sql string) ([]RawMaterial, error) {
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RawMaterial{}
	for rows.Next() {
		var m RawMaterial
		if err := rows.Scan(&m.ID, &m.Name, &m.Unit, &m.StockQuantity, &m.MinStockLevel, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetForUpdate(ctx context.Context, materialID int64) (RawMaterial, error) {
	var m RawMaterial
	err := s.tx.QueryRow(ctx, `SELECT id, name, unit, stock_quantity, min_stock_level, updated_at
FROM raw_materials WHERE id=$1 FOR UPDATE`, materialID).
		Scan(&m.ID, &m.Name, &m.Unit, &m.StockQuantity, &m.MinStockLevel, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RawMaterial{}, ErrNotFound
		}
		return RawMaterial{}, err
	}
	return m, nil
}

func (s *txStore) SetStock(ctx context.Context, materialID int64, quantity float64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE raw_materials SET stock_quantity=$2, updated_at=NOW() WHERE id=$1`, materialID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
