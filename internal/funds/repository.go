package funds

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchline/stitchline-erp/internal/shared"
)

// Repository persists funds and usages in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn against a TxStore bound to a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("funds repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, NewTxStore(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return shared.TranslatePgError(tx.Commit(ctx))
}

// CreateFund inserts a fund row with balance equal to the original amount.
func (r *Repository) CreateFund(ctx context.Context, fund Fund) (Fund, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO funds (fund_type, original_amount, balance, status, from_user_id, to_user_id, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		string(fund.Type), fund.OriginalAmount, fund.Balance, string(fund.Status), fund.FromUserID, fund.ToUserID, fund.Notes).
		Scan(&fund.ID, &fund.CreatedAt, &fund.UpdatedAt)
	if err != nil {
		return Fund{}, err
	}
	return fund, nil
}

// GetFund fetches a fund by id.
func (r *Repository) GetFund(ctx context.Context, id int64) (Fund, error) {
	var f Fund
	err := r.pool.QueryRow(ctx, `SELECT id, fund_type, original_amount, balance, status, from_user_id, to_user_id, notes, created_at, updated_at
FROM funds WHERE id=$1`, id).
		Scan(&f.ID, &f.Type, &f.OriginalAmount, &f.Balance, &f.Status, &f.FromUserID, &f.ToUserID, &f.Notes, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fund{}, ErrNotFound
		}
		return Fund{}, err
	}
	return f, nil
}

// ListFilters narrows fund listings.
type ListFilters struct {
	Status FundStatus
	ToUser int64
	Limit  int
}

// ListFunds lists funds, newest first.
func (r *Repository) ListFunds(ctx context.Context, filters ListFilters) ([]Fund, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, fund_type, original_amount, balance, status, from_user_id, to_user_id, notes, created_at, updated_at
FROM funds
WHERE ($1='' OR status=$1) AND ($2=0 OR to_user_id=$2)
ORDER BY id DESC LIMIT $3`, string(filters.Status), filters.ToUser, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Fund{}
	for rows.Next() {
		var f Fund
		if err := rows.Scan(&f.ID, &f.Type, &f.OriginalAmount, &f.Balance, &f.Status, &f.FromUserID, &f.ToUserID, &f.Notes, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListUsages lists usages recorded against a fund, newest first.
func (r *Repository) ListUsages(ctx context.Context, fundID int64) ([]FundUsage, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, fund_id, amount, purpose, reference_id, used_by, used_at, notes
FROM fund_usages WHERE fund_id=$1 ORDER BY id DESC`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []FundUsage{}
	for rows.Next() {
		var u FundUsage
		var ref *int64
		if err := rows.Scan(&u.ID, &u.FundID, &u.Amount, &u.Purpose, &ref, &u.UsedBy, &u.UsedAt, &u.Notes); err != nil {
			return nil, err
		}
		if ref != nil {
			u.ReferenceID = *ref
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// NewTxStore binds a TxStore to an open transaction. Other modules call this
// to mutate fund balances inside their own transaction boundary.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetFundForUpdate(ctx context.Context, fundID int64) (Fund, error) {
	var f Fund
	err := s.tx.QueryRow(ctx, `SELECT id, fund_type, original_amount, balance, status, from_user_id, to_user_id, notes, created_at, updated_at
FROM funds WHERE id=$1 FOR UPDATE`, fundID).
		Scan(&f.ID, &f.Type, &f.OriginalAmount, &f.Balance, &f.Status, &f.FromUserID, &f.ToUserID, &f.Notes, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fund{}, ErrNotFound
		}
		return Fund{}, err
	}
	return f, nil
}

func (s *txStore) SetFundBalance(ctx context.Context, fundID int64, balance float64, status FundStatus) error {
	tag, err := s.tx.Exec(ctx, `UPDATE funds SET balance=$2, status=$3, updated_at=NOW() WHERE id=$1`, fundID, balance, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *txStore) InsertUsage(ctx context.Context, usage FundUsage) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO fund_usages (fund_id, amount, purpose, reference_id, used_by, used_at, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		usage.FundID, usage.Amount, string(usage.Purpose), nullID(usage.ReferenceID), usage.UsedBy, usage.UsedAt, usage.Notes).Scan(&id)
	return id, err
}

func (s *txStore) GetUsage(ctx context.Context, usageID int64) (FundUsage, error) {
	var u FundUsage
	var ref *int64
	err := s.tx.QueryRow(ctx, `SELECT id, fund_id, amount, purpose, reference_id, used_by, used_at, notes
FROM fund_usages WHERE id=$1`, usageID).
		Scan(&u.ID, &u.FundID, &u.Amount, &u.Purpose, &ref, &u.UsedBy, &u.UsedAt, &u.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FundUsage{}, ErrUsageNotFound
		}
		return FundUsage{}, err
	}
	if ref != nil {
		u.ReferenceID = *ref
	}
	return u, nil
}

func (s *txStore) SetUsageAmount(ctx context.Context, usageID int64, amount float64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE fund_usages SET amount=$2 WHERE id=$1`, usageID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUsageNotFound
	}
	return nil
}

func (s *txStore) DeleteUsage(ctx context.Context, usageID int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM fund_usages WHERE id=$1`, usageID)
	return err
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
