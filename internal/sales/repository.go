package sales

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// Repository persists sales in PostgreSQL.
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

const saleColumns = `id, sale_number, customer_id, total_amount, discount_amount, tax_amount, shipping_cost, net_amount, payment_status, sold_by, sale_date, notes, created_at, updated_at`

// GetSale fetches a sale by id.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id)
	return scanSale(row)
}

// ListFilters narrows sale listings.
type ListFilters struct {
	CustomerID    int64
	PaymentStatus PaymentStatus
	From          time.Time
	To            time.Time
	Limit         int
}

// ListSales lists sales, newest first.
func (r *Repository) ListSales(ctx context.Context, filters ListFilters) ([]Sale, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales
WHERE ($1=0 OR customer_id=$1)
  AND ($2='' OR payment_status=$2)
  AND sale_date BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY id DESC LIMIT $5`, filters.CustomerID, string(filters.PaymentStatus), nullTime(filters.From), nullTime(filters.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListItems lists a sale's lines.
func (r *Repository) ListItems(ctx context.Context, saleID int64) ([]SaleItem, error) {
	return queryItems(ctx, r.pool, saleID)
}

// ListPayments lists a sale's payments, voided ones included.
func (r *Repository) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, amount, method, reference_number, payment_date, recorded_by, voided, void_reason, voided_by, created_at
FROM sale_payments WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, saleID int64) ([]SaleItem, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price, subtotal
FROM sale_items WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SaleItem{}
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Inventory() inventory.TxStore {
	return inventory.NewTxStore(r.tx)
}

func (r *txRepository) InsertSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (sale_number, customer_id, total_amount, discount_amount, tax_amount, shipping_cost, net_amount, payment_status, sold_by, sale_date, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW()) RETURNING id`,
		s.SaleNumber, s.CustomerID, s.TotalAmount, s.DiscountAmount, s.TaxAmount, s.ShippingCost, s.NetAmount, string(s.PaymentStatus), s.SoldBy, s.SaleDate, s.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateSale(ctx context.Context, s Sale) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET customer_id=$2, total_amount=$3, discount_amount=$4, tax_amount=$5, shipping_cost=$6, net_amount=$7, payment_status=$8, sale_date=$9, notes=$10, updated_at=NOW()
WHERE id=$1`, s.ID, s.CustomerID, s.TotalAmount, s.DiscountAmount, s.TaxAmount, s.ShippingCost, s.NetAmount, string(s.PaymentStatus), s.SaleDate, s.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeleteSale(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id)
	return scanSale(row)
}

func (r *txRepository) InsertItem(ctx context.Context, item SaleItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, subtotal)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		item.SaleID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal).Scan(&id)
	return id, err
}

func (r *txRepository) ListItemsBySale(ctx context.Context, saleID int64) ([]SaleItem, error) {
	return queryItems(ctx, r.tx, saleID)
}

func (r *txRepository) DeleteItemsBySale(ctx context.Context, saleID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM sale_items WHERE sale_id=$1`, saleID)
	return err
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_payments (sale_id, amount, method, reference_number, payment_date, recorded_by, voided, created_at)
VALUES ($1,$2,$3,$4,$5,$6,FALSE,NOW()) RETURNING id`,
		p.SaleID, p.Amount, p.Method, p.ReferenceNumber, p.PaymentDate, p.RecordedBy).Scan(&id)
	return id, err
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, sale_id, amount, method, reference_number, payment_date, recorded_by, voided, void_reason, voided_by, created_at
FROM sale_payments WHERE id=$1 FOR UPDATE`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) MarkPaymentVoided(ctx context.Context, id int64, voidedBy int64, reason string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sale_payments SET voided=TRUE, void_reason=$2, voided_by=$3 WHERE id=$1`, id, reason, voidedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *txRepository) SumLivePayments(ctx context.Context, saleID int64) (float64, error) {
	var sum float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM sale_payments WHERE sale_id=$1 AND NOT voided`, saleID).Scan(&sum)
	return sum, err
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var status string
	err := row.Scan(&s.ID, &s.SaleNumber, &s.CustomerID, &s.TotalAmount, &s.DiscountAmount, &s.TaxAmount, &s.ShippingCost,
		&s.NetAmount, &status, &s.SoldBy, &s.SaleDate, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, err
	}
	s.PaymentStatus = PaymentStatus(status)
	return s, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var voidReason *string
	var voidedBy *int64
	err := row.Scan(&p.ID, &p.SaleID, &p.Amount, &p.Method, &p.ReferenceNumber, &p.PaymentDate, &p.RecordedBy, &p.Voided, &voidReason, &voidedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	if voidReason != nil {
		p.VoidReason = *voidReason
	}
	if voidedBy != nil {
		p.VoidedBy = *voidedBy
	}
	return p, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
