package sales

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

type stockKey struct {
	productID int64
	location  inventory.Location
}

type memoryShop struct {
	sales    map[int64]Sale
	items    map[int64]SaleItem
	payments map[int64]Payment
	stock    map[stockKey]float64
	nextID   int64
}

func newMemoryShop() *memoryShop {
	return &memoryShop{
		sales:    make(map[int64]Sale),
		items:    make(map[int64]SaleItem),
		payments: make(map[int64]Payment),
		stock:    make(map[stockKey]float64),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memoryShop) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	sales, items, payments, stock := copyMap(s.sales), copyMap(s.items), copyMap(s.payments), copyMap(s.stock)
	if err := fn(ctx, (*shopTx)(s)); err != nil {
		s.sales, s.items, s.payments, s.stock = sales, items, payments, stock
		return err
	}
	return nil
}

func (s *memoryShop) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return sale, nil
}

func (s *memoryShop) ListSales(ctx context.Context, filters ListFilters) ([]Sale, error) {
	out := []Sale{}
	for _, sale := range s.sales {
		out = append(out, sale)
	}
	return out, nil
}

func (s *memoryShop) ListItems(ctx context.Context, saleID int64) ([]SaleItem, error) {
	out := []SaleItem{}
	for _, item := range s.items {
		if item.SaleID == saleID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memoryShop) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	out := []Payment{}
	for _, p := range s.payments {
		if p.SaleID == saleID {
			out = append(out, p)
		}
	}
	return out, nil
}

type shopTx memoryShop

func (tx *shopTx) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	tx.nextID++
	sale.ID = tx.nextID
	tx.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *shopTx) UpdateSale(ctx context.Context, sale Sale) error {
	if _, ok := tx.sales[sale.ID]; !ok {
		return ErrNotFound
	}
	tx.sales[sale.ID] = sale
	return nil
}

func (tx *shopTx) DeleteSale(ctx context.Context, id int64) error {
	if _, ok := tx.sales[id]; !ok {
		return ErrNotFound
	}
	delete(tx.sales, id)
	return nil
}

func (tx *shopTx) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	return (*memoryShop)(tx).GetSale(ctx, id)
}

func (tx *shopTx) InsertItem(ctx context.Context, item SaleItem) (int64, error) {
	tx.nextID++
	item.ID = tx.nextID
	tx.items[item.ID] = item
	return item.ID, nil
}

func (tx *shopTx) ListItemsBySale(ctx context.Context, saleID int64) ([]SaleItem, error) {
	return (*memoryShop)(tx).ListItems(ctx, saleID)
}

func (tx *shopTx) DeleteItemsBySale(ctx context.Context, saleID int64) error {
	for id, item := range tx.items {
		if item.SaleID == saleID {
			delete(tx.items, id)
		}
	}
	return nil
}

func (tx *shopTx) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	tx.nextID++
	p.ID = tx.nextID
	tx.payments[p.ID] = p
	return p.ID, nil
}

func (tx *shopTx) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	p, ok := tx.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (tx *shopTx) MarkPaymentVoided(ctx context.Context, id int64, voidedBy int64, reason string) error {
	p, ok := tx.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Voided = true
	p.VoidedBy = voidedBy
	p.VoidReason = reason
	tx.payments[id] = p
	return nil
}

func (tx *shopTx) SumLivePayments(ctx context.Context, saleID int64) (float64, error) {
	var sum float64
	for _, p := range tx.payments {
		if p.SaleID == saleID && !p.Voided {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (tx *shopTx) Inventory() inventory.TxStore {
	return (*shopStock)(tx)
}

type shopStock memoryShop

func (s *shopStock) GetForUpdate(ctx context.Context, productID int64, loc inventory.Location) (inventory.Balance, error) {
	return inventory.Balance{ProductID: productID, Location: loc, Quantity: s.stock[stockKey{productID, loc}]}, nil
}

func (s *shopStock) Upsert(ctx context.Context, productID int64, loc inventory.Location, quantity float64) error {
	s.stock[stockKey{productID, loc}] = quantity
	return nil
}

var clerk = shared.ActingUser{ID: 4, Role: shared.RoleShopkeeper}

func wholesale(productID int64) stockKey {
	return stockKey{productID, inventory.LocationWholesale}
}

func TestCreateSaleDecrementsWholesaleStock(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	shop.stock[wholesale(2)] = 10
	svc := NewService(shop, nil)

	sale, err := svc.CreateSale(context.Background(), clerk, SaleInput{
		CustomerID: 9,
		Items: []ItemInput{
			{ProductID: 1, Quantity: 5, UnitPrice: 100},
			{ProductID: 2, Quantity: 2, UnitPrice: 250},
		},
		DiscountAmount: 50,
		TaxAmount:      100,
		ShippingCost:   30,
	})
	require.NoError(t, err)
	require.InDelta(t, 1000, sale.TotalAmount, 0.001)
	require.InDelta(t, 1080, sale.NetAmount, 0.001)
	require.Equal(t, StatusUnpaid, sale.PaymentStatus)
	require.InDelta(t, 35, shop.stock[wholesale(1)], 0.001)
	require.InDelta(t, 8, shop.stock[wholesale(2)], 0.001)
}

func TestCreateSaleFailsAtomicallyOnShortage(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	shop.stock[wholesale(2)] = 1
	svc := NewService(shop, nil)

	_, err := svc.CreateSale(context.Background(), clerk, SaleInput{
		CustomerID: 9,
		Items: []ItemInput{
			{ProductID: 1, Quantity: 5, UnitPrice: 100},
			{ProductID: 2, Quantity: 2, UnitPrice: 250},
		},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.InDelta(t, 40, shop.stock[wholesale(1)], 0.001)
	require.InDelta(t, 1, shop.stock[wholesale(2)], 0.001)
	require.Empty(t, shop.sales)
	require.Empty(t, shop.items)
}

func TestUpdateSaleReversesOldLines(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	svc := NewService(shop, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, clerk, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 5, UnitPrice: 100}},
	})
	require.NoError(t, err)
	require.InDelta(t, 35, shop.stock[wholesale(1)], 0.001)

	updated, err := svc.UpdateSale(ctx, clerk, sale.ID, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 3, UnitPrice: 100}},
	})
	require.NoError(t, err)
	require.InDelta(t, 300, updated.NetAmount, 0.001)
	require.InDelta(t, 37, shop.stock[wholesale(1)], 0.001)
}

func TestUpdateAndDeleteRefusedOncePaid(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	svc := NewService(shop, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, clerk, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 5, UnitPrice: 100}},
	})
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, clerk, sale.ID, PaymentInput{Amount: 100, Method: "cash"})
	require.NoError(t, err)

	_, err = svc.UpdateSale(ctx, clerk, sale.ID, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 2, UnitPrice: 100}},
	})
	require.ErrorIs(t, err, ErrSaleHasPayments)
	require.ErrorIs(t, svc.DeleteSale(ctx, clerk, sale.ID), ErrSaleHasPayments)
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	svc := NewService(shop, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, clerk, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 5, UnitPrice: 100}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSale(ctx, clerk, sale.ID))
	require.InDelta(t, 40, shop.stock[wholesale(1)], 0.001)
	require.Empty(t, shop.sales)
	require.Empty(t, shop.items)
}

func TestPaymentLifecycle(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	svc := NewService(shop, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, clerk, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 10, UnitPrice: 100}},
	})
	require.NoError(t, err)
	require.InDelta(t, 1000, sale.NetAmount, 0.001)

	_, err = svc.RecordPayment(ctx, clerk, sale.ID, PaymentInput{Amount: 400, Method: "cash"})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, shop.sales[sale.ID].PaymentStatus)

	second, err := svc.RecordPayment(ctx, clerk, sale.ID, PaymentInput{Amount: 600, Method: "transfer"})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, shop.sales[sale.ID].PaymentStatus)

	// Overpaying fails once the sale is settled.
	_, err = svc.RecordPayment(ctx, clerk, sale.ID, PaymentInput{Amount: 1, Method: "cash"})
	require.ErrorIs(t, err, ErrOverPayment)

	// Voiding the 600 drops the sale back to partial with 600 due.
	require.NoError(t, svc.VoidPayment(ctx, clerk, second.ID, "bank bounced the transfer"))
	require.Equal(t, StatusPartial, shop.sales[sale.ID].PaymentStatus)

	// Voiding twice is refused.
	require.ErrorIs(t, svc.VoidPayment(ctx, clerk, second.ID, "again"), ErrPaymentVoided)

	// Re-adding an identical payment restores the original status.
	_, err = svc.RecordPayment(ctx, clerk, sale.ID, PaymentInput{Amount: 600, Method: "transfer"})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, shop.sales[sale.ID].PaymentStatus)
}

func TestVoidRequiresReason(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	svc := NewService(shop, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, clerk, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)
	payment, err := svc.RecordPayment(ctx, clerk, sale.ID, PaymentInput{Amount: 100, Method: "cash"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.VoidPayment(ctx, clerk, payment.ID, ""), ErrValidation)
	require.False(t, shop.payments[payment.ID].Voided)
}

func TestOverPaymentRejectedUpfront(t *testing.T) {
	shop := newMemoryShop()
	shop.stock[wholesale(1)] = 40
	svc := NewService(shop, nil)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, clerk, SaleInput{
		CustomerID: 9,
		Items:      []ItemInput{{ProductID: 1, Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, clerk, sale.ID, PaymentInput{Amount: 150, Method: "cash"})
	require.ErrorIs(t, err, ErrOverPayment)
	require.Empty(t, shop.payments)
	require.Equal(t, StatusUnpaid, shop.sales[sale.ID].PaymentStatus)
}
