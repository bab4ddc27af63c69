package procurement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

// memoryWorld backs the procurement, fund and material ports with maps and
// rolls every map back when a transaction callback fails.
type memoryWorld struct {
	purchases   map[int64]Purchase
	funds       map[int64]funds.Fund
	usages      map[int64]funds.FundUsage
	stock       map[int64]materials.RawMaterial
	nextID      int64
	nextUsageID int64
}

func newMemoryWorld() *memoryWorld {
	return &memoryWorld{
		purchases: make(map[int64]Purchase),
		funds:     make(map[int64]funds.Fund),
		usages:    make(map[int64]funds.FundUsage),
		stock:     make(map[int64]materials.RawMaterial),
	}
}

func (w *memoryWorld) seedFund(id int64, balance float64) {
	w.funds[id] = funds.Fund{ID: id, Type: funds.FundTypeInvestment, OriginalAmount: balance, Balance: balance, Status: funds.FundStatusActive}
}

func (w *memoryWorld) seedMaterial(id int64, qty float64) {
	w.stock[id] = materials.RawMaterial{ID: id, Name: "fabric", Unit: "m", StockQuantity: qty}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (w *memoryWorld) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	purchases, fundRows, usages, stock := cloneMap(w.purchases), cloneMap(w.funds), cloneMap(w.usages), cloneMap(w.stock)
	if err := fn(ctx, &memoryTx{world: w}); err != nil {
		w.purchases, w.funds, w.usages, w.stock = purchases, fundRows, usages, stock
		return err
	}
	return nil
}

func (w *memoryWorld) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	p, ok := w.purchases[id]
	if !ok {
		return Purchase{}, ErrNotFound
	}
	return p, nil
}

func (w *memoryWorld) ListPurchases(ctx context.Context, filters ListFilters) ([]Purchase, error) {
	out := []Purchase{}
	for _, p := range w.purchases {
		out = append(out, p)
	}
	return out, nil
}

type memoryTx struct {
	world *memoryWorld
}

func (tx *memoryTx) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	tx.world.nextID++
	p.ID = tx.world.nextID
	tx.world.purchases[p.ID] = p
	return p.ID, nil
}

func (tx *memoryTx) UpdatePurchase(ctx context.Context, p Purchase) error {
	if _, ok := tx.world.purchases[p.ID]; !ok {
		return ErrNotFound
	}
	tx.world.purchases[p.ID] = p
	return nil
}

func (tx *memoryTx) DeletePurchase(ctx context.Context, id int64) error {
	if _, ok := tx.world.purchases[id]; !ok {
		return ErrNotFound
	}
	delete(tx.world.purchases, id)
	return nil
}

func (tx *memoryTx) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	return tx.world.GetPurchase(ctx, id)
}

func (tx *memoryTx) Funds() funds.TxStore {
	return &memoryFundStore{world: tx.world}
}

func (tx *memoryTx) Materials() materials.TxStore {
	return &memoryMaterialStore{world: tx.world}
}

type memoryFundStore struct {
	world *memoryWorld
}

func (s *memoryFundStore) GetFundForUpdate(ctx context.Context, fundID int64) (funds.Fund, error) {
	f, ok := s.world.funds[fundID]
	if !ok {
		return funds.Fund{}, funds.ErrNotFound
	}
	return f, nil
}

func (s *memoryFundStore) SetFundBalance(ctx context.Context, fundID int64, balance float64, status funds.FundStatus) error {
	f, ok := s.world.funds[fundID]
	if !ok {
		return funds.ErrNotFound
	}
	f.Balance = balance
	f.Status = status
	s.world.funds[fundID] = f
	return nil
}

func (s *memoryFundStore) InsertUsage(ctx context.Context, usage funds.FundUsage) (int64, error) {
	s.world.nextUsageID++
	usage.ID = s.world.nextUsageID
	s.world.usages[usage.ID] = usage
	return usage.ID, nil
}

func (s *memoryFundStore) GetUsage(ctx context.Context, usageID int64) (funds.FundUsage, error) {
	u, ok := s.world.usages[usageID]
	if !ok {
		return funds.FundUsage{}, funds.ErrUsageNotFound
	}
	return u, nil
}

func (s *memoryFundStore) SetUsageAmount(ctx context.Context, usageID int64, amount float64) error {
	u, ok := s.world.usages[usageID]
	if !ok {
		return funds.ErrUsageNotFound
	}
	u.Amount = amount
	s.world.usages[usageID] = u
	return nil
}

func (s *memoryFundStore) DeleteUsage(ctx context.Context, usageID int64) error {
	delete(s.world.usages, usageID)
	return nil
}

type memoryMaterialStore struct {
	world *memoryWorld
}

func (s *memoryMaterialStore) GetForUpdate(ctx context.Context, materialID int64) (materials.RawMaterial, error) {
	m, ok := s.world.stock[materialID]
	if !ok {
		return materials.RawMaterial{}, materials.ErrNotFound
	}
	return m, nil
}

func (s *memoryMaterialStore) SetStock(ctx context.Context, materialID int64, quantity float64) error {
	m, ok := s.world.stock[materialID]
	if !ok {
		return materials.ErrNotFound
	}
	m.StockQuantity = quantity
	s.world.stock[materialID] = m
	return nil
}

var buyer = shared.ActingUser{ID: 1, Role: shared.RoleManager}

func TestCreateEditDeleteRoundTrip(t *testing.T) {
	world := newMemoryWorld()
	world.seedFund(1, 1000)
	world.seedMaterial(1, 0)
	svc := NewService(world, funds.NewLedger(), nil)
	ctx := context.Background()

	p, err := svc.CreatePurchase(ctx, buyer, PurchaseInput{MaterialID: 1, Quantity: 10, UnitPrice: 50, TotalAmount: 500, FundID: 1})
	require.NoError(t, err)
	require.InDelta(t, 500, world.funds[1].Balance, 0.001)
	require.InDelta(t, 10, world.stock[1].StockQuantity, 0.001)

	// Edit down to qty 8: fund gets 100 back, stock drops by 2.
	_, err = svc.UpdatePurchase(ctx, buyer, p.ID, PurchaseInput{MaterialID: 1, Quantity: 8, UnitPrice: 50, TotalAmount: 400, FundID: 1})
	require.NoError(t, err)
	require.InDelta(t, 600, world.funds[1].Balance, 0.001)
	require.InDelta(t, 8, world.stock[1].StockQuantity, 0.001)

	// Delete restores both to the pre-purchase baseline.
	require.NoError(t, svc.DeletePurchase(ctx, buyer, p.ID))
	require.InDelta(t, 1000, world.funds[1].Balance, 0.001)
	require.InDelta(t, 0, world.stock[1].StockQuantity, 0.001)
	require.Empty(t, world.usages)
}

func TestEditToIdenticalValuesIsNoop(t *testing.T) {
	world := newMemoryWorld()
	world.seedFund(1, 1000)
	world.seedMaterial(1, 5)
	svc := NewService(world, funds.NewLedger(), nil)
	ctx := context.Background()

	p, err := svc.CreatePurchase(ctx, buyer, PurchaseInput{MaterialID: 1, Quantity: 10, UnitPrice: 50, TotalAmount: 500, FundID: 1})
	require.NoError(t, err)

	balance := world.funds[1].Balance
	stock := world.stock[1].StockQuantity
	_, err = svc.UpdatePurchase(ctx, buyer, p.ID, PurchaseInput{MaterialID: 1, Quantity: 10, UnitPrice: 50, TotalAmount: 500, FundID: 1})
	require.NoError(t, err)
	require.InDelta(t, balance, world.funds[1].Balance, 0.001)
	require.InDelta(t, stock, world.stock[1].StockQuantity, 0.001)
}

func TestCreateFailsAtomicallyOnInsufficientFund(t *testing.T) {
	world := newMemoryWorld()
	world.seedFund(1, 100)
	world.seedMaterial(1, 3)
	svc := NewService(world, funds.NewLedger(), nil)

	_, err := svc.CreatePurchase(context.Background(), buyer, PurchaseInput{MaterialID: 1, Quantity: 10, UnitPrice: 50, TotalAmount: 500, FundID: 1})
	require.ErrorIs(t, err, funds.ErrInsufficientBalance)
	require.InDelta(t, 100, world.funds[1].Balance, 0.001)
	require.InDelta(t, 3, world.stock[1].StockQuantity, 0.001)
	require.Empty(t, world.purchases)
}

func TestTotalMismatchRejectedBeforeTx(t *testing.T) {
	world := newMemoryWorld()
	world.seedFund(1, 1000)
	world.seedMaterial(1, 0)
	svc := NewService(world, funds.NewLedger(), nil)

	_, err := svc.CreatePurchase(context.Background(), buyer, PurchaseInput{MaterialID: 1, Quantity: 10, UnitPrice: 50, TotalAmount: 499})
	require.ErrorIs(t, err, ErrTotalMismatch)
	require.Empty(t, world.purchases)
}

func TestEditSwapsMaterial(t *testing.T) {
	world := newMemoryWorld()
	world.seedMaterial(1, 0)
	world.seedMaterial(2, 0)
	svc := NewService(world, funds.NewLedger(), nil)
	ctx := context.Background()

	p, err := svc.CreatePurchase(ctx, buyer, PurchaseInput{MaterialID: 1, Quantity: 10, UnitPrice: 10, TotalAmount: 100})
	require.NoError(t, err)
	require.InDelta(t, 10, world.stock[1].StockQuantity, 0.001)

	_, err = svc.UpdatePurchase(ctx, buyer, p.ID, PurchaseInput{MaterialID: 2, Quantity: 6, UnitPrice: 10, TotalAmount: 60})
	require.NoError(t, err)
	require.InDelta(t, 0, world.stock[1].StockQuantity, 0.001)
	require.InDelta(t, 6, world.stock[2].StockQuantity, 0.001)
}

func TestEditSwapsFund(t *testing.T) {
	world := newMemoryWorld()
	world.seedFund(1, 500)
	world.seedFund(2, 500)
	world.seedMaterial(1, 0)
	svc := NewService(world, funds.NewLedger(), nil)
	ctx := context.Background()

	p, err := svc.CreatePurchase(ctx, buyer, PurchaseInput{MaterialID: 1, Quantity: 4, UnitPrice: 100, TotalAmount: 400, FundID: 1})
	require.NoError(t, err)
	require.InDelta(t, 100, world.funds[1].Balance, 0.001)

	_, err = svc.UpdatePurchase(ctx, buyer, p.ID, PurchaseInput{MaterialID: 1, Quantity: 4, UnitPrice: 100, TotalAmount: 400, FundID: 2})
	require.NoError(t, err)
	require.InDelta(t, 500, world.funds[1].Balance, 0.001)
	require.InDelta(t, 100, world.funds[2].Balance, 0.001)
	require.Len(t, world.usages, 1)
}

func TestEditFailureLeavesOriginalIntact(t *testing.T) {
	world := newMemoryWorld()
	world.seedFund(1, 500)
	world.seedFund(2, 50) // cannot cover the reapplied total
	world.seedMaterial(1, 0)
	svc := NewService(world, funds.NewLedger(), nil)
	ctx := context.Background()

	p, err := svc.CreatePurchase(ctx, buyer, PurchaseInput{MaterialID: 1, Quantity: 4, UnitPrice: 100, TotalAmount: 400, FundID: 1})
	require.NoError(t, err)

	_, err = svc.UpdatePurchase(ctx, buyer, p.ID, PurchaseInput{MaterialID: 1, Quantity: 4, UnitPrice: 100, TotalAmount: 400, FundID: 2})
	require.ErrorIs(t, err, funds.ErrInsufficientBalance)

	got, err := svc.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.FundID)
	require.InDelta(t, 100, world.funds[1].Balance, 0.001)
	require.InDelta(t, 50, world.funds[2].Balance, 0.001)
	require.InDelta(t, 4, world.stock[1].StockQuantity, 0.001)
}

func TestDeleteFailsWhenStockAlreadyConsumed(t *testing.T) {
	world := newMemoryWorld()
	world.seedMaterial(1, 0)
	svc := NewService(world, funds.NewLedger(), nil)
	ctx := context.Background()

	p, err := svc.CreatePurchase(ctx, buyer, PurchaseInput{MaterialID: 1, Quantity: 10, UnitPrice: 10, TotalAmount: 100})
	require.NoError(t, err)

	// Someone already used most of the bought material.
	m := world.stock[1]
	m.StockQuantity = 4
	world.stock[1] = m

	err = svc.DeletePurchase(ctx, buyer, p.ID)
	require.ErrorIs(t, err, materials.ErrInsufficientStock)

	_, err = svc.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	require.InDelta(t, 4, world.stock[1].StockQuantity, 0.001)
}
