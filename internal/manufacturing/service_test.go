package manufacturing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline-erp/internal/funds"
	"github.com/stitchline/stitchline-erp/internal/inventory"
	"github.com/stitchline/stitchline-erp/internal/materials"
	"github.com/stitchline/stitchline-erp/internal/shared"
)

type invKey struct {
	productID int64
	location  inventory.Location
}

// memoryPlant backs all manufacturing ports with maps; WithTx restores
// every map on failure so atomicity assertions are meaningful.
type memoryPlant struct {
	batches     map[int64]Batch
	usages      map[int64]MaterialUsage
	costs       map[int64]Cost
	corrections map[int64]QuantityCorrection
	funds       map[int64]funds.Fund
	fundUsages  map[int64]funds.FundUsage
	stock       map[int64]materials.RawMaterial
	balances    map[invKey]float64
	openXfers   map[int64]int64
	nextID      int64
}

func newMemoryPlant() *memoryPlant {
	return &memoryPlant{
		batches:     make(map[int64]Batch),
		usages:      make(map[int64]MaterialUsage),
		costs:       make(map[int64]Cost),
		corrections: make(map[int64]QuantityCorrection),
		funds:       make(map[int64]funds.Fund),
		fundUsages:  make(map[int64]funds.FundUsage),
		stock:       make(map[int64]materials.RawMaterial),
		balances:    make(map[invKey]float64),
		openXfers:   make(map[int64]int64),
	}
}

func snapshot[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (p *memoryPlant) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	batches, usages, costs := snapshot(p.batches), snapshot(p.usages), snapshot(p.costs)
	corrections, fundRows, fundUsages := snapshot(p.corrections), snapshot(p.funds), snapshot(p.fundUsages)
	stock, balances := snapshot(p.stock), snapshot(p.balances)
	if err := fn(ctx, (*plantTx)(p)); err != nil {
		p.batches, p.usages, p.costs = batches, usages, costs
		p.corrections, p.funds, p.fundUsages = corrections, fundRows, fundUsages
		p.stock, p.balances = stock, balances
		return err
	}
	return nil
}

func (p *memoryPlant) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, ok := p.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return b, nil
}

func (p *memoryPlant) ListBatches(ctx context.Context, filters ListFilters) ([]Batch, error) {
	out := []Batch{}
	for _, b := range p.batches {
		out = append(out, b)
	}
	return out, nil
}

func (p *memoryPlant) ListUsages(ctx context.Context, batchID int64) ([]MaterialUsage, error) {
	out := []MaterialUsage{}
	for _, u := range p.usages {
		if u.BatchID == batchID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (p *memoryPlant) ListCosts(ctx context.Context, batchID int64) ([]Cost, error) {
	out := []Cost{}
	for _, c := range p.costs {
		if c.BatchID == batchID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *memoryPlant) ListCorrections(ctx context.Context, batchID int64) ([]QuantityCorrection, error) {
	out := []QuantityCorrection{}
	for _, c := range p.corrections {
		if c.BatchID == batchID {
			out = append(out, c)
		}
	}
	return out, nil
}

type plantTx memoryPlant

func (tx *plantTx) nextSerial() int64 {
	tx.nextID++
	return tx.nextID
}

func (tx *plantTx) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	b.ID = tx.nextSerial()
	tx.batches[b.ID] = b
	return b.ID, nil
}

func (tx *plantTx) UpdateBatch(ctx context.Context, b Batch) error {
	if _, ok := tx.batches[b.ID]; !ok {
		return ErrNotFound
	}
	tx.batches[b.ID] = b
	return nil
}

func (tx *plantTx) DeleteBatch(ctx context.Context, id int64) error {
	if _, ok := tx.batches[id]; !ok {
		return ErrNotFound
	}
	delete(tx.batches, id)
	return nil
}

func (tx *plantTx) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	return (*memoryPlant)(tx).GetBatch(ctx, id)
}

func (tx *plantTx) InsertUsage(ctx context.Context, u MaterialUsage) (int64, error) {
	u.ID = tx.nextSerial()
	tx.usages[u.ID] = u
	return u.ID, nil
}

func (tx *plantTx) ListUsagesByBatch(ctx context.Context, batchID int64) ([]MaterialUsage, error) {
	return (*memoryPlant)(tx).ListUsages(ctx, batchID)
}

func (tx *plantTx) DeleteUsagesByBatch(ctx context.Context, batchID int64) error {
	for id, u := range tx.usages {
		if u.BatchID == batchID {
			delete(tx.usages, id)
		}
	}
	return nil
}

func (tx *plantTx) InsertCost(ctx context.Context, c Cost) (int64, error) {
	c.ID = tx.nextSerial()
	tx.costs[c.ID] = c
	return c.ID, nil
}

func (tx *plantTx) UpdateCost(ctx context.Context, c Cost) error {
	if _, ok := tx.costs[c.ID]; !ok {
		return ErrNotFound
	}
	tx.costs[c.ID] = c
	return nil
}

func (tx *plantTx) ListCostsByBatch(ctx context.Context, batchID int64) ([]Cost, error) {
	return (*memoryPlant)(tx).ListCosts(ctx, batchID)
}

func (tx *plantTx) DeleteCostsByBatch(ctx context.Context, batchID int64) error {
	for id, c := range tx.costs {
		if c.BatchID == batchID {
			delete(tx.costs, id)
		}
	}
	return nil
}

func (tx *plantTx) InsertCorrection(ctx context.Context, c QuantityCorrection) (int64, error) {
	c.ID = tx.nextSerial()
	tx.corrections[c.ID] = c
	return c.ID, nil
}

func (tx *plantTx) OpenTransfersForProduct(ctx context.Context, productID int64) (int64, error) {
	return tx.openXfers[productID], nil
}

func (tx *plantTx) Funds() funds.TxStore {
	return (*plantFundStore)(tx)
}

func (tx *plantTx) Materials() materials.TxStore {
	return (*plantMaterialStore)(tx)
}

func (tx *plantTx) Inventory() inventory.TxStore {
	return (*plantInventoryStore)(tx)
}

type plantFundStore memoryPlant

func (s *plantFundStore) GetFundForUpdate(ctx context.Context, fundID int64) (funds.Fund, error) {
	f, ok := s.funds[fundID]
	if !ok {
		return funds.Fund{}, funds.ErrNotFound
	}
	return f, nil
}

func (s *plantFundStore) SetFundBalance(ctx context.Context, fundID int64, balance float64, status funds.FundStatus) error {
	f := s.funds[fundID]
	f.Balance = balance
	f.Status = status
	s.funds[fundID] = f
	return nil
}

func (s *plantFundStore) InsertUsage(ctx context.Context, usage funds.FundUsage) (int64, error) {
	s.nextID++
	usage.ID = s.nextID
	s.fundUsages[usage.ID] = usage
	return usage.ID, nil
}

func (s *plantFundStore) GetUsage(ctx context.Context, usageID int64) (funds.FundUsage, error) {
	u, ok := s.fundUsages[usageID]
	if !ok {
		return funds.FundUsage{}, funds.ErrUsageNotFound
	}
	return u, nil
}

func (s *plantFundStore) SetUsageAmount(ctx context.Context, usageID int64, amount float64) error {
	u := s.fundUsages[usageID]
	u.Amount = amount
	s.fundUsages[usageID] = u
	return nil
}

func (s *plantFundStore) DeleteUsage(ctx context.Context, usageID int64) error {
	delete(s.fundUsages, usageID)
	return nil
}

type plantMaterialStore memoryPlant

func (s *plantMaterialStore) GetForUpdate(ctx context.Context, materialID int64) (materials.RawMaterial, error) {
	m, ok := s.stock[materialID]
	if !ok {
		return materials.RawMaterial{}, materials.ErrNotFound
	}
	return m, nil
}

func (s *plantMaterialStore) SetStock(ctx context.Context, materialID int64, quantity float64) error {
	m := s.stock[materialID]
	m.StockQuantity = quantity
	s.stock[materialID] = m
	return nil
}

type plantInventoryStore memoryPlant

func (s *plantInventoryStore) GetForUpdate(ctx context.Context, productID int64, loc inventory.Location) (inventory.Balance, error) {
	return inventory.Balance{ProductID: productID, Location: loc, Quantity: s.balances[invKey{productID, loc}]}, nil
}

func (s *plantInventoryStore) Upsert(ctx context.Context, productID int64, loc inventory.Location, quantity float64) error {
	s.balances[invKey{productID, loc}] = quantity
	return nil
}

var (
	worker  = shared.ActingUser{ID: 3, Role: shared.RoleWorker}
	foreman = shared.ActingUser{ID: 1, Role: shared.RoleOwner}
)

func TestAdvanceStatusOneStepAtATime(t *testing.T) {
	plant := newMemoryPlant()
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, worker, BatchInput{ProductID: 1, QuantityProduced: 100})
	require.NoError(t, err)
	require.Equal(t, StatusPending, batch.Status)

	_, err = svc.AdvanceStatus(ctx, worker, batch.ID, StatusStitching)
	require.ErrorIs(t, err, ErrIllegalTransition)

	batch, err = svc.AdvanceStatus(ctx, worker, batch.ID, StatusCutting)
	require.NoError(t, err)
	require.Equal(t, StatusCutting, batch.Status)
	require.Equal(t, worker.ID, batch.StatusChangedBy)
}

func TestOwnerMayJumpForwardButNeverBack(t *testing.T) {
	plant := newMemoryPlant()
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, foreman, BatchInput{ProductID: 1, QuantityProduced: 40})
	require.NoError(t, err)

	batch, err = svc.AdvanceStatus(ctx, foreman, batch.ID, StatusPackaging)
	require.NoError(t, err)
	require.Equal(t, StatusPackaging, batch.Status)

	_, err = svc.AdvanceStatus(ctx, foreman, batch.ID, StatusCutting)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCompletionCreditsManufacturingInventory(t *testing.T) {
	plant := newMemoryPlant()
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, foreman, BatchInput{ProductID: 9, QuantityProduced: 75})
	require.NoError(t, err)

	batch, err = svc.AdvanceStatus(ctx, foreman, batch.ID, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, batch.Status)
	require.False(t, batch.CompletionDate.IsZero())
	require.InDelta(t, 75, plant.balances[invKey{9, inventory.LocationManufacturing}], 0.001)

	// Terminal: no further moves.
	_, err = svc.AdvanceStatus(ctx, foreman, batch.ID, StatusPackaging)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRecordMaterialUsageDecrementsStock(t *testing.T) {
	plant := newMemoryPlant()
	plant.stock[1] = materials.RawMaterial{ID: 1, Name: "denim", Unit: "m", StockQuantity: 30}
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, worker, BatchInput{ProductID: 1, QuantityProduced: 10})
	require.NoError(t, err)

	_, err = svc.RecordMaterialUsage(ctx, worker, batch.ID, UsageInput{MaterialID: 1, QuantityUsed: 12})
	require.NoError(t, err)
	require.InDelta(t, 18, plant.stock[1].StockQuantity, 0.001)

	_, err = svc.RecordMaterialUsage(ctx, worker, batch.ID, UsageInput{MaterialID: 1, QuantityUsed: 25})
	require.ErrorIs(t, err, materials.ErrInsufficientStock)
	require.InDelta(t, 18, plant.stock[1].StockQuantity, 0.001)
}

func TestRecordCostDrawsFund(t *testing.T) {
	plant := newMemoryPlant()
	plant.funds[5] = funds.Fund{ID: 5, Type: funds.FundTypeInvestment, OriginalAmount: 300, Balance: 300, Status: funds.FundStatusActive}
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, foreman, BatchInput{ProductID: 1, QuantityProduced: 10})
	require.NoError(t, err)

	cost, err := svc.RecordCost(ctx, foreman, batch.ID, CostInput{CostType: "labour", Amount: 120, FundID: 5})
	require.NoError(t, err)
	require.NotZero(t, cost.UsageID)
	require.InDelta(t, 180, plant.funds[5].Balance, 0.001)

	_, err = svc.RecordCost(ctx, foreman, batch.ID, CostInput{CostType: "dye", Amount: 500, FundID: 5})
	require.ErrorIs(t, err, funds.ErrInsufficientBalance)
	require.InDelta(t, 180, plant.funds[5].Balance, 0.001)
	require.Len(t, plant.costs, 1)
}

func TestCorrectQuantityRequiresCompletionAndReason(t *testing.T) {
	plant := newMemoryPlant()
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, foreman, BatchInput{ProductID: 1, QuantityProduced: 50})
	require.NoError(t, err)

	_, err = svc.CorrectQuantity(ctx, foreman, batch.ID, 48, "recount after packing")
	require.ErrorIs(t, err, ErrBatchNotCompleted)

	_, err = svc.AdvanceStatus(ctx, foreman, batch.ID, StatusCompleted)
	require.NoError(t, err)

	_, err = svc.CorrectQuantity(ctx, foreman, batch.ID, 48, "")
	require.ErrorIs(t, err, ErrValidation)

	corrected, err := svc.CorrectQuantity(ctx, foreman, batch.ID, 48, "recount after packing")
	require.NoError(t, err)
	require.InDelta(t, 48, corrected.QuantityProduced, 0.001)
	require.Len(t, plant.corrections, 1)
	// Corrections never touch stock.
	require.InDelta(t, 50, plant.balances[invKey{1, inventory.LocationManufacturing}], 0.001)
}

func TestDeleteBatchRestoresEverything(t *testing.T) {
	plant := newMemoryPlant()
	plant.stock[1] = materials.RawMaterial{ID: 1, StockQuantity: 100}
	plant.funds[5] = funds.Fund{ID: 5, Type: funds.FundTypeInvestment, OriginalAmount: 300, Balance: 300, Status: funds.FundStatusActive}
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, foreman, BatchInput{ProductID: 2, QuantityProduced: 20})
	require.NoError(t, err)
	_, err = svc.RecordMaterialUsage(ctx, foreman, batch.ID, UsageInput{MaterialID: 1, QuantityUsed: 35})
	require.NoError(t, err)
	_, err = svc.RecordCost(ctx, foreman, batch.ID, CostInput{CostType: "labour", Amount: 90, FundID: 5})
	require.NoError(t, err)
	_, err = svc.AdvanceStatus(ctx, foreman, batch.ID, StatusCompleted)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBatch(ctx, foreman, batch.ID))

	require.InDelta(t, 100, plant.stock[1].StockQuantity, 0.001)
	require.InDelta(t, 300, plant.funds[5].Balance, 0.001)
	require.Zero(t, plant.balances[invKey{2, inventory.LocationManufacturing}])
	require.Empty(t, plant.usages)
	require.Empty(t, plant.costs)
	require.Empty(t, plant.batches)
}

func TestDeleteBatchRefusedWhileTransfersOpen(t *testing.T) {
	plant := newMemoryPlant()
	plant.openXfers[2] = 1
	svc := NewService(plant, funds.NewLedger(), nil)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, foreman, BatchInput{ProductID: 2, QuantityProduced: 20})
	require.NoError(t, err)
	_, err = svc.AdvanceStatus(ctx, foreman, batch.ID, StatusCompleted)
	require.NoError(t, err)

	err = svc.DeleteBatch(ctx, foreman, batch.ID)
	require.ErrorIs(t, err, ErrBatchReferenced)
	require.Len(t, plant.batches, 1)
	require.InDelta(t, 20, plant.balances[invKey{2, inventory.LocationManufacturing}], 0.001)
}
