package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gridbot/exchange"
	"github.com/web3guy0/gridbot/storage"
	"github.com/web3guy0/gridbot/types"
)

// reconVenue scripts the venue side of a reconciliation pass
type reconVenue struct {
	fakeVenue
	orders    map[string]types.Order // FetchOrder responses
	openBySym map[string][]types.Order
	cancelled []string
}

func (v *reconVenue) FetchOrder(_ context.Context, orderID, _ string) (types.Order, error) {
	o, ok := v.orders[orderID]
	if !ok {
		return types.Order{}, exchange.NewError(exchange.KindOrderNotFound, -2013, "unknown order", nil)
	}
	return o, nil
}

func (v *reconVenue) FetchOpenOrders(_ context.Context, symbol string) ([]types.Order, error) {
	return v.openBySym[symbol], nil
}

func (v *reconVenue) CancelOrder(_ context.Context, orderID, _ string) (types.Order, error) {
	v.cancelled = append(v.cancelled, orderID)
	return types.Order{ID: orderID, Status: types.OrderStatusCanceled}, nil
}

// capturingHandler records replayed lifecycle events
type capturingHandler struct {
	fills   []types.Order
	cancels []types.Order
}

func (h *capturingHandler) OnOrderFilled(_ context.Context, o types.Order) error {
	h.fills = append(h.fills, o)
	return nil
}

func (h *capturingHandler) OnOrderCancelled(_ context.Context, o types.Order) error {
	h.cancels = append(h.cancels, o)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "recon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func openOrder(id string, side types.Side, price, amount string) types.Order {
	return types.Order{
		ID:            id,
		ClientOrderID: NewClientOrderID(),
		Symbol:        "BTC/USDT",
		Side:          side,
		Type:          types.OrderTypeLimit,
		Status:        types.OrderStatusOpen,
		Price:         d(price),
		Amount:        d(amount),
		Remaining:     d(amount),
		Timestamp:     time.Now(),
	}
}

func TestReconcileReplaysMissedFill(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	local := openOrder("ord-1", types.SideBuy, "100", "1")
	require.NoError(t, store.UpsertOrder(ctx, Record("fake", local)))

	venueSide := local
	venueSide.Status = types.OrderStatusClosed
	venueSide.Filled = venueSide.Amount
	venueSide.Remaining = decimal.Zero

	venue := &reconVenue{orders: map[string]types.Order{"ord-1": venueSide}}
	handler := &capturingHandler{}
	r := NewReconciler(venue, store, handler, PolicyTrustExchange)

	report, err := r.Reconcile(ctx, []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.FillsReplayed)
	require.Len(t, handler.fills, 1)
	assert.Equal(t, "ord-1", handler.fills[0].ID)

	// the store now agrees with the venue
	rec, err := store.OrderByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, string(types.OrderStatusClosed), rec.Status)

	// a second pass finds nothing to do
	report, err = r.Reconcile(ctx, []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, 0, report.FillsReplayed)
	assert.Len(t, handler.fills, 1, "idempotent: the fill replays once")
}

func TestReconcileMarksStaleLocalOrderCancelled(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertOrder(ctx, Record("fake", openOrder("ghost-1", types.SideBuy, "100", "1"))))

	venue := &reconVenue{orders: map[string]types.Order{}}
	r := NewReconciler(venue, store, nil, PolicyTrustExchange)

	report, err := r.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	rec, err := store.OrderByID(ctx, "ghost-1")
	require.NoError(t, err)
	assert.Equal(t, string(types.OrderStatusCanceled), rec.Status)
}

func TestReconcileAdoptsOurOrphans(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	orphan := openOrder("orph-1", types.SideSell, "120", "1")
	foreign := openOrder("for-1", types.SideBuy, "90", "1")
	foreign.ClientOrderID = "somebody-else"

	venue := &reconVenue{openBySym: map[string][]types.Order{
		"BTC/USDT": {orphan, foreign},
	}}
	r := NewReconciler(venue, store, nil, PolicyTrustExchange)

	report, err := r.Reconcile(ctx, []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Adopted)
	require.Len(t, report.Conflicts, 1, "foreign order reported, never touched")
	assert.Empty(t, venue.cancelled)

	rec, err := store.OrderByID(ctx, "orph-1")
	require.NoError(t, err)
	assert.Equal(t, string(types.OrderStatusOpen), rec.Status)
	rec, err = store.OrderByID(ctx, "for-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "foreign order stays out of the store")
}

func TestReconcileAbortsWhenClosedLocalOrderOpenOnVenue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// the store believes this order is done...
	local := openOrder("ord-z", types.SideBuy, "100", "1")
	require.NoError(t, store.UpsertOrder(ctx, Record("fake", local)))
	require.NoError(t, store.UpdateOrderStatus(ctx, "ord-z", types.OrderStatusClosed, d("1")))

	// ...but the venue still shows it working
	venue := &reconVenue{openBySym: map[string][]types.Order{"BTC/USDT": {local}}}

	for _, policy := range []Policy{PolicyTrustLocal, PolicyManual} {
		r := NewReconciler(venue, store, nil, policy)
		_, err := r.Reconcile(ctx, []string{"BTC/USDT"})
		require.Error(t, err, string(policy))
		assert.Contains(t, err.Error(), "closed locally")
	}

	// trust_exchange recovers by re-opening the local record
	r := NewReconciler(venue, store, nil, PolicyTrustExchange)
	report, err := r.Reconcile(ctx, []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	require.Len(t, report.Conflicts, 1)

	rec, err := store.OrderByID(ctx, "ord-z")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, string(types.OrderStatusOpen), rec.Status)
}

func TestReconcileTrustLocalCancelsOrphans(t *testing.T) {
	store := openTestStore(t)

	orphan := openOrder("orph-2", types.SideBuy, "90", "1")
	venue := &reconVenue{openBySym: map[string][]types.Order{"BTC/USDT": {orphan}}}
	r := NewReconciler(venue, store, nil, PolicyTrustLocal)

	report, err := r.Reconcile(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, []string{"orph-2"}, venue.cancelled)
}

func TestReconcileManualReportsOnly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	local := openOrder("ord-m", types.SideBuy, "100", "1")
	require.NoError(t, store.UpsertOrder(ctx, Record("fake", local)))

	venueSide := local
	venueSide.Status = types.OrderStatusClosed
	venueSide.Filled = venueSide.Amount

	orphan := openOrder("orph-m", types.SideSell, "110", "1")
	venue := &reconVenue{
		orders:    map[string]types.Order{"ord-m": venueSide},
		openBySym: map[string][]types.Order{"BTC/USDT": {orphan}},
	}
	handler := &capturingHandler{}
	r := NewReconciler(venue, store, handler, PolicyManual)

	report, err := r.Reconcile(ctx, []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Adopted)
	assert.Len(t, report.Conflicts, 2)
	assert.Empty(t, handler.fills)

	rec, err := store.OrderByID(ctx, "ord-m")
	require.NoError(t, err)
	assert.Equal(t, string(types.OrderStatusOpen), rec.Status, "manual mode changes nothing")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyTrustExchange, p)

	for _, s := range []string{"trust_exchange", "trust_local", "manual"} {
		_, err := ParsePolicy(s)
		assert.NoError(t, err, s)
	}
	_, err = ParsePolicy("yolo")
	assert.Error(t, err)
}
