package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/lock"
	"github.com/possync/reconcile/internal/repository"
	"github.com/possync/reconcile/internal/repository/memory"
	"github.com/possync/reconcile/internal/tabular"
)

var receipt45 = models.ReceiptKey{Date: "2025-10-29", ReceiptNumber: "00100045"}

func newEngine(store *memory.Store) *Engine {
	registry := NewRegistry(store.Counterparties(), decimal.NewFromFloat(3.0), time.Minute, nil)
	return NewEngine(store, lock.NewLocal(), registry, 5, nil)
}

func seedReceipt(t *testing.T, store *memory.Store) []models.SaleLineItem {
	t.Helper()
	items, err := store.Sales().InsertMany(context.Background(), []models.SaleLineItem{
		{ProductID: "a", Quantity: 3, SaleDate: receipt45.Date, ReceiptNumber: receipt45.ReceiptNumber, PaymentType: models.ChannelCash},
		{ProductID: "b", Quantity: 1, SaleDate: receipt45.Date, ReceiptNumber: receipt45.ReceiptNumber, PaymentType: models.ChannelCash},
		{ProductID: "a", Quantity: 1, SaleDate: "2025-10-30", ReceiptNumber: receipt45.ReceiptNumber, PaymentType: models.ChannelCash},
	})
	require.NoError(t, err)
	return items
}

func cardRow() tabular.ApprovalRow {
	return tabular.ApprovalRow{
		Line: 6, Date: "2025-10-29", TerminalNumber: "001", TransactionNumber: "00045",
		Counterparty: "SHINHAN", Amount: decimal.NewFromInt(47000),
	}
}

func attributions(t *testing.T, store *memory.Store) map[string]models.Attribution {
	t.Helper()
	lines, err := store.Sales().List(context.Background(), repository.SaleFilter{})
	require.NoError(t, err)
	out := make(map[string]models.Attribution, len(lines))
	for _, l := range lines {
		out[l.SaleDate+"/"+l.ProductID] = models.Attribution{PaymentType: l.PaymentType, CounterpartyID: l.CounterpartyID}
	}
	return out
}

func TestCardApprovalAttributesReceipt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReceipt(t, store)
	engine := newEngine(store)

	summary := engine.IngestRows(ctx, "card.xlsx", models.ChannelCard, []tabular.ApprovalRow{cardRow()})
	assert.False(t, summary.Failed())
	assert.Equal(t, 1, summary.MatchedCount)
	assert.Equal(t, 2, summary.UpdatedSaleCount)
	assert.Zero(t, summary.UnmatchedApprovals.Count)

	registry, err := engine.Counterparties(ctx, models.ChannelCard)
	require.NoError(t, err)
	require.Len(t, registry, 1)
	assert.Equal(t, "SHINHAN", registry[0].Name)
	assert.True(t, decimal.NewFromFloat(3.0).Equal(registry[0].FeeRate))

	got := attributions(t, store)
	for _, key := range []string{"2025-10-29/a", "2025-10-29/b"} {
		assert.Equal(t, models.ChannelCard, got[key].PaymentType)
		assert.Equal(t, registry[0].ID, got[key].CounterpartyID)
	}
	assert.Equal(t, models.ChannelCash, got["2025-10-30/a"].PaymentType)

	stored, err := store.Approvals().FindByReceiptKeys(ctx, []models.ReceiptKey{receipt45})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Matched)
	assert.Len(t, stored[0].MatchedSaleIDs, 2)
}

func TestMatchingIsOrderIndependent(t *testing.T) {
	ctx := context.Background()

	receiptFirst := memory.NewStore()
	seedReceipt(t, receiptFirst)
	newEngine(receiptFirst).IngestRows(ctx, "card.xlsx", models.ChannelCard, []tabular.ApprovalRow{cardRow()})

	approvalFirst := memory.NewStore()
	engine := newEngine(approvalFirst)
	early := engine.IngestRows(ctx, "card.xlsx", models.ChannelCard, []tabular.ApprovalRow{cardRow()})
	assert.Zero(t, early.MatchedCount)
	assert.Equal(t, 1, early.UnmatchedApprovals.Count)
	require.Len(t, early.UnmatchedApprovals.Samples, 1)
	assert.Contains(t, early.UnmatchedApprovals.Samples[0], "00100045")

	seedReceipt(t, approvalFirst)
	rematched, err := engine.Rematch(ctx, models.ChannelCard)
	require.NoError(t, err)
	assert.Equal(t, 1, rematched.MatchedCount)

	pending, err := approvalFirst.Approvals().FindUnmatched(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	want := attributions(t, receiptFirst)
	got := attributions(t, approvalFirst)
	require.Len(t, got, len(want))
	for key, w := range want {
		assert.Equal(t, w.PaymentType, got[key].PaymentType, key)
		assert.Equal(t, w.CounterpartyID == "", got[key].CounterpartyID == "", key)
	}
}

func TestRematchReceiptsRestoresReplacedLines(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReceipt(t, store)
	engine := newEngine(store)
	engine.IngestRows(ctx, "card.xlsx", models.ChannelCard, []tabular.ApprovalRow{cardRow()})

	_, err := store.Sales().DeleteByReceiptKeys(ctx, []models.ReceiptKey{receipt45})
	require.NoError(t, err)
	fresh, err := store.Sales().InsertMany(ctx, []models.SaleLineItem{
		{ProductID: "a", Quantity: 3, SaleDate: receipt45.Date, ReceiptNumber: receipt45.ReceiptNumber, PaymentType: models.ChannelCash},
	})
	require.NoError(t, err)

	summary, err := engine.RematchReceipts(ctx, []models.ReceiptKey{receipt45})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UpdatedSaleCount)

	stored, err := store.Approvals().FindByReceiptKeys(ctx, []models.ReceiptKey{receipt45})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []string{fresh[0].ID}, stored[0].MatchedSaleIDs)
	assert.Equal(t, models.ChannelCard, attributions(t, store)["2025-10-29/a"].PaymentType)

	none, err := engine.RematchReceipts(ctx, []models.ReceiptKey{{Date: "2025-10-29", ReceiptNumber: "nope"}})
	require.NoError(t, err)
	assert.Zero(t, none.ParsedRows)
}

func TestCashReceiptHasNoCounterparty(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReceipt(t, store)
	engine := newEngine(store)

	row := cardRow()
	row.Counterparty = ""
	summary := engine.IngestRows(ctx, "cash.xlsx", models.ChannelCashReceipt, []tabular.ApprovalRow{row})
	assert.Equal(t, 1, summary.MatchedCount)

	got := attributions(t, store)["2025-10-29/a"]
	assert.Equal(t, models.ChannelCashReceipt, got.PaymentType)
	assert.Empty(t, got.CounterpartyID)

	all, err := engine.Counterparties(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLaterApprovalWinsOnSplitPayment(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReceipt(t, store)
	engine := newEngine(store)

	engine.IngestRows(ctx, "card.xlsx", models.ChannelCard, []tabular.ApprovalRow{cardRow()})
	row := cardRow()
	row.Counterparty = "KAKAO"
	engine.IngestRows(ctx, "pay.xlsx", models.ChannelEasyPay, []tabular.ApprovalRow{row})

	assert.Equal(t, models.ChannelEasyPay, attributions(t, store)["2025-10-29/b"].PaymentType)
}

func TestPersistenceFailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedReceipt(t, store)
	store.FailNext("approvals.upsert", errors.New("write concern timeout"))
	engine := newEngine(store)

	summary := engine.IngestRows(ctx, "card.xlsx", models.ChannelCard, []tabular.ApprovalRow{cardRow()})
	assert.True(t, summary.Failed())
	assert.Equal(t, 1, summary.PersistenceErrors.Count)
	assert.Zero(t, summary.MatchedCount)
	assert.Equal(t, models.ChannelCash, attributions(t, store)["2025-10-29/a"].PaymentType)
}

func TestIngestGridRejectsUnknownChannel(t *testing.T) {
	engine := newEngine(memory.NewStore())
	summary := engine.IngestGrid(context.Background(), "x.xlsx", models.ChannelCash, tabular.Grid{})
	assert.True(t, summary.Failed())
	assert.NotEmpty(t, summary.ParseError)
}

func TestRegistryCachesLookups(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry := NewRegistry(store.Counterparties(), decimal.NewFromInt(2), time.Minute, nil)

	ids, err := registry.Resolve(ctx, models.ChannelCard, []string{" SHINHAN ", "KB", ""})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	store.FailNext("counterparties.ensure", errors.New("down"))
	again, err := registry.Resolve(ctx, models.ChannelCard, []string{"SHINHAN", "KB"})
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	_, err = registry.Resolve(ctx, models.ChannelCard, []string{"HYUNDAI"})
	assert.Error(t, err)

	cash, err := registry.Resolve(ctx, models.ChannelCashReceipt, []string{"X"})
	require.NoError(t, err)
	assert.Empty(t, cash)
}
