package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/possync/reconcile/internal/domain/models"
	"github.com/possync/reconcile/internal/lock"
	"github.com/possync/reconcile/internal/repository/memory"
	"github.com/possync/reconcile/internal/server/handlers"
	"github.com/possync/reconcile/internal/server/router"
	"github.com/possync/reconcile/internal/service/ingestion"
	"github.com/possync/reconcile/internal/service/ledger"
	"github.com/possync/reconcile/internal/service/matching"
	"github.com/possync/reconcile/internal/tabular"
)

type stubSheet struct {
	grids map[string]tabular.Grid
}

func (s stubSheet) ReadGrid(_ context.Context, sheetRange string) (tabular.Grid, error) {
	return s.grids[sheetRange], nil
}

type recordingPublisher struct {
	sales     int
	approvals int
}

func (p *recordingPublisher) PublishSales(context.Context, []models.SalesFileSummary) { p.sales++ }

func (p *recordingPublisher) PublishApprovals(context.Context, []models.ApprovalSummary) {
	p.approvals++
}

type fixture struct {
	store     *memory.Store
	server    http.Handler
	publisher *recordingPublisher
	mug       models.Product
}

func newFixture(t *testing.T, sheet handlers.GridSource) *fixture {
	t.Helper()
	store := memory.NewStore()
	mug, err := store.Products().Save(context.Background(), models.Product{
		Code: "A-1", Barcode: "880001", Name: "Mug", CurrentStock: 10, LowStockThreshold: 5,
	})
	require.NoError(t, err)

	locker := lock.NewLocal()
	mutator := ledger.NewMutator(store, 2, nil)
	registry := matching.NewRegistry(store.Counterparties(), decimal.NewFromFloat(3.0), time.Minute, nil)
	engine := matching.NewEngine(store, locker, registry, 5, nil)
	ctrl := ingestion.NewController(store, mutator, locker, engine, ingestion.Settings{SampleSize: 5, Retries: 2}, nil)

	publisher := &recordingPublisher{}
	r := router.New(router.Handlers{
		Sales:     handlers.NewSalesHandler(ctrl, sheet, publisher, 1<<20, nil),
		Approvals: handlers.NewApprovalsHandler(engine, sheet, publisher, 1<<20, nil),
		Inventory: handlers.NewInventoryHandler(mutator, nil),
	}, nil)
	return &fixture{store: store, server: r, publisher: publisher, mug: mug}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	p, err := f.store.Products().FindByID(context.Background(), f.mug.ID)
	require.NoError(t, err)
	return p.CurrentStock
}

func salesGrid(data ...[]interface{}) tabular.Grid {
	grid := tabular.Grid{
		{"영수증별매출상세현황"},
		{},
		{"조회조건 : 2025-10-29 ~ 2025-10-29"},
		{"포스", "거래번호", "구분", "시간", "", "", "상품코드", "바코드", "상품명", "수량", "매출액", "할인액"},
	}
	return append(grid, data...)
}

func saleRow(txn string, qty int) []interface{} {
	return []interface{}{"001", txn, "현금", nil, nil, nil, "A-1", "", "", float64(qty), float64(qty * 15000), float64(0)}
}

func workbook(t *testing.T, grid tabular.Grid) []byte {
	t.Helper()
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()
	sheet := book.GetSheetName(0)
	for r, cells := range grid {
		for c, v := range cells {
			if v == nil {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, book.SetCellValue(sheet, name, v))
		}
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target string, fields map[string]string, files map[string][]byte, order ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, name := range order {
		part, err := w.CreateFormFile("files[]", name)
		require.NoError(t, err)
		_, err = part.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSalesUploadReconcilesInSubmissionOrder(t *testing.T) {
	f := newFixture(t, nil)
	files := map[string][]byte{
		"first.xlsx":  workbook(t, salesGrid(saleRow("00001", 8))),
		"broken.xlsx": []byte("not a workbook"),
		"second.xlsx": workbook(t, salesGrid(saleRow("00002", 3))),
	}

	rec := f.do(t, uploadRequest(t, "/api/sales/uploads", nil, files, "first.xlsx", "broken.xlsx", "second.xlsx"))
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []models.SalesFileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 3)
	assert.Equal(t, 1, summaries[0].AcceptedCount)
	assert.NotEmpty(t, summaries[1].ParseError)
	assert.Equal(t, 1, summaries[2].InsufficientStockErrors.Count)
	assert.Equal(t, 2, f.stock(t))
	assert.Equal(t, 1, f.publisher.sales)
}

func TestSalesUploadAllowNegative(t *testing.T) {
	f := newFixture(t, nil)
	files := map[string][]byte{"sales.xlsx": workbook(t, salesGrid(saleRow("00001", 12)))}

	rec := f.do(t, uploadRequest(t, "/api/sales/uploads", map[string]string{"allow_negative": "true"}, files, "sales.xlsx"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -2, f.stock(t))
}

func TestSalesUploadOnlyUnreadableFiles(t *testing.T) {
	f := newFixture(t, nil)
	files := map[string][]byte{"broken.xlsx": []byte("nope")}

	rec := f.do(t, uploadRequest(t, "/api/sales/uploads", nil, files, "broken.xlsx"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSalesUploadWithoutFiles(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, uploadRequest(t, "/api/sales/uploads", map[string]string{"allow_negative": "false"}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSheetIngestionRequiresConfiguration(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, jsonRequest(http.MethodPost, "/api/sales/sheets", `{"range":"Sales!A1:L50"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSheetIngestionAttributesCardSales(t *testing.T) {
	sheet := stubSheet{grids: map[string]tabular.Grid{
		"Sales!A1:L50": salesGrid(saleRow("00045", 3)),
		"Card!A1:J50": {
			{"카드승인현황"},
			{},
			{"조회기간"},
			{},
			{"No", "승인일자", "포스", "거래번호", "", "", "매입사", "", "승인금액", "금액"},
			{1, float64(45959), "001", "00045", nil, nil, "SHINHAN", nil, float64(45000)},
		},
	}}
	f := newFixture(t, sheet)

	rec := f.do(t, jsonRequest(http.MethodPost, "/api/approvals/sheets", `{"range":"Card!A1:J50","channel":"card"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var approvals []models.ApprovalSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approvals))
	require.Len(t, approvals, 1)
	assert.Equal(t, 0, approvals[0].MatchedCount)
	assert.Equal(t, 1, approvals[0].UnmatchedApprovals.Count)

	rec = f.do(t, jsonRequest(http.MethodPost, "/api/sales/sheets", `{"range":"Sales!A1:L50"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var sales []models.SalesFileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sales))
	require.Len(t, sales, 1)
	assert.Equal(t, 1, sales[0].AcceptedCount)
	assert.Equal(t, 1, sales[0].ReattributedSaleCount)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/sales?date=2025-10-29&receipt_number=00100045", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var lines []models.SaleLineItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	require.Len(t, lines, 1)
	assert.Equal(t, models.ChannelCard, lines[0].PaymentType)
	assert.NotEmpty(t, lines[0].CounterpartyID)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/counterparties?channel=card", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var registry []models.Counterparty
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registry))
	require.Len(t, registry, 1)
	assert.Equal(t, "SHINHAN", registry[0].Name)
}

func TestApprovalEndpointsValidateChannel(t *testing.T) {
	f := newFixture(t, stubSheet{})

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/approvals/rematch?channel=cash", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, uploadRequest(t, "/api/approvals/uploads?channel=bitcoin", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, jsonRequest(http.MethodPost, "/api/approvals/sheets", `{"range":"A1:B2","channel":"cash"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/counterparties?channel=cash_receipt", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/approvals/rematch", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStockChangeEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	target := "/api/products/" + f.mug.ID + "/stock-changes"

	rec := f.do(t, jsonRequest(http.MethodPost, target, `{"change_type":"in","quantity":5,"note":"delivery"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15, f.stock(t))

	rec = f.do(t, jsonRequest(http.MethodPost, target, `{"change_type":"out","quantity":20}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient stock")
	assert.Equal(t, 15, f.stock(t))

	rec = f.do(t, jsonRequest(http.MethodPost, target, `{"change_type":"out","quantity":20,"force":true}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -5, f.stock(t))

	rec = f.do(t, jsonRequest(http.MethodPost, target, `{"change_type":"adjust","quantity":0}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.stock(t))

	rec = f.do(t, jsonRequest(http.MethodPost, target, `{"change_type":"gift","quantity":1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, jsonRequest(http.MethodPost, target, `{"change_type":"in","quantity":-1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, jsonRequest(http.MethodPost, target, `{"change_type":"in"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, jsonRequest(http.MethodPost, "/api/products/missing/stock-changes", `{"change_type":"in","quantity":1}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerAndLowStockEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	target := "/api/products/" + f.mug.ID + "/stock-changes"
	for _, body := range []string{
		`{"change_type":"out","quantity":3}`,
		`{"change_type":"out","quantity":4}`,
	} {
		require.Equal(t, http.StatusOK, f.do(t, jsonRequest(http.MethodPost, target, body)).Code)
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/products/"+f.mug.ID+"/ledger?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 7, entries[0].PreviousStock)
	assert.Equal(t, 3, entries[0].NewStock)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/products/"+f.mug.ID+"/ledger?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/products/missing/ledger", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/products/low-stock", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var low []models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &low))
	require.Len(t, low, 1)
	assert.Equal(t, f.mug.ID, low[0].ID)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
