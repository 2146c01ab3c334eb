package tabular

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/possync/reconcile/internal/domain/models"
)

func salesGrid(data ...[]interface{}) Grid {
	grid := Grid{
		{"영수증별매출상세현황"},
		{},
		{"조회조건 : 2025-10-29"},
		{"포스", "거래번호", "구분", "시간", "", "", "상품코드", "바코드", "상품명", "수량", "매출액", "할인액"},
	}
	return append(grid, data...)
}

func TestParseSalesCarriesMergedCells(t *testing.T) {
	grid := salesGrid(
		[]interface{}{"001", "00045", "현금", "10:15:00", nil, nil, "A-1", "880001", "Mug", float64(3), float64(45000), float64(0)},
		[]interface{}{nil, nil, nil, nil, nil, nil, "B-1", "880002", "Pen", float64(1), float64(2000), float64(500)},
		[]interface{}{},
		[]interface{}{"002", "00001", "카드", nil, nil, nil, "", "880001", "Mug", "2", "30,000", nil},
	)

	rows, err := ParseSales("sales.xlsx", grid)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	first := rows[0]
	assert.Equal(t, "2025-10-29", first.Date)
	assert.Equal(t, models.ReceiptKey{Date: "2025-10-29", ReceiptNumber: "00100045"}, first.ReceiptKey())
	assert.Equal(t, 3, first.Quantity)
	assert.True(t, decimal.NewFromInt(15000).Equal(first.UnitPrice()))
	require.NotNil(t, first.SoldAt)
	assert.Equal(t, 10, first.SoldAt.Hour())
	assert.Equal(t, 5, first.Line)

	second := rows[1]
	assert.Equal(t, "001", second.TerminalNumber)
	assert.Equal(t, "00045", second.TransactionNumber)
	assert.Equal(t, "현금", second.PaymentLabel)
	assert.True(t, decimal.NewFromInt(500).Equal(second.DiscountAmount))
	assert.Nil(t, second.SoldAt)

	third := rows[2]
	assert.Equal(t, "00200001", third.ReceiptKey().ReceiptNumber)
	assert.Equal(t, "", third.ProductCode)
	assert.Equal(t, "880001", third.Barcode)
	assert.Equal(t, 2, third.Quantity)
	assert.True(t, decimal.NewFromInt(30000).Equal(third.SaleAmount))
}

func TestParseSalesDropsRowsWithoutProduct(t *testing.T) {
	grid := salesGrid(
		[]interface{}{"001", "00045", "현금", nil, nil, nil, "", "", "소계", float64(3)},
		[]interface{}{nil, nil, nil, nil, nil, nil, "A-1", "", "Mug", "abc", nil},
	)

	rows, err := ParseSales("sales.xlsx", grid)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Quantity)
	assert.True(t, rows[0].SaleAmount.IsZero())
	assert.True(t, rows[0].UnitPrice().IsZero())
}

func TestParseSalesIsStateless(t *testing.T) {
	grid := salesGrid(
		[]interface{}{"001", "00045", "현금", nil, nil, nil, "A-1", "", "Mug", float64(1), float64(100)},
	)
	first, err := ParseSales("a", grid)
	require.NoError(t, err)
	second, err := ParseSales("a", grid)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseSalesDataRegionErrors(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		_, err := ParseSales("short.xlsx", Grid{{"title"}, {}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrParse))
		var parseErr *models.ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "short.xlsx", parseErr.File)
	})

	t.Run("missing header", func(t *testing.T) {
		grid := Grid{{"title"}, {}, {"조회조건 : 2025-10-29"}, {}}
		_, err := ParseSales("noheader.xlsx", grid)
		assert.ErrorIs(t, err, models.ErrParse)
	})

	t.Run("missing date", func(t *testing.T) {
		grid := Grid{{"title"}, {}, {"조회조건 :"}, {"포스"}}
		_, err := ParseSales("nodate.xlsx", grid)
		assert.ErrorIs(t, err, models.ErrParse)
	})
}

func TestParseSalesDateInSeparateCell(t *testing.T) {
	grid := Grid{
		{"title"},
		{},
		{"조회조건", "2025-10-30"},
		{"포스"},
		{"001", "1", nil, nil, nil, nil, "A-1", "", "", float64(1), float64(10)},
	}
	rows, err := ParseSales("split.xlsx", grid)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-10-30", rows[0].Date)
}
