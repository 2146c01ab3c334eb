package tabular

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/possync/reconcile/internal/domain/models"
)

// SaleRow is one product line of the receipt-detail sales export.
type SaleRow struct {
	Line              int
	Date              string
	TerminalNumber    string
	TransactionNumber string
	PaymentLabel      string
	SoldAt            *time.Time
	ProductCode       string
	Barcode           string
	ProductName       string
	Quantity          int
	SaleAmount        decimal.Decimal
	DiscountAmount    decimal.Decimal
}

// ReceiptKey returns the (date, terminal‖transaction) key of the row.
func (r SaleRow) ReceiptKey() models.ReceiptKey {
	return models.NewReceiptKey(r.Date, r.TerminalNumber, r.TransactionNumber)
}

// UnitPrice derives the per-unit price from the line amount.
func (r SaleRow) UnitPrice() decimal.Decimal {
	if r.Quantity == 0 {
		return decimal.Zero
	}
	return r.SaleAmount.Div(decimal.NewFromInt(int64(r.Quantity))).Round(0)
}

// SalesLayout pins the fixed offsets of a receipt-detail export variant.
type SalesLayout struct {
	ConditionRow int
	ConditionCol int
	HeaderRow    int
	DataStart    int

	TerminalCol    int
	TransactionCol int
	PaymentCol     int
	TimeCol        int
	CodeCol        int
	BarcodeCol     int
	NameCol        int
	QuantityCol    int
	AmountCol      int
	DiscountCol    int
}

// DefaultSalesLayout matches the POS "sales detail by receipt" export: a title,
// a blank row, the query condition carrying the business date, the header,
// then data.
var DefaultSalesLayout = SalesLayout{
	ConditionRow: 2,
	ConditionCol: 0,
	HeaderRow:    3,
	DataStart:    4,

	TerminalCol:    0,
	TransactionCol: 1,
	PaymentCol:     2,
	TimeCol:        3,
	CodeCol:        6,
	BarcodeCol:     7,
	NameCol:        8,
	QuantityCol:    9,
	AmountCol:      10,
	DiscountCol:    11,
}

// ParseSales parses a sales export with the default layout.
func ParseSales(name string, grid Grid) ([]SaleRow, error) {
	return DefaultSalesLayout.Parse(name, grid)
}

// Parse returns the sale rows of grid in sheet order.
func (l SalesLayout) Parse(name string, grid Grid) ([]SaleRow, error) {
	if len(grid) <= l.HeaderRow {
		return nil, &models.ParseError{File: name, Reason: "file too short to contain a data region"}
	}
	if grid.RowBlank(l.HeaderRow) {
		return nil, &models.ParseError{File: name, Reason: "header row not found"}
	}

	date, ok := l.businessDate(grid)
	if !ok {
		return nil, &models.ParseError{File: name, Reason: "business date not found in query condition row"}
	}

	var terminal, transaction, payment carry
	rows := make([]SaleRow, 0, len(grid)-l.DataStart)

	for i := l.DataStart; i < len(grid); i++ {
		code := cellText(grid.Cell(i, l.CodeCol))
		barcode := cellText(grid.Cell(i, l.BarcodeCol))
		if code == "" && barcode == "" {
			continue
		}

		// Merged cells only hold a value on their first row.
		term := terminal.next(grid.Cell(i, l.TerminalCol))
		txn := transaction.next(grid.Cell(i, l.TransactionCol))
		pay := payment.next(grid.Cell(i, l.PaymentCol))

		row := SaleRow{
			Line:              i + 1,
			Date:              date,
			TerminalNumber:    term,
			TransactionNumber: txn,
			PaymentLabel:      pay,
			ProductCode:       code,
			Barcode:           barcode,
			ProductName:       cellText(grid.Cell(i, l.NameCol)),
			Quantity:          cellInt(grid.Cell(i, l.QuantityCol)),
			SaleAmount:        cellDecimal(grid.Cell(i, l.AmountCol)),
			DiscountAmount:    cellDecimal(grid.Cell(i, l.DiscountCol)),
		}
		if l.TimeCol >= 0 {
			row.SoldAt = saleTime(date, grid.Cell(i, l.TimeCol))
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func (l SalesLayout) businessDate(grid Grid) (string, bool) {
	if date, ok := cellDate(grid.Cell(l.ConditionRow, l.ConditionCol)); ok {
		return date, true
	}
	// Some exports split the label and the value across cells.
	for c := range grid[l.ConditionRow] {
		if date, ok := cellDate(grid.Cell(l.ConditionRow, c)); ok {
			if _, numeric := grid.Cell(l.ConditionRow, c).(float64); !numeric {
				return date, true
			}
		}
	}
	return "", false
}

func saleTime(date string, v interface{}) *time.Time {
	hour, minute, second, ok := cellClock(v)
	if !ok {
		return nil
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, second, 0, time.UTC)
	return &at
}
