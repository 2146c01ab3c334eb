package tabular

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/possync/reconcile/internal/domain/models"
)

// ApprovalRow is one settlement approval of a card, quick-pay or cash-receipt export.
type ApprovalRow struct {
	Line              int
	Date              string
	TerminalNumber    string
	TransactionNumber string
	Counterparty      string
	Amount            decimal.Decimal
}

// ReceiptKey returns the receipt key the approval refers to.
func (r ApprovalRow) ReceiptKey() models.ReceiptKey {
	return models.NewReceiptKey(r.Date, r.TerminalNumber, r.TransactionNumber)
}

// ApprovalLayout pins the offsets of one settlement export variant. A
// negative CounterpartyCol means the variant carries no counterparty.
type ApprovalLayout struct {
	HeaderRow       int
	DataStart       int
	DateCol         int
	TerminalCol     int
	TransactionCol  int
	CounterpartyCol int
	AmountCol       int
}

var approvalLayouts = map[models.Channel]ApprovalLayout{
	models.ChannelCard: {
		HeaderRow: 4, DataStart: 5,
		DateCol: 1, TerminalCol: 2, TransactionCol: 3, CounterpartyCol: 6, AmountCol: 8,
	},
	models.ChannelEasyPay: {
		HeaderRow: 4, DataStart: 5,
		DateCol: 1, TerminalCol: 2, TransactionCol: 3, CounterpartyCol: 6, AmountCol: 9,
	},
	models.ChannelCashReceipt: {
		HeaderRow: 4, DataStart: 5,
		DateCol: 1, TerminalCol: 2, TransactionCol: 3, CounterpartyCol: -1, AmountCol: 9,
	},
}

// ApprovalLayoutFor returns the layout of the channel's settlement export.
func ApprovalLayoutFor(channel models.Channel) (ApprovalLayout, error) {
	layout, ok := approvalLayouts[channel]
	if !ok {
		return ApprovalLayout{}, fmt.Errorf("no approval export layout for channel %q", channel)
	}
	return layout, nil
}

// ParseApprovals parses a settlement export of the given channel.
func ParseApprovals(name string, channel models.Channel, grid Grid) ([]ApprovalRow, error) {
	layout, err := ApprovalLayoutFor(channel)
	if err != nil {
		return nil, &models.ParseError{File: name, Reason: err.Error()}
	}
	return layout.Parse(name, grid)
}

// Parse returns the approval rows of grid in sheet order.
func (l ApprovalLayout) Parse(name string, grid Grid) ([]ApprovalRow, error) {
	if len(grid) <= l.HeaderRow {
		return nil, &models.ParseError{File: name, Reason: "file too short to contain a data region"}
	}
	if grid.RowBlank(l.HeaderRow) {
		return nil, &models.ParseError{File: name, Reason: "header row not found"}
	}

	var lastDate string
	var terminal carry
	rows := make([]ApprovalRow, 0, len(grid)-l.DataStart)

	for i := l.DataStart; i < len(grid); i++ {
		txn := cellText(grid.Cell(i, l.TransactionCol))
		if txn == "" {
			continue
		}

		if date, ok := cellDate(grid.Cell(i, l.DateCol)); ok {
			lastDate = date
		}
		term := terminal.next(grid.Cell(i, l.TerminalCol))

		row := ApprovalRow{
			Line:              i + 1,
			Date:              lastDate,
			TerminalNumber:    term,
			TransactionNumber: txn,
			Amount:            cellDecimal(grid.Cell(i, l.AmountCol)),
		}
		if l.CounterpartyCol >= 0 {
			row.Counterparty = cellText(grid.Cell(i, l.CounterpartyCol))
		}
		rows = append(rows, row)
	}

	return rows, nil
}
