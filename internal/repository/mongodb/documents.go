package mongodb

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/possync/reconcile/internal/domain/models"
)

type productDoc struct {
	ID                primitive.ObjectID   `bson:"_id,omitempty"`
	Code              string               `bson:"product_code"`
	Barcode           string               `bson:"barcode,omitempty"`
	Name              string               `bson:"name"`
	Price             primitive.Decimal128 `bson:"price"`
	CurrentStock      int                  `bson:"current_stock"`
	OptimalStock      int                  `bson:"optimal_stock"`
	LowStockThreshold int                  `bson:"low_stock_threshold"`
	UpdatedAt         time.Time            `bson:"updated_at"`
}

type saleDoc struct {
	ID             primitive.ObjectID   `bson:"_id,omitempty"`
	ProductID      string               `bson:"product_id"`
	Quantity       int                  `bson:"quantity"`
	UnitPrice      primitive.Decimal128 `bson:"unit_price"`
	TotalAmount    primitive.Decimal128 `bson:"total_amount"`
	DiscountAmount primitive.Decimal128 `bson:"discount_amount"`
	SaleDate       string               `bson:"sale_date"`
	SaleDateTime   *time.Time           `bson:"sale_datetime,omitempty"`
	PaymentType    string               `bson:"payment_type"`
	CounterpartyID string               `bson:"counterparty_id,omitempty"`
	ReceiptNumber  string               `bson:"receipt_number"`
	BatchID        string               `bson:"batch_id"`
	CreatedAt      time.Time            `bson:"created_at"`
}

type ledgerDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	ProductID     string             `bson:"product_id"`
	ChangeType    string             `bson:"change_type"`
	Quantity      int                `bson:"quantity"`
	PreviousStock int                `bson:"previous_stock"`
	NewStock      int                `bson:"new_stock"`
	Target        *int               `bson:"target,omitempty"`
	Note          string             `bson:"note"`
	CreatedAt     time.Time          `bson:"created_at"`
}

type approvalDoc struct {
	ID                primitive.ObjectID   `bson:"_id,omitempty"`
	Channel           string               `bson:"channel"`
	ApprovalDate      string               `bson:"approval_date"`
	TerminalNumber    string               `bson:"terminal_number"`
	TransactionNumber string               `bson:"transaction_number"`
	ReceiptNumber     string               `bson:"receipt_number"`
	CounterpartyName  string               `bson:"counterparty_name,omitempty"`
	Amount            primitive.Decimal128 `bson:"amount"`
	Matched           bool                 `bson:"matched"`
	MatchedSaleIDs    []string             `bson:"matched_sale_ids"`
	UpdatedAt         time.Time            `bson:"updated_at"`
}

type counterpartyDoc struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty"`
	Channel   string               `bson:"channel"`
	Name      string               `bson:"name"`
	FeeRate   primitive.Decimal128 `bson:"fee_rate"`
	CreatedAt time.Time            `bson:"created_at"`
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func hexID(id primitive.ObjectID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

func (d productDoc) model() models.Product {
	return models.Product{
		ID:                hexID(d.ID),
		Code:              d.Code,
		Barcode:           d.Barcode,
		Name:              d.Name,
		Price:             fromDecimal128(d.Price),
		CurrentStock:      d.CurrentStock,
		OptimalStock:      d.OptimalStock,
		LowStockThreshold: d.LowStockThreshold,
		UpdatedAt:         d.UpdatedAt,
	}
}

func newProductDoc(p models.Product) productDoc {
	id, _ := primitive.ObjectIDFromHex(p.ID)
	return productDoc{
		ID:                id,
		Code:              p.Code,
		Barcode:           p.Barcode,
		Name:              p.Name,
		Price:             toDecimal128(p.Price),
		CurrentStock:      p.CurrentStock,
		OptimalStock:      p.OptimalStock,
		LowStockThreshold: p.LowStockThreshold,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (d saleDoc) model() models.SaleLineItem {
	return models.SaleLineItem{
		ID:             hexID(d.ID),
		ProductID:      d.ProductID,
		Quantity:       d.Quantity,
		UnitPrice:      fromDecimal128(d.UnitPrice),
		TotalAmount:    fromDecimal128(d.TotalAmount),
		DiscountAmount: fromDecimal128(d.DiscountAmount),
		SaleDate:       d.SaleDate,
		SaleDateTime:   d.SaleDateTime,
		PaymentType:    models.Channel(d.PaymentType),
		CounterpartyID: d.CounterpartyID,
		ReceiptNumber:  d.ReceiptNumber,
		BatchID:        d.BatchID,
		CreatedAt:      d.CreatedAt,
	}
}

func newSaleDoc(s models.SaleLineItem) saleDoc {
	id, _ := primitive.ObjectIDFromHex(s.ID)
	return saleDoc{
		ID:             id,
		ProductID:      s.ProductID,
		Quantity:       s.Quantity,
		UnitPrice:      toDecimal128(s.UnitPrice),
		TotalAmount:    toDecimal128(s.TotalAmount),
		DiscountAmount: toDecimal128(s.DiscountAmount),
		SaleDate:       s.SaleDate,
		SaleDateTime:   s.SaleDateTime,
		PaymentType:    string(s.PaymentType),
		CounterpartyID: s.CounterpartyID,
		ReceiptNumber:  s.ReceiptNumber,
		BatchID:        s.BatchID,
		CreatedAt:      s.CreatedAt,
	}
}

func (d ledgerDoc) model() models.LedgerEntry {
	return models.LedgerEntry{
		ID:            hexID(d.ID),
		ProductID:     d.ProductID,
		ChangeType:    models.ChangeType(d.ChangeType),
		Quantity:      d.Quantity,
		PreviousStock: d.PreviousStock,
		NewStock:      d.NewStock,
		Target:        d.Target,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt,
	}
}

func newLedgerDoc(e models.LedgerEntry) ledgerDoc {
	return ledgerDoc{
		ProductID:     e.ProductID,
		ChangeType:    string(e.ChangeType),
		Quantity:      e.Quantity,
		PreviousStock: e.PreviousStock,
		NewStock:      e.NewStock,
		Target:        e.Target,
		Note:          e.Note,
		CreatedAt:     e.CreatedAt,
	}
}

func (d approvalDoc) model() models.Approval {
	return models.Approval{
		ID:                hexID(d.ID),
		Channel:           models.Channel(d.Channel),
		ApprovalDate:      d.ApprovalDate,
		TerminalNumber:    d.TerminalNumber,
		TransactionNumber: d.TransactionNumber,
		CounterpartyName:  d.CounterpartyName,
		Amount:            fromDecimal128(d.Amount),
		Matched:           d.Matched,
		MatchedSaleIDs:    d.MatchedSaleIDs,
		UpdatedAt:         d.UpdatedAt,
	}
}

func newApprovalDoc(a models.Approval) approvalDoc {
	ids := a.MatchedSaleIDs
	if ids == nil {
		ids = []string{}
	}
	return approvalDoc{
		Channel:           string(a.Channel),
		ApprovalDate:      a.ApprovalDate,
		TerminalNumber:    a.TerminalNumber,
		TransactionNumber: a.TransactionNumber,
		ReceiptNumber:     a.Key().ReceiptNumber,
		CounterpartyName:  a.CounterpartyName,
		Amount:            toDecimal128(a.Amount),
		Matched:           a.Matched,
		MatchedSaleIDs:    ids,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (d counterpartyDoc) model() models.Counterparty {
	return models.Counterparty{
		ID:        hexID(d.ID),
		Channel:   models.Channel(d.Channel),
		Name:      d.Name,
		FeeRate:   fromDecimal128(d.FeeRate),
		CreatedAt: d.CreatedAt,
	}
}

func objectIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}
