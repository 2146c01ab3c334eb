package mongodb

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/possync/reconcile/internal/domain/models"
)

func TestDecimal128KeepsScale(t *testing.T) {
	for _, raw := range []string{"0", "15000", "2.75", "-1200.5"} {
		d := decimal.RequireFromString(raw)
		assert.True(t, d.Equal(fromDecimal128(toDecimal128(d))), raw)
	}
}

func TestApprovalDocCarriesReceiptNumber(t *testing.T) {
	doc := newApprovalDoc(models.Approval{
		Channel:           models.ChannelCard,
		ApprovalDate:      "2025-10-29",
		TerminalNumber:    "001",
		TransactionNumber: "00045",
	})
	assert.Equal(t, "00100045", doc.ReceiptNumber)
	assert.NotNil(t, doc.MatchedSaleIDs)
	assert.True(t, doc.ID.IsZero())
}

func TestObjectIDsSkipsForeignIDs(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, []primitive.ObjectID{oid}, objectIDs([]string{oid.Hex(), "not-an-id"}))
	assert.Equal(t, "", hexID(primitive.NilObjectID))
}
