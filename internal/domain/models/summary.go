package models

// SalesFileSummary is the per-file outcome of a sales ingestion.
type SalesFileSummary struct {
	FileName                string      `json:"file_name"`
	BatchID                 string      `json:"batch_id,omitempty"`
	ParsedRows              int         `json:"parsed_rows"`
	AcceptedCount           int         `json:"accepted_count"`
	OverwrittenReceiptCount int         `json:"overwritten_receipt_count"`
	ReattributedSaleCount   int         `json:"reattributed_sale_count"`
	UnmatchedProductErrors  ErrorSample `json:"unmatched_product_errors"`
	InsufficientStockErrors ErrorSample `json:"insufficient_stock_errors"`
	PersistenceErrors       ErrorSample `json:"persistence_errors"`
	ParseError              string      `json:"parse_error,omitempty"`
	Attempts                int         `json:"attempts"`
}

// NewSalesFileSummary prepares an empty summary with bounded samples.
func NewSalesFileSummary(fileName string, sampleSize int) SalesFileSummary {
	return SalesFileSummary{
		FileName:                fileName,
		UnmatchedProductErrors:  NewErrorSample(sampleSize),
		InsufficientStockErrors: NewErrorSample(sampleSize),
		PersistenceErrors:       NewErrorSample(sampleSize),
	}
}

// Failed reports whether the file did not reconcile.
func (s SalesFileSummary) Failed() bool {
	return s.ParseError != "" || s.PersistenceErrors.Count > 0
}

// ApprovalSummary is the outcome of an approval ingestion or re-matching pass.
type ApprovalSummary struct {
	FileName           string      `json:"file_name,omitempty"`
	Channel            Channel     `json:"channel,omitempty"`
	ParsedRows         int         `json:"parsed_rows"`
	MatchedCount       int         `json:"matched_count"`
	UpdatedSaleCount   int         `json:"updated_sale_count"`
	UnmatchedApprovals ErrorSample `json:"unmatched_approvals"`
	PersistenceErrors  ErrorSample `json:"persistence_errors"`
	ParseError         string      `json:"parse_error,omitempty"`
}

// NewApprovalSummary prepares an empty summary with bounded samples.
func NewApprovalSummary(fileName string, channel Channel, sampleSize int) ApprovalSummary {
	return ApprovalSummary{
		FileName:           fileName,
		Channel:            channel,
		UnmatchedApprovals: NewErrorSample(sampleSize),
		PersistenceErrors:  NewErrorSample(sampleSize),
	}
}

// Failed reports whether the batch did not complete.
func (s ApprovalSummary) Failed() bool {
	return s.ParseError != "" || s.PersistenceErrors.Count > 0
}
