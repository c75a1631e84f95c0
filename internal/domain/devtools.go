package domain

// ============================================================
// Dev Tools: endpoints for development/testing
// ============================================================

// DevSeedHistoryRequest is the body for PUT /v1/dev/history.
type DevSeedHistoryRequest struct {
	History          PaymentMethodHistory `json:"history"`
	AccountAgeMonths *int                 `json:"accountAgeMonths,omitempty"`
}

// DevGenerateHistoryRequest is the body for POST /v1/dev/generate-history.
type DevGenerateHistoryRequest struct {
	CustomerID       string        `json:"customerId"`
	PaymentType      PaymentType   `json:"paymentType"`
	Transactions     int           `json:"transactions"`     // default 20, max 500
	Issues           int           `json:"issues"`           // random severities
	PaymentDetails   string        `json:"paymentDetails"`   // recorded as a verified account when set
	AccountAgeMonths int           `json:"accountAgeMonths"` // default 24
	Severity         IssueSeverity `json:"severity,omitempty"`
}

// DevHistoryResponse is returned by the history dev tools.
type DevHistoryResponse struct {
	Success bool                  `json:"success"`
	History *PaymentMethodHistory `json:"history"`
	Message string                `json:"message"`
}
