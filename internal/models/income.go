package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalaryCategory is the income category eligible for forecasting
const SalaryCategory = "SALARY"

// DateLayout is the YYYYMMDD layout used by the income API
const DateLayout = "20060102"

// IncomeRecord represents a single income returned by the expenses API
type IncomeRecord struct {
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"` // Format: YYYYMMDD
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

// ParsedDate parses Date using DateLayout
func (r IncomeRecord) ParsedDate() (time.Time, error) {
	return time.Parse(DateLayout, r.Date)
}

// GetIncomesResponse is the body of GET /incomes
type GetIncomesResponse struct {
	Incomes []IncomeRecord `json:"incomes"`
}
