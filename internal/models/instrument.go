package models

import "time"

// InstrumentType distinguishes stored-balance debit instruments from
// credit cards charged through the external processor.
type InstrumentType string

const (
	InstrumentDebit  InstrumentType = "debito"
	InstrumentCredit InstrumentType = "credito"
)

// PaymentInstrument is a customer's saved card.
type PaymentInstrument struct {
	ID         string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CustomerID string         `json:"customer_id" gorm:"index;type:varchar(36);not null"`
	Type       InstrumentType `json:"type" gorm:"type:varchar(10);not null"`
	Brand      string         `json:"brand" gorm:"size:30"`
	Last4      string         `json:"last4" gorm:"size:4"`
	Active     bool           `json:"active"`
	ExpMonth   int            `json:"exp_month"`
	ExpYear    int            `json:"exp_year"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Expired reports whether the card is past the last day of its expiry month.
func (p *PaymentInstrument) Expired(now time.Time) bool {
	if p.ExpYear == 0 {
		return false
	}
	firstOfNext := time.Date(p.ExpYear, time.Month(p.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(firstOfNext)
}

// InstrumentCheck is the validated view of an instrument.
type InstrumentCheck struct {
	InstrumentID string
	Active       bool
	Expired      bool
	Type         InstrumentType
	Last4        string
	Brand        string
}
