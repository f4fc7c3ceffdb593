// internal/model/contact.go
package model

import "time"

type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactFailed    ContactStatus = "failed"
	ContactSucceeded ContactStatus = "succeeded"
)

type CampaignContact struct {
	ID              string        `db:"id" json:"id"`
	CampaignID      string        `db:"campaign_id" json:"campaignId"`
	PhoneNumber     string        `db:"phone_number" json:"phoneNumber"`
	CustomerName    string        `db:"customer_name" json:"customerName,omitempty"`
	DebtAmount      float64       `db:"debt_amount" json:"debtAmount"`
	LastPaymentDate *time.Time    `db:"last_payment_date" json:"lastPaymentDate,omitempty"`
	Attempts        int           `db:"attempts" json:"attempts"`
	Status          ContactStatus `db:"status" json:"status"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

const (
	highDebtThreshold      = 10000
	stalePaymentCutoffDays = 90
)

// CallPriority ranks a contact: large debts and stale payers are dialed first.
func (c CampaignContact) CallPriority(now time.Time) Priority {
	if c.DebtAmount > highDebtThreshold {
		return PriorityHigh
	}
	if c.LastPaymentDate != nil {
		days := now.Sub(*c.LastPaymentDate).Hours() / 24
		if days > stalePaymentCutoffDays {
			return PriorityHigh
		}
	}
	return PriorityNormal
}
