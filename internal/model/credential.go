package model

import "time"

type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

func (s Status) String() string { return string(s) }

// BillingInfo is owned by its credential and has no lifecycle of its own.
type BillingInfo struct {
	CompanyName string `json:"company_name,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	TaxOffice   string `json:"tax_office,omitempty"`
	TaxNumber   string `json:"tax_number,omitempty" validate:"omitempty,min=10,max=11"`
	Address     string `json:"address,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// OwnerData is the identification payload supplied at issuance.
type OwnerData struct {
	OwnerName    string       `json:"owner_name" validate:"required,min=2"`
	ContactName  string       `json:"contact_name" validate:"required,min=2"`
	ContactPhone string       `json:"contact_phone" validate:"required,phone"`
	BillingInfo  *BillingInfo `json:"billing_info,omitempty"`
}

// Credential is the record persisted in the key-value store under its ID.
type Credential struct {
	ID           string       `json:"id"`
	OwnerName    string       `json:"owner_name"`
	ContactName  string       `json:"contact_name"`
	ContactPhone string       `json:"contact_phone"`
	BillingInfo  *BillingInfo `json:"billing_info,omitempty"`

	Active            bool       `json:"active"`
	SubscriptionStart time.Time  `json:"subscription_start"`
	SubscriptionEnd   time.Time  `json:"subscription_end"`
	LastAccess        *time.Time `json:"last_access"`

	RequestHistory  map[string]int `json:"request_history"` // YYYY-MM-DD (UTC) -> count
	DailyRequests   int            `json:"daily_requests"`
	MonthlyRequests int            `json:"monthly_requests"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Credential) Status() Status {
	if c.Active {
		return StatusActive
	}
	return StatusDeactivated
}

// ExpiredAt reports whether the subscription window has closed at now.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return now.After(c.SubscriptionEnd)
}

// Patch carries the fields an update may change; nil means "leave as is".
type Patch struct {
	OwnerName         *string       `json:"owner_name,omitempty" validate:"omitempty,min=2"`
	ContactName       *string       `json:"contact_name,omitempty" validate:"omitempty,min=2"`
	ContactPhone      *string       `json:"contact_phone,omitempty" validate:"omitempty,phone"`
	BillingInfo       *BillingPatch `json:"billing_info,omitempty"`
	SubscriptionStart *time.Time    `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time    `json:"subscription_end,omitempty"`
}

type BillingPatch struct {
	CompanyName *string `json:"company_name,omitempty"`
	ContactName *string `json:"contact_name,omitempty"`
	TaxOffice   *string `json:"tax_office,omitempty"`
	TaxNumber   *string `json:"tax_number,omitempty" validate:"omitempty,min=10,max=11"`
	Address     *string `json:"address,omitempty"`
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
}
