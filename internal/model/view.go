package model

import "time"

type Reason string

const (
	ReasonNotFound Reason = "not_found"
	ReasonInactive Reason = "inactive"
	ReasonExpired  Reason = "expired"
)

func (r Reason) String() string { return string(r) }

// Summary is what a successful validation hands back to the caller.
type Summary struct {
	OwnerName       string    `json:"owner_name"`
	ContactName     string    `json:"contact_name"`
	SubscriptionEnd time.Time `json:"subscription_end"`
	DailyRequests   int       `json:"daily_requests"`
	MonthlyRequests int       `json:"monthly_requests"`
	LastAccess      time.Time `json:"last_access"`
}

// ValidationResult is the outcome of presenting a credential. Negative outcomes
// are carried in Reason, never as errors.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reason  Reason   `json:"reason,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

// View is the listing projection of a credential.
type View struct {
	Key               string     `json:"key"`
	FullKey           string     `json:"full_key,omitempty"`
	OwnerName         string     `json:"owner_name"`
	ContactName       string     `json:"contact_name"`
	ContactPhone      string     `json:"contact_phone"`
	Active            bool       `json:"active"`
	Status            Status     `json:"status"`
	SubscriptionStart time.Time  `json:"subscription_start"`
	SubscriptionEnd   time.Time  `json:"subscription_end"`
	LastAccess        *time.Time `json:"last_access"`
	DailyRequests     int        `json:"daily_requests"`
	MonthlyRequests   int        `json:"monthly_requests"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Redacted drops the full credential, leaving only the display prefix.
func (v View) Redacted() View {
	v.FullKey = ""
	return v
}

// Details is the full administrative projection of one credential.
type Details struct {
	View
	BillingInfo    *BillingInfo   `json:"billing_info,omitempty"`
	RequestHistory map[string]int `json:"request_history"`
	RequestCount   int            `json:"request_count"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// KeyPrefix shortens a credential for display and logs.
func KeyPrefix(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n] + "..."
}

func NewView(c *Credential) View {
	return View{
		Key:               KeyPrefix(c.ID, 8),
		FullKey:           c.ID,
		OwnerName:         c.OwnerName,
		ContactName:       c.ContactName,
		ContactPhone:      c.ContactPhone,
		Active:            c.Active,
		Status:            c.Status(),
		SubscriptionStart: c.SubscriptionStart,
		SubscriptionEnd:   c.SubscriptionEnd,
		LastAccess:        c.LastAccess,
		DailyRequests:     c.DailyRequests,
		MonthlyRequests:   c.MonthlyRequests,
		CreatedAt:         c.CreatedAt,
	}
}

func NewDetails(c *Credential) *Details {
	v := NewView(c)
	v.Key = KeyPrefix(c.ID, 12)

	history := make(map[string]int, len(c.RequestHistory))
	for day, n := range c.RequestHistory {
		history[day] = n
	}

	return &Details{
		View:           v,
		BillingInfo:    c.BillingInfo,
		RequestHistory: history,
		RequestCount:   c.DailyRequests + c.MonthlyRequests,
		UpdatedAt:      c.UpdatedAt,
	}
}
