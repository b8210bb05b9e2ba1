package domain

import "time"

// FanStatus enumerates a fan's subscription state.
type FanStatus string

const (
	FanSubscribed   FanStatus = "subscribed"
	FanUnsubscribed FanStatus = "unsubscribed"
)

// Fan is an addressable subscriber belonging to exactly one account.
// Only subscribed fans are eligible for a campaign send.
type Fan struct {
	ID           string         `json:"id" db:"id"`
	AccountID    string         `json:"account_id" db:"account_id"`
	Email        string         `json:"email" db:"email"`
	FirstName    string         `json:"first_name,omitempty" db:"first_name"`
	LastName     string         `json:"last_name,omitempty" db:"last_name"`
	Status       FanStatus      `json:"status" db:"status"`
	Tags         []string       `json:"tags" db:"tags"`
	CustomFields map[string]any `json:"custom_fields" db:"custom_fields"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// Eligible reports whether the fan may receive campaign sends.
func (f *Fan) Eligible() bool { return f.Status == FanSubscribed }

// HasTag reports whether the fan carries the given tag.
func (f *Fan) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
