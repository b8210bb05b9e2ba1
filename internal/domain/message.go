package domain

import (
	"strings"
	"time"
)

// ESPType identifies the outbound email provider.
type ESPType string

const (
	ESPSES       ESPType = "ses"
	ESPSparkPost ESPType = "sparkpost"
	ESPLog       ESPType = "log"
)

// EmailMessage is one rendered message addressed to one recipient.
type EmailMessage struct {
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	CampaignID  string            `json:"campaign_id"`
	RecipientID string            `json:"recipient_id"`
	Email       string            `json:"email"`
	ToName      string            `json:"to_name,omitempty"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is the provider's answer for one message.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id"`
	ESPType   ESPType   `json:"esp_type"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}

// SendingDomain is a From domain registered by an account.
type SendingDomain struct {
	ID         string     `json:"id" db:"id"`
	AccountID  string     `json:"account_id" db:"account_id"`
	Domain     string     `json:"domain" db:"domain"`
	Verified   bool       `json:"verified" db:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`
}

// DomainOf returns the lower-cased domain part of an address, or "".
func DomainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
