package domain

import (
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignFailed    CampaignStatus = "failed"
	CampaignPaused    CampaignStatus = "paused"
)

// Campaign is a unit of outbound content owned by one account.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	AccountID   string         `json:"account_id" db:"account_id"`
	Name        string         `json:"name" db:"name"`
	Subject     string         `json:"subject" db:"subject"`
	Content     string         `json:"content" db:"content"`
	FromName    string         `json:"from_name" db:"from_name"`
	FromEmail   string         `json:"from_email" db:"from_email"`
	Status      CampaignStatus `json:"status" db:"status"`
	SentCount   int            `json:"sent_count" db:"sent_count"`
	FailedCount int            `json:"failed_count" db:"failed_count"`
	LastJobID   string         `json:"last_job_id,omitempty" db:"last_job_id"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed
}

// HasLiveJob reports whether a send job currently owns the campaign.
func (c *Campaign) HasLiveJob() bool {
	switch c.Status {
	case CampaignScheduled, CampaignSending, CampaignPaused:
		return true
	}
	return false
}

// HasContent reports whether the campaign carries a subject and a body.
func (c *Campaign) HasContent() bool {
	return strings.TrimSpace(c.Subject) != "" && strings.TrimSpace(c.Content) != ""
}
