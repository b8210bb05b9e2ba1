package domain

import (
	"encoding/json"
	"time"
)

// Segment is a saved, named predicate over an account's fans. FanCount is a
// cached value and may be stale; it is recomputed on demand.
type Segment struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	Name         string          `json:"name" db:"name"`
	Description  string          `json:"description,omitempty" db:"description"`
	Conditions   json.RawMessage `json:"conditions" db:"conditions"`
	FanCount     int             `json:"fan_count" db:"fan_count"`
	CalculatedAt *time.Time      `json:"calculated_at,omitempty" db:"calculated_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
