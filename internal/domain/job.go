package domain

import "time"

// JobState enumerates the lifecycle of a send job.
//
//	created → preparing → sending → {queued | complete} | failed
//
// queued means the job is accepted and waiting for its next worker tick.
// paused parks a job until an operator resumes it. complete and failed are
// terminal; a terminal job is never mutated again.
type JobState string

const (
	JobCreated   JobState = "created"
	JobPreparing JobState = "preparing"
	JobSending   JobState = "sending"
	JobQueued    JobState = "queued"
	JobPaused    JobState = "paused"
	JobComplete  JobState = "complete"
	JobFailed    JobState = "failed"
)

var jobTransitions = map[JobState][]JobState{
	JobCreated:   {JobQueued, JobPreparing, JobFailed},
	JobQueued:    {JobPreparing, JobSending, JobPaused, JobComplete, JobFailed},
	JobPreparing: {JobSending, JobFailed},
	JobSending:   {JobQueued, JobPaused, JobComplete, JobFailed},
	JobPaused:    {JobQueued, JobFailed},
}

// IsTerminal returns true for complete and failed.
func (s JobState) IsTerminal() bool { return s == JobComplete || s == JobFailed }

// CanTransition reports whether moving from s to next is a legal edge.
func (s JobState) CanTransition(next JobState) bool {
	for _, n := range jobTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// JobKind distinguishes a campaign's primary send from a retry of its failures.
type JobKind string

const (
	JobKindCampaign JobKind = "campaign"
	JobKindRetry    JobKind = "retry"
)

// SendError records one recipient that could not be delivered.
type SendError struct {
	RecipientID string    `json:"recipientId"`
	Email       string    `json:"email"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// SendJob is one in-flight execution of a campaign send, tracked
// independently of the campaign record. The recipient set is resolved once
// at enqueue time and snapshotted; Cursor indexes into that snapshot.
type SendJob struct {
	ID           string      `json:"id"`
	AccountID    string      `json:"accountId"`
	CampaignID   string      `json:"campaignId"`
	Kind         JobKind     `json:"kind"`
	State        JobState    `json:"state"`
	BatchSize    int         `json:"batchSize"`
	Total        int         `json:"total"`
	Cursor       int         `json:"cursor"`
	Processed    int         `json:"processed"`
	Succeeded    int         `json:"succeeded"`
	Failed       int         `json:"failed"`
	Progress     int         `json:"progress"`
	Errors       []SendError `json:"errors,omitempty"`
	FailedReason string      `json:"failedReason,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// Remaining returns how many snapshotted recipients have not been attempted.
func (j *SendJob) Remaining() int {
	if r := j.Total - j.Cursor; r > 0 {
		return r
	}
	return 0
}

// UpdateProgress recomputes the integer progress percentage from counters.
func (j *SendJob) UpdateProgress() {
	if j.Total <= 0 {
		j.Progress = 100
		return
	}
	j.Progress = j.Processed * 100 / j.Total
}

// Recipient is the copy of a fan taken when a job is enqueued. Later changes
// to the fan do not affect a job already in flight.
type Recipient struct {
	FanID     string `json:"fanId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// RecipientFromFan snapshots the addressable parts of f.
func RecipientFromFan(f *Fan) Recipient {
	return Recipient{FanID: f.ID, Email: f.Email, FirstName: f.FirstName, LastName: f.LastName}
}
