package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/httpretry"
	"github.com/ignite/fanmail/internal/pkg/logger"
)

const defaultSparkPostURL = "https://api.sparkpost.com/api/v1"

// SparkPostSender sends emails via the SparkPost Transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSparkPostSender creates a sender. An empty baseURL targets the public
// v1 API; a nil client retries transient failures three times.
func NewSparkPostSender(apiKey, baseURL string, client httpretry.HTTPDoer) *SparkPostSender {
	if baseURL == "" {
		baseURL = defaultSparkPostURL
	}
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &SparkPostSender{apiKey: apiKey, baseURL: baseURL, client: client}
}

type sparkPostAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sparkPostRecipient struct {
	Address sparkPostAddress `json:"address"`
}

type sparkPostTransmission struct {
	Recipients []sparkPostRecipient `json:"recipients"`
	Content    struct {
		From    sparkPostAddress  `json:"from"`
		Subject string            `json:"subject"`
		HTML    string            `json:"html"`
		Headers map[string]string `json:"headers,omitempty"`
	} `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Send delivers a single email through SparkPost.
func (s *SparkPostSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	var t sparkPostTransmission
	t.Recipients = []sparkPostRecipient{{Address: sparkPostAddress{Email: msg.Email, Name: msg.ToName}}}
	t.Content.From = sparkPostAddress{Email: msg.FromEmail, Name: msg.FromName}
	t.Content.Subject = msg.Subject
	t.Content.HTML = msg.HTMLContent
	t.Content.Headers = msg.Headers
	t.Metadata = map[string]string{"campaign_id": msg.CampaignID, "job_id": msg.JobID, "recipient_id": msg.RecipientID}

	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode transmission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparkpost transmission: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		logger.Warn("sparkpost rejected message", "email", msg.Email, "status", resp.StatusCode)
		return &domain.SendResult{
			Success: false,
			ESPType: domain.ESPSparkPost,
			Error:   fmt.Sprintf("sparkpost error %d: %s", resp.StatusCode, bytes.TrimSpace(raw)),
		}, nil
	}

	var out struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Warn("sparkpost response not understood", "status", resp.StatusCode, "error", err)
	}
	return &domain.SendResult{
		Success:   true,
		MessageID: out.Results.ID,
		ESPType:   domain.ESPSparkPost,
		SentAt:    time.Now(),
	}, nil
}
