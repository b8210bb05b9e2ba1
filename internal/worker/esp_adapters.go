// Package worker drains send jobs from the queue and delivers their
// recipients through an email provider.
//
// ESP adapters are split into individual files:
//   - esp_ses.go:       AWS SES v2, plus SES identity lookups for domain verification
//   - esp_sparkpost.go: SparkPost Transmissions API
//   - esp_adapters.go:  the Sender contract and the log-only sender used in development
package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/logger"
)

// Sender delivers one email through a provider. Implementations must be
// safe for concurrent use and honour ctx cancellation.
//
// A provider that answered but refused the message returns a result with
// Success=false and a nil error. Transport failures return an error.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)

func (f SenderFunc) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	return f(ctx, msg)
}

// LogSender accepts every message and only logs it. Used when no provider
// credentials are configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	logger.Debug("log sender accepted message",
		"job_id", msg.JobID, "campaign_id", msg.CampaignID, "email", msg.Email, "message_id", id)
	return &domain.SendResult{Success: true, MessageID: id, ESPType: domain.ESPLog, SentAt: time.Now()}, nil
}

// ProviderConfig selects and configures the outbound provider.
type ProviderConfig struct {
	Provider        string
	SESRegion       string
	SESAccessKey    string
	SESSecretKey    string
	SparkPostAPIKey string
	SparkPostURL    string
}

// NewSender builds the Sender named by cfg.Provider.
func NewSender(ctx context.Context, cfg ProviderConfig) (Sender, error) {
	switch domain.ESPType(strings.ToLower(cfg.Provider)) {
	case domain.ESPSES:
		return NewSESSender(ctx, cfg.SESRegion, cfg.SESAccessKey, cfg.SESSecretKey)
	case domain.ESPSparkPost:
		if cfg.SparkPostAPIKey == "" {
			return nil, fmt.Errorf("sparkpost provider selected but no API key configured")
		}
		return NewSparkPostSender(cfg.SparkPostAPIKey, cfg.SparkPostURL, nil), nil
	case domain.ESPLog, "":
		log.Printf("[Sender] Using log sender, no email will leave this process")
		return LogSender{}, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
