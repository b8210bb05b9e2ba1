package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/logger"
)

// SESAPI is the part of the SES v2 client the adapters use.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetEmailIdentity(ctx context.Context, in *sesv2.GetEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailIdentityOutput, error)
}

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client SESAPI
}

// NewSESSender loads AWS config for region. Static credentials are used
// when both keys are set; otherwise the default chain applies.
func NewSESSender(ctx context.Context, region, accessKey, secretKey string) (*SESSender, error) {
	client, err := newSESClient(ctx, region, accessKey, secretKey)
	if err != nil {
		return nil, err
	}
	return NewSESSenderWithClient(client), nil
}

// NewSESSenderWithClient wraps an existing client.
func NewSESSenderWithClient(client SESAPI) *SESSender {
	return &SESSender{client: client}
}

func newSESClient(ctx context.Context, region, accessKey, secretKey string) (*sesv2.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	log.Printf("[SES] Client initialised (region=%s)", region)
	return sesv2.NewFromConfig(cfg), nil
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{formatAddress(msg.ToName, msg.Email)}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("job_id"), Value: aws.String(msg.JobID)},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Warn("ses rejected message", "email", msg.Email, "job_id", msg.JobID, "error", err)
		return &domain.SendResult{Success: false, ESPType: domain.ESPSES, Error: err.Error()}, nil
	}

	return &domain.SendResult{
		Success:   true,
		MessageID: aws.ToString(out.MessageId),
		ESPType:   domain.ESPSES,
		SentAt:    time.Now(),
	}, nil
}

// SESDomainVerifier answers domain verification from SES identities. SES
// identities belong to the AWS account, so accountID does not narrow the
// lookup.
type SESDomainVerifier struct {
	client SESAPI
}

// NewSESDomainVerifier wraps an SES client.
func NewSESDomainVerifier(client SESAPI) *SESDomainVerifier {
	return &SESDomainVerifier{client: client}
}

// NewSESDomainVerifierFromConfig builds its own client.
func NewSESDomainVerifierFromConfig(ctx context.Context, region, accessKey, secretKey string) (*SESDomainVerifier, error) {
	client, err := newSESClient(ctx, region, accessKey, secretKey)
	if err != nil {
		return nil, err
	}
	return NewSESDomainVerifier(client), nil
}

func (v *SESDomainVerifier) IsVerified(ctx context.Context, _ string, domainName string) (bool, error) {
	if domainName == "" {
		return false, nil
	}
	out, err := v.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{EmailIdentity: aws.String(domainName)})
	if err != nil {
		var nf *types.NotFoundException
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("get ses identity %s: %w", domainName, err)
	}
	return out.VerifiedForSendingStatus, nil
}
