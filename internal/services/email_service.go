package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESMailer sends account emails using AWS SES. All callers invoke it
// fire-and-forget; a delivery failure never reaches a request path.
type SESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewSESMailer creates a new AWS SES mailer
func NewSESMailer(region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendWelcome greets a newly registered account.
func (m *SESMailer) SendWelcome(ctx context.Context, to string) error {
	subject := "Welcome to Tripmesh"
	body := "Your Tripmesh account is ready. Start planning your first trip at https://tripmesh.app.\n\n" +
		"If you did not create this account, you can ignore this email."
	return m.send(ctx, to, subject, body)
}

// SendSecurityAlert notifies the account owner of a security-sensitive
// event such as logout-all.
func (m *SESMailer) SendSecurityAlert(ctx context.Context, to, event string) error {
	subject := "Tripmesh security notice"
	var body string
	switch event {
	case "logout_all":
		body = "All devices were just signed out of your Tripmesh account. " +
			"If this wasn't you, please change your password immediately."
	default:
		body = "There was recent security-related activity on your Tripmesh account. " +
			"If this wasn't you, please change your password immediately."
	}
	return m.send(ctx, to, subject, body)
}

func (m *SESMailer) send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := m.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent", slog.String("subject", subject))
	return nil
}
