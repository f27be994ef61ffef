// Package email delivers transactional mail for report events. Citizens
// without an open session get mail instead of a live push; staff never do.
package email

import (
	"context"

	"civicreport_backend/platform/config"
)

// Attachment is an inline file attached to an outgoing email.
type Attachment struct {
	FileName string
	Content  []byte
}

// Sender is the outbound email contract. SMTPSender is the production
// implementation; NoopSender serves environments without SMTP configured.
type Sender interface {
	SendReportReceivedEmail(ctx context.Context, toEmail, reportTitle, trackingURL string) error
	SendStatusUpdateEmail(ctx context.Context, toEmail, reportTitle, statusLine, trackingURL string) error
	SendNewMessageEmail(ctx context.Context, toEmail, reportTitle, preview, trackingURL string) error
	SendVerificationEmail(ctx context.Context, toEmail, verifyURL string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, resetURL string) error
}

// NoopSender discards all email. Used when SMTP is not configured and in
// tests.
type NoopSender struct{}

func (NoopSender) SendReportReceivedEmail(ctx context.Context, toEmail, reportTitle, trackingURL string) error {
	return nil
}

func (NoopSender) SendStatusUpdateEmail(ctx context.Context, toEmail, reportTitle, statusLine, trackingURL string) error {
	return nil
}

func (NoopSender) SendNewMessageEmail(ctx context.Context, toEmail, reportTitle, preview, trackingURL string) error {
	return nil
}

func (NoopSender) SendVerificationEmail(ctx context.Context, toEmail, verifyURL string) error {
	return nil
}

func (NoopSender) SendPasswordResetEmail(ctx context.Context, toEmail, resetURL string) error {
	return nil
}

var _ Sender = NoopSender{}

// NewSender builds the configured Sender: SMTP when email is enabled,
// otherwise a no-op.
func NewSender(cfg config.EmailConfig) Sender {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	)
}
