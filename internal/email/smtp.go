package email

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender implements the Sender interface using a direct SMTP connection
// via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string, attachments ...Attachment) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	for _, att := range attachments {
		msg.AttachReader(att.FileName, bytes.NewReader(att.Content))
	}

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendReportReceivedEmail(ctx context.Context, toEmail, reportTitle, trackingURL string) error {
	content, err := renderEmailTemplate("report_received.html", reportReceivedEmailData{
		baseEmailData: baseEmailData{
			Title:    "Segnalazione ricevuta",
			Heading:  "Abbiamo ricevuto la sua segnalazione",
			CTALabel: "Segui lo stato",
			CTAURL:   trackingURL,
		},
		ReportTitle: reportTitle,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectReportReceived, content)
}

func (s *SMTPSender) SendStatusUpdateEmail(ctx context.Context, toEmail, reportTitle, statusLine, trackingURL string) error {
	content, err := renderEmailTemplate("status_update.html", statusUpdateEmailData{
		baseEmailData: baseEmailData{
			Title:    "Aggiornamento segnalazione",
			Heading:  "La sua segnalazione è stata aggiornata",
			CTALabel: "Vedi dettagli",
			CTAURL:   trackingURL,
		},
		ReportTitle: reportTitle,
		StatusLine:  statusLine,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectStatusUpdateFmt, reportTitle), content)
}

func (s *SMTPSender) SendNewMessageEmail(ctx context.Context, toEmail, reportTitle, preview, trackingURL string) error {
	content, err := renderEmailTemplate("new_message.html", newMessageEmailData{
		baseEmailData: baseEmailData{
			Title:    "Nuovo messaggio",
			Heading:  "Nuovo messaggio sulla sua segnalazione",
			CTALabel: "Leggi il messaggio",
			CTAURL:   trackingURL,
		},
		ReportTitle: reportTitle,
		Preview:     preview,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectNewMessageFmt, reportTitle), content)
}

func (s *SMTPSender) SendVerificationEmail(ctx context.Context, toEmail, verifyURL string) error {
	content, err := renderEmailTemplate("verify_email.html", accountEmailData{
		baseEmailData: baseEmailData{
			Title:    "Conferma email",
			Heading:  "Conferma il tuo indirizzo email",
			CTALabel: "Conferma email",
			CTAURL:   verifyURL,
		},
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectVerifyEmail, content)
}

func (s *SMTPSender) SendPasswordResetEmail(ctx context.Context, toEmail, resetURL string) error {
	content, err := renderEmailTemplate("password_reset.html", accountEmailData{
		baseEmailData: baseEmailData{
			Title:    "Reimposta password",
			Heading:  "Richiesta di reimpostazione password",
			CTALabel: "Reimposta password",
			CTAURL:   resetURL,
		},
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectPasswordReset, content)
}
