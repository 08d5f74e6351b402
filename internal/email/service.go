// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-wayfarer"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, strings.ToUpper(currency))
}

// SendPaymentReceipt confirms a successful payment to the payer.
func (s *Service) SendPaymentReceipt(to, name, description string, amountCents int64, currency string) error {
	data := receiptData{
		AppName:     "Wayfarer",
		Name:        name,
		Description: description,
		Amount:      formatAmount(amountCents, currency),
	}
	html, err := renderTemplate(receiptTemplate, data)
	if err != nil {
		return fmt.Errorf("render receipt template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Payment received", html)
}

// SendTicketConfirmation confirms paid shared-tour seats.
func (s *Service) SendTicketConfirmation(to, holderName, tourName string, seats int) error {
	data := ticketData{
		AppName:    "Wayfarer",
		HolderName: holderName,
		TourName:   tourName,
		Seats:      seats,
	}
	html, err := renderTemplate(ticketTemplate, data)
	if err != nil {
		return fmt.Errorf("render ticket template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("Your tickets for %s", tourName), html)
}

// SendTipThanks tells a driver a tip has been paid out.
func (s *Service) SendTipThanks(to, driverName string, amountCents int64, currency string) error {
	data := tipData{
		AppName:    "Wayfarer",
		DriverName: driverName,
		Amount:     formatAmount(amountCents, currency),
	}
	html, err := renderTemplate(tipTemplate, data)
	if err != nil {
		return fmt.Errorf("render tip template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "You received a tip!", html)
}

// SendOfferNotification tells a driver a new tour offer is waiting.
func (s *Service) SendOfferNotification(to, driverName, tourName string, start time.Time, payoutCents int64, expiresAt time.Time) error {
	data := offerData{
		AppName:    "Wayfarer",
		DriverName: driverName,
		TourName:   tourName,
		StartDate:  start.Format("Mon 2 Jan 2006"),
		Payout:     formatAmount(payoutCents, "gbp"),
		ExpiresAt:  expiresAt.Format("Mon 2 Jan 15:04"),
	}
	html, err := renderTemplate(offerTemplate, data)
	if err != nil {
		return fmt.Errorf("render offer template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("New tour offer: %s", tourName), html)
}

// SendOfferAccepted confirms an accepted assignment to the driver (and ops).
func (s *Service) SendOfferAccepted(to, driverName, tourName, reference string, start time.Time) error {
	data := acceptedData{
		AppName:    "Wayfarer",
		DriverName: driverName,
		TourName:   tourName,
		Reference:  reference,
		StartDate:  start.Format("Mon 2 Jan 2006"),
	}
	html, err := renderTemplate(acceptedTemplate, data)
	if err != nil {
		return fmt.Errorf("render accepted template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("Assignment confirmed: %s", reference), html)
}

// SendVerificationEmail sends an email verification email
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := verificationData{
		AppName:         "Wayfarer",
		UserName:        userName,
		VerificationURL: verificationURL,
	}
	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Verify your Wayfarer account", html)
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := passwordResetData{
		AppName:  "Wayfarer",
		UserName: userName,
		ResetURL: resetURL,
	}
	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Reset your Wayfarer password", html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
