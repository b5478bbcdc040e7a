package services

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"
)

var ErrEmailDisabled = errors.New("SMTP credentials not fully configured")

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type EmailService struct {
	cfg  EmailConfig
	send func(m *gomail.Message) error
}

func NewEmailService(cfg EmailConfig) *EmailService {
	s := &EmailService{cfg: cfg}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Password)
		return d.DialAndSend(m)
	}
	return s
}

func (s *EmailService) Enabled() bool {
	return s != nil && s.cfg.Host != "" && s.cfg.User != "" && s.cfg.Password != ""
}

func (s *EmailService) SendEmail(to []string, subject, htmlBody string) error {
	if !s.Enabled() {
		return ErrEmailDisabled
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	m := gomail.NewMessage()
	from := s.cfg.From
	if from == "" {
		from = s.cfg.User
	}
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>Payment received</h2>
  <p>Thank you! Your enrollment in <strong>{{.Batch}}</strong> is confirmed.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td>Subjects</td><td>{{.Subjects}}</td></tr>
    <tr><td>Amount paid</td><td>&#8377;{{.NetAmount}}</td></tr>
    <tr><td>Transaction ID</td><td>{{.TransactionID}}</td></tr>
    <tr><td>Order ID</td><td>{{.OrderID}}</td></tr>
  </table>
  <p>You can start learning from your dashboard right away.</p>
</body>
</html>`))

func RenderConfirmationEmail(c Confirmation) (string, error) {
	data := struct {
		Batch         string
		Subjects      string
		NetAmount     string
		TransactionID string
		OrderID       string
	}{
		Batch:         c.Batch,
		Subjects:      c.Subjects,
		NetAmount:     c.NetAmount.StringFixed(2),
		TransactionID: c.TransactionID,
		OrderID:       c.OrderID,
	}
	if data.TransactionID == "" {
		data.TransactionID = c.OrderID
	}

	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendPaymentConfirmation mails the confirmation to the customer.
func (s *EmailService) SendPaymentConfirmation(c Confirmation) error {
	body, err := RenderConfirmationEmail(c)
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	subject := "Enrollment confirmed"
	if c.Batch != "" {
		subject = "Enrollment confirmed: " + c.Batch
	}
	return s.SendEmail([]string{c.Email}, subject, body)
}
