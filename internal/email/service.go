package email

import (
	"fmt"
	"net/smtp"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service sends HTML mail through an SMTP relay.
type Service struct {
	host     string
	port     string
	from     string
	auth     smtp.Auth
	sendMail sendFunc
}

func NewService(host, port, from string) *Service {
	return &Service{
		host:     host,
		port:     port,
		from:     from,
		sendMail: smtp.SendMail,
	}
}

// WithAuth enables PLAIN authentication against the relay.
func (s *Service) WithAuth(username, password string) *Service {
	if username != "" {
		s.auth = smtp.PlainAuth("", username, password, s.host)
	}
	return s
}

// SendPaymentConfirmation mails the receipt for a paid order.
func (s *Service) SendPaymentConfirmation(to string, c Confirmation) error {
	body, err := BuildPaymentConfirmationBody(c)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Payment received for order %s", shortID(c.OrderID))
	return s.send(to, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return s.sendMail(addr, s.auth, s.from, []string{to}, []byte(msg))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
