package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/incast-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// buildTrainingReport formats the message sent once a user's model is trained
func (s *Sender) buildTrainingReport(to string, r2 float64, trainedAt time.Time) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Your income forecast model is ready"

	body := "Hello,\n\n"
	body += fmt.Sprintf(
		"Your salary forecasting model was retrained on %s.\n"+
			"Validation R2 score: %.4f\n"+
			"Upcoming salary forecasts will use the new model.\n",
		trainedAt.Format("2006-01-02 15:04:05"), r2,
	)
	body += "\nBest regards,\nIncast"
	e.Text = []byte(body)
	return e
}

// SendTrainingReport notifies the user that their model was trained
func (s *Sender) SendTrainingReport(to string, r2 float64) error {
	e := s.buildTrainingReport(to, r2, time.Now())

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send training report to %s: %v", to, err)
		return fmt.Errorf("failed to send training report: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}
