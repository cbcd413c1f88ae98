package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/smtp"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"scrapetok/internal/config"
)

// Sender delivers the "your question was answered" alert. Failures are the
// caller's to log; they never fail the admin request.
type Sender interface {
	SendAnswerAlert(ctx context.Context, toEmail, question, answer string) error
}

type LogSender struct{}

func (LogSender) SendAnswerAlert(ctx context.Context, toEmail, question, answer string) error {
	_ = ctx
	log.Printf("answer alert for %s question=%q", toEmail, question)
	return nil
}

type SMTPSender struct {
	host string
	port int
	from string
}

func NewSender(cfg config.Config) Sender {
	switch cfg.AlertSender {
	case "smtp":
		return SMTPSender{host: cfg.SMTPHost, port: cfg.SMTPPort, from: cfg.AlertFrom}
	default:
		return LogSender{}
	}
}

func (s SMTPSender) SendAnswerAlert(ctx context.Context, toEmail, question, answer string) error {
	_ = ctx
	raw, err := buildAnswerAlert(s.from, toEmail, question, answer)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{toEmail}, raw)
}

func buildAnswerAlert(from, to, question, answer string) ([]byte, error) {
	var h gomail.Header
	h.SetDate(time.Now().UTC())
	h.SetAddressList("From", []*gomail.Address{{Address: from}})
	h.SetAddressList("To", []*gomail.Address{{Address: to}})
	h.SetSubject("Your ScrapeTok question was answered")

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("Your question:\r\n\r\n%s\r\n\r\nAnswer:\r\n\r\n%s\r\n", question, answer)
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
